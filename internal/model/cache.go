package model

// ChunkCacheEntry maps (document content hash, config hash) to a previously
// computed segment list. Entries never expire on their own; only an explicit
// cache clear removes them.
type ChunkCacheEntry struct {
	ContentHash string    `json:"content_hash"`
	ConfigHash  string    `json:"config_hash"`
	Segments    []Segment `json:"segments"`
	Ctime       int64     `json:"ctime"`
}

// EmbeddingCacheEntry maps (segment content hash, embedding model) to a vector.
type EmbeddingCacheEntry struct {
	ModelName   string    `json:"model_name"`
	ContentHash string    `json:"content_hash"`
	Embedding   []float32 `json:"embedding"`
	Ctime       int64     `json:"ctime"`
}
