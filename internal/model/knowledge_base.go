package model

type KnowledgeBase struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	// Collection is the vector-store collection holding this KB's segments.
	Collection  string         `json:"collection"`
	ChunkConfig ChunkingConfig `json:"chunk_config"`
	Ctime       int64          `json:"ctime"`
	Mtime       int64          `json:"mtime"`
}
