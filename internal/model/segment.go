package model

// Segment is one retrievable slice of a document. Positions are 0-based and
// contiguous within a document; segments are replaced wholesale on rechunk.
type Segment struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Position   int    `json:"position"`
	Content    string `json:"content"`
	// OverlapLen is the number of leading runes carried over from the previous
	// segment. Stripping it from every segment and concatenating the rest
	// reproduces the original document text.
	OverlapLen  int    `json:"overlap_len"`
	TokenCount  int    `json:"token_count"`
	ContentHash string `json:"content_hash"`
}
