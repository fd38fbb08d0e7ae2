package model

type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusReady      DocumentStatus = "ready"
	DocumentStatusError      DocumentStatus = "error"
)

// Document is an immutable uploaded blob. Reprocessing the same logical file
// with new bytes creates a new content hash, never rewrites an existing one.
type Document struct {
	ID              string         `json:"id"`
	KnowledgeBaseID string         `json:"knowledge_base_id"`
	Name            string         `json:"name"`
	MimeType        string         `json:"mime_type"`
	SizeBytes       int64          `json:"size_bytes"`
	ContentHash     string         `json:"content_hash"`
	Status          DocumentStatus `json:"status"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	SegmentCount    int            `json:"segment_count"`
	Ctime           int64          `json:"ctime"`
	Mtime           int64          `json:"mtime"`
}
