package task

import (
	"errors"
	"time"
)

type Kind string

const (
	KindIngest       Kind = "ingest"
	KindRechunkAll   Kind = "rechunk_all"
	KindRebuildIndex Kind = "rebuild_index"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusReceived  Status = "received"
	StatusRunning   Status = "running"
	StatusProgress  Status = "progress"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// Terminal statuses are final; a task never leaves one.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

func (s Status) Active() bool {
	return s == StatusRunning || s == StatusProgress
}

var (
	ErrNotFound        = errors.New("task not found")
	ErrAlreadyTerminal = errors.New("task already terminal")
)

type Task struct {
	ID              string    `json:"id"`
	Kind            Kind      `json:"kind"`
	KnowledgeBaseID string    `json:"knowledge_base_id"`
	DocumentID      string    `json:"document_id,omitempty"`
	ParentID        string    `json:"parent_id,omitempty"`
	Status          Status    `json:"status"`
	Progress        float64   `json:"progress"`
	Message         string    `json:"message,omitempty"`
	Error           string    `json:"error,omitempty"`
	CancelRequested bool      `json:"cancel_requested"`
	Children        []string  `json:"children,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	CompletedAt     time.Time `json:"completed_at,omitzero"`
}

// Filter narrows List/Count/Cleanup. Zero values match everything.
type Filter struct {
	Kind            Kind
	Status          Status
	KnowledgeBaseID string
}

func (f Filter) matches(t *Task) bool {
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.KnowledgeBaseID != "" && t.KnowledgeBaseID != f.KnowledgeBaseID {
		return false
	}
	return true
}
