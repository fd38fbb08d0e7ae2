package task

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry tracks the lifecycle of every submitted job. It is an injectable
// object with its own locking so independent instances never interfere; the
// worker pool mutates it, everything else only reads.
type Registry struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	cancels map[string]context.CancelFunc
}

func NewRegistry() *Registry {
	return &Registry{
		tasks:   make(map[string]*Task),
		cancels: make(map[string]context.CancelFunc),
	}
}

func (r *Registry) Create(kind Kind, kbID, documentID string) Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &Task{
		ID:              uuid.NewString(),
		Kind:            kind,
		KnowledgeBaseID: kbID,
		DocumentID:      documentID,
		Status:          StatusPending,
		CreatedAt:       time.Now(),
	}
	r.tasks[t.ID] = t
	return *copyTask(t)
}

// CreateChild creates a task linked under parentID for fan-out jobs.
func (r *Registry) CreateChild(parentID string, kind Kind, kbID, documentID string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	parent, ok := r.tasks[parentID]
	if !ok {
		return Task{}, ErrNotFound
	}
	t := &Task{
		ID:              uuid.NewString(),
		Kind:            kind,
		KnowledgeBaseID: kbID,
		DocumentID:      documentID,
		ParentID:        parentID,
		Status:          StatusPending,
		CreatedAt:       time.Now(),
	}
	r.tasks[t.ID] = t
	parent.Children = append(parent.Children, t.ID)
	return *copyTask(t), nil
}

func (r *Registry) Get(id string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return *copyTask(t), nil
}

func (r *Registry) List(f Filter, limit, offset int) []Task {
	r.mu.RLock()
	matched := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if f.matches(t) {
			matched = append(matched, copyTask(t))
		}
	}
	r.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	out := make([]Task, 0, len(matched))
	for _, t := range matched {
		out = append(out, *t)
	}
	return out
}

func (r *Registry) Count(f Filter) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, t := range r.tasks {
		if f.matches(t) {
			count++
		}
	}
	return count
}

func (r *Registry) MarkReceived(id string) error {
	return r.transition(id, StatusReceived, "", func(t *Task) bool {
		return t.Status == StatusPending
	})
}

func (r *Registry) MarkRunning(id string) error {
	return r.transition(id, StatusRunning, "", func(t *Task) bool {
		if t.Status != StatusPending && t.Status != StatusReceived {
			return false
		}
		t.StartedAt = time.Now()
		return true
	})
}

func (r *Registry) UpdateProgress(id string, percent float64, message string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return r.transition(id, StatusProgress, "", func(t *Task) bool {
		if !t.Status.Active() {
			return false
		}
		t.Progress = percent
		t.Message = message
		return true
	})
}

// MarkTerminal moves a task into a final status. Completed tasks always read
// 100% regardless of the last reported batch progress.
func (r *Registry) MarkTerminal(id string, status Status, errMsg string) error {
	if !status.Terminal() {
		return errors.New("status is not terminal")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	t.Status = status
	t.Error = errMsg
	t.CompletedAt = time.Now()
	if status == StatusCompleted {
		t.Progress = 100
	}
	delete(r.cancels, id)
	return nil
}

// BindCancel registers the context cancel for the in-flight unit of work so
// a force cancel can interrupt it at the next checkpoint.
func (r *Registry) BindCancel(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok && !t.Status.Terminal() {
		r.cancels[id] = cancel
	}
}

func (r *Registry) CancelRequested(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return ok && t.CancelRequested
}

// RequestCancel flags a task for cancellation. Tasks that no worker picked
// up yet transition to cancelled immediately; running work observes the flag
// at its next checkpoint. With recursive the flag is applied depth-first to
// all children before the parent; with force the bound cancel function is
// invoked to interrupt the current batch.
func (r *Registry) RequestCancel(id string, force, recursive bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	r.cancelLocked(id, force, recursive)
	return nil
}

func (r *Registry) cancelLocked(id string, force, recursive bool) {
	t, ok := r.tasks[id]
	if !ok || t.Status.Terminal() {
		return
	}
	if recursive {
		for _, childID := range t.Children {
			r.cancelLocked(childID, force, recursive)
		}
	}
	t.CancelRequested = true
	switch t.Status {
	case StatusPending, StatusReceived:
		// Nothing is in flight; no I/O has happened and none will.
		t.Status = StatusCancelled
		t.CompletedAt = time.Now()
		delete(r.cancels, t.ID)
	default:
		if force {
			if cancel, ok := r.cancels[t.ID]; ok {
				cancel()
			}
		}
	}
}

// Cleanup removes terminal tasks that completed before the cutoff. It is
// invoked only by an explicit operator action or a configured retention job,
// never as a side effect.
func (r *Registry) Cleanup(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, t := range r.tasks {
		if t.Status.Terminal() && !t.CompletedAt.IsZero() && t.CompletedAt.Before(cutoff) {
			delete(r.tasks, id)
			delete(r.cancels, id)
			removed++
		}
	}
	return removed
}

// Await blocks until the task reaches a terminal status or the context ends.
func (r *Registry) Await(ctx context.Context, id string) (Task, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		t, err := r.Get(id)
		if err != nil {
			return Task{}, err
		}
		if t.Status.Terminal() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Registry) transition(id string, status Status, errMsg string, apply func(*Task) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	if !apply(t) {
		return ErrAlreadyTerminal
	}
	t.Status = status
	if errMsg != "" {
		t.Error = errMsg
	}
	return nil
}

func copyTask(t *Task) *Task {
	clone := *t
	if len(t.Children) > 0 {
		clone.Children = append([]string(nil), t.Children...)
	}
	return &clone
}
