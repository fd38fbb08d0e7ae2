package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragkit/ragkit/internal/ai"
	"github.com/ragkit/ragkit/internal/chunkcache"
	"github.com/ragkit/ragkit/internal/chunker"
	"github.com/ragkit/ragkit/internal/model"
	pkgerrors "github.com/ragkit/ragkit/internal/pkg/errors"
	"github.com/ragkit/ragkit/internal/task"
	"github.com/ragkit/ragkit/internal/vector"
)

type mockEmbedder struct {
	mu       sync.Mutex
	calls    int
	failWith error
	gate     chan struct{}
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	failWith := m.failWith
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failWith != nil {
		return nil, failWith
	}
	return []float32{float32(len(text)), 1, 2}, nil
}

func (m *mockEmbedder) ModelName() string { return "mock-embed-001" }

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type memDocs struct {
	mu   sync.Mutex
	docs map[string]*model.Document
}

func newMemDocs() *memDocs { return &memDocs{docs: map[string]*model.Document{}} }

func (s *memDocs) add(doc model.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = &doc
}

func (s *memDocs) Get(ctx context.Context, id string) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	clone := *doc
	return &clone, nil
}

func (s *memDocs) ListByKnowledgeBase(ctx context.Context, kbID string, limit, offset int) ([]model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Document
	for _, doc := range s.docs {
		if doc.KnowledgeBaseID == kbID {
			out = append(out, *doc)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *memDocs) UpdateStatus(ctx context.Context, id string, status model.DocumentStatus, errMsg string, segmentCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return pkgerrors.ErrNotFound
	}
	doc.Status = status
	doc.ErrorMessage = errMsg
	doc.SegmentCount = segmentCount
	return nil
}

type memKBs struct {
	mu  sync.Mutex
	kbs map[string]*model.KnowledgeBase
}

func (s *memKBs) Get(ctx context.Context, id string) (*model.KnowledgeBase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kb, ok := s.kbs[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	clone := *kb
	return &clone, nil
}

type memSegments struct {
	mu       sync.Mutex
	segments map[string][]model.Segment
}

func (s *memSegments) ReplaceForDocument(ctx context.Context, documentID string, segments []model.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.segments == nil {
		s.segments = map[string][]model.Segment{}
	}
	s.segments[documentID] = append([]model.Segment(nil), segments...)
	return nil
}

type memBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (s *memBlobs) put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blobs == nil {
		s.blobs = map[string][]byte{}
	}
	s.blobs[key] = data
}

func (s *memBlobs) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// recordingVectors keeps rows keyed by segment id, like the real store, so
// tests can prove both that cancelled work touched nothing and that a
// re-ingest leaves no stale rows behind.
type recordingVectors struct {
	mu       sync.Mutex
	upserts  map[string]int                 // document id -> items written
	rows     map[string]map[string]struct{} // document id -> live segment ids
	rebuilds int
}

func (s *recordingVectors) EnsureCollection(ctx context.Context, collection string) error { return nil }

func (s *recordingVectors) Upsert(ctx context.Context, collection string, items []vector.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upserts == nil {
		s.upserts = map[string]int{}
	}
	if s.rows == nil {
		s.rows = map[string]map[string]struct{}{}
	}
	for _, item := range items {
		s.upserts[item.DocumentID]++
		if s.rows[item.DocumentID] == nil {
			s.rows[item.DocumentID] = map[string]struct{}{}
		}
		s.rows[item.DocumentID][item.SegmentID] = struct{}{}
	}
	return nil
}

func (s *recordingVectors) DeleteByDocument(ctx context.Context, collection, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, documentID)
	return nil
}

func (s *recordingVectors) RebuildIndex(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuilds++
	return nil
}

func (s *recordingVectors) writesFor(documentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts[documentID]
}

func (s *recordingVectors) rowsFor(documentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[documentID])
}

type harness struct {
	orch     *Orchestrator
	registry *task.Registry
	docs     *memDocs
	kbs      *memKBs
	blobs    *memBlobs
	vectors  *recordingVectors
	embedder *mockEmbedder
	kbID     string
}

func newHarness(t *testing.T, embedder *mockEmbedder, opts Options) *harness {
	t.Helper()
	segCache, err := chunkcache.NewSegmentCache(64, nil)
	require.NoError(t, err)
	vecCache, err := chunkcache.NewVectorCache(256, nil)
	require.NoError(t, err)

	h := &harness{
		registry: task.NewRegistry(),
		docs:     newMemDocs(),
		kbs:      &memKBs{kbs: map[string]*model.KnowledgeBase{}},
		blobs:    &memBlobs{},
		vectors:  &recordingVectors{},
		embedder: embedder,
		kbID:     uuid.NewString(),
	}
	h.kbs.kbs[h.kbID] = &model.KnowledgeBase{
		ID:         h.kbID,
		Name:       "test-kb",
		Collection: "test_kb",
		ChunkConfig: model.ChunkingConfig{
			Strategy:  model.StrategyParagraph,
			ChunkSize: 50,
		},
	}
	orch, err := NewOrchestrator(opts, h.registry, h.docs, h.kbs,
		&memSegments{}, h.blobs, h.vectors, segCache, vecCache, embedder)
	require.NoError(t, err)
	h.orch = orch
	t.Cleanup(orch.Close)
	return h
}

func (h *harness) addDocument(content string) string {
	hash := chunker.HashContent(content)
	h.blobs.put(hash, []byte(content))
	doc := model.Document{
		ID:              uuid.NewString(),
		KnowledgeBaseID: h.kbID,
		Name:            "doc.txt",
		MimeType:        "text/plain",
		SizeBytes:       int64(len(content)),
		ContentHash:     hash,
		Status:          model.DocumentStatusPending,
	}
	h.docs.add(doc)
	return doc.ID
}

func (h *harness) await(t *testing.T, taskID string) task.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	got, err := h.registry.Await(ctx, taskID)
	require.NoError(t, err)
	return got
}

func TestIngest_HappyPath(t *testing.T) {
	embedder := &mockEmbedder{}
	h := newHarness(t, embedder, Options{Workers: 2, QueueSize: 8, BatchSize: 2})
	docID := h.addDocument("first paragraph\n\nsecond paragraph\n\nthird paragraph")

	submitted, err := h.orch.SubmitIngest(context.Background(), h.kbID, docID)
	require.NoError(t, err)

	got := h.await(t, submitted.ID)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, 100.0, got.Progress)
	assert.Equal(t, 3, embedder.callCount())
	assert.Equal(t, 3, h.vectors.writesFor(docID))

	doc, err := h.docs.Get(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusReady, doc.Status)
	assert.Equal(t, 3, doc.SegmentCount)
}

func TestIngest_EmptyDocumentCompletesAtFull(t *testing.T) {
	embedder := &mockEmbedder{}
	h := newHarness(t, embedder, Options{Workers: 1, QueueSize: 4})
	docID := h.addDocument("")

	submitted, err := h.orch.SubmitIngest(context.Background(), h.kbID, docID)
	require.NoError(t, err)

	got := h.await(t, submitted.ID)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, 100.0, got.Progress)
	assert.Zero(t, embedder.callCount())

	doc, err := h.docs.Get(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusReady, doc.Status)
	assert.Zero(t, doc.SegmentCount)
}

func TestIngest_UnchangedResubmissionSkipsEmbedder(t *testing.T) {
	embedder := &mockEmbedder{}
	h := newHarness(t, embedder, Options{Workers: 1, QueueSize: 4})
	content := "alpha paragraph\n\nbeta paragraph"
	docID := h.addDocument(content)

	first, err := h.orch.SubmitIngest(context.Background(), h.kbID, docID)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, h.await(t, first.ID).Status)
	callsAfterFirst := embedder.callCount()
	require.Positive(t, callsAfterFirst)

	// Same bytes under a new document record: every fingerprint hits.
	secondDoc := h.addDocument(content)
	second, err := h.orch.SubmitIngest(context.Background(), h.kbID, secondDoc)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, h.await(t, second.ID).Status)

	assert.Equal(t, callsAfterFirst, embedder.callCount(), "resubmission must not call the embedder")
	assert.Equal(t, 2, h.vectors.writesFor(secondDoc), "vectors are still written from cache")
}

func TestIngest_ReingestReplacesVectorRows(t *testing.T) {
	embedder := &mockEmbedder{}
	h := newHarness(t, embedder, Options{Workers: 1, QueueSize: 4, BatchSize: 2})
	docID := h.addDocument("first paragraph\n\nsecond paragraph\n\nthird paragraph")

	first, err := h.orch.SubmitIngest(context.Background(), h.kbID, docID)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, h.await(t, first.ID).Status)
	require.Equal(t, 3, h.vectors.rowsFor(docID))

	// Each run stamps fresh segment ids, so without the delete the second
	// run's rows would pile on top of the first run's.
	second, err := h.orch.SubmitIngest(context.Background(), h.kbID, docID)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, h.await(t, second.ID).Status)

	assert.Equal(t, 3, h.vectors.rowsFor(docID),
		"re-ingest must not leave the previous segment set's rows queryable")
	assert.Equal(t, 6, h.vectors.writesFor(docID))
}

func TestIngest_PersistentProviderFailure(t *testing.T) {
	providerErr := &ai.ProviderError{Provider: "mock", Err: fmt.Errorf("mock provider down")}
	embedder := &mockEmbedder{failWith: providerErr}
	h := newHarness(t, embedder, Options{
		Workers: 1, QueueSize: 4, MaxRetries: 3, BaseDelay: time.Millisecond,
	})
	docID := h.addDocument("will not embed")

	submitted, err := h.orch.SubmitIngest(context.Background(), h.kbID, docID)
	require.NoError(t, err)

	got := h.await(t, submitted.ID)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "mock provider down", "last provider error is preserved")
	assert.Equal(t, 3, embedder.callCount(), "exactly max retries attempts")

	doc, err := h.docs.Get(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusError, doc.Status)
	assert.Contains(t, doc.ErrorMessage, "mock provider down")
}

func TestIngest_CancelBeforePickup(t *testing.T) {
	gate := make(chan struct{})
	embedder := &mockEmbedder{gate: gate}
	h := newHarness(t, embedder, Options{Workers: 1, QueueSize: 4})

	blocker := h.addDocument("occupies the only worker")
	queued := h.addDocument("waits in the queue")

	first, err := h.orch.SubmitIngest(context.Background(), h.kbID, blocker)
	require.NoError(t, err)
	second, err := h.orch.SubmitIngest(context.Background(), h.kbID, queued)
	require.NoError(t, err)

	// Let the first task reach the embedder so the second is parked.
	require.Eventually(t, func() bool { return embedder.callCount() > 0 },
		5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.registry.RequestCancel(second.ID, false, false))
	close(gate)

	assert.Equal(t, task.StatusCompleted, h.await(t, first.ID).Status)
	got := h.await(t, second.ID)
	assert.Equal(t, task.StatusCancelled, got.Status)
	assert.Zero(t, h.vectors.writesFor(queued), "cancelled before pickup must write nothing")

	doc, err := h.docs.Get(context.Background(), queued)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusPending, doc.Status)
}

func TestIngest_QueueFullRejects(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	embedder := &mockEmbedder{gate: gate}
	h := newHarness(t, embedder, Options{Workers: 1, QueueSize: 1})

	first, err := h.orch.SubmitIngest(context.Background(), h.kbID, h.addDocument("one"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return embedder.callCount() > 0 },
		5*time.Second, 10*time.Millisecond)

	// The worker is parked, so submissions pile up until the queue rejects.
	var rejected task.Task
	require.Eventually(t, func() bool {
		got, err := h.orch.SubmitIngest(context.Background(), h.kbID,
			h.addDocument(fmt.Sprintf("filler %d", embedder.callCount())))
		rejected = got
		return errors.Is(err, pkgerrors.ErrQueueFull)
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, task.StatusRejected, rejected.Status)
	_ = first
}

func TestRechunkAll_RecursiveCancel(t *testing.T) {
	gate := make(chan struct{})
	embedder := &mockEmbedder{gate: gate}
	h := newHarness(t, embedder, Options{Workers: 1, QueueSize: 16})

	for i := 0; i < 4; i++ {
		h.addDocument(fmt.Sprintf("document number %d", i))
	}

	parent, err := h.orch.SubmitRechunkAll(context.Background(), h.kbID)
	require.NoError(t, err)

	// Wait until the fanout created all children and one is embedding.
	require.Eventually(t, func() bool {
		got, err := h.registry.Get(parent.ID)
		return err == nil && len(got.Children) == 4 && embedder.callCount() > 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.registry.RequestCancel(parent.ID, false, true))
	close(gate)

	got := h.await(t, parent.ID)
	assert.Equal(t, task.StatusCancelled, got.Status)
	for _, childID := range got.Children {
		child, err := h.registry.Get(childID)
		require.NoError(t, err)
		assert.True(t, child.Status.Terminal(), "parent finished with non-terminal child %s", childID)
	}
}

func TestRechunkAll_AggregatesPartialFailure(t *testing.T) {
	embedder := &mockEmbedder{}
	h := newHarness(t, embedder, Options{Workers: 2, QueueSize: 16, MaxRetries: 1, BaseDelay: time.Millisecond})

	h.addDocument("good document")
	// Registered but its blob is missing, so its child fails.
	broken := model.Document{
		ID:              uuid.NewString(),
		KnowledgeBaseID: h.kbID,
		Name:            "broken.txt",
		ContentHash:     "deadbeef",
		Status:          model.DocumentStatusPending,
	}
	h.docs.add(broken)

	parent, err := h.orch.SubmitRechunkAll(context.Background(), h.kbID)
	require.NoError(t, err)

	got := h.await(t, parent.ID)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "1 of 2 documents failed")
}

func TestRebuildIndex_RebuildsThenReingests(t *testing.T) {
	embedder := &mockEmbedder{}
	h := newHarness(t, embedder, Options{Workers: 2, QueueSize: 16})
	docID := h.addDocument("rebuild me")

	parent, err := h.orch.SubmitRebuildIndex(context.Background(), h.kbID)
	require.NoError(t, err)

	got := h.await(t, parent.ID)
	assert.Equal(t, task.StatusCompleted, got.Status)
	h.vectors.mu.Lock()
	rebuilds := h.vectors.rebuilds
	h.vectors.mu.Unlock()
	assert.Equal(t, 1, rebuilds)
	assert.Positive(t, h.vectors.writesFor(docID))
}
