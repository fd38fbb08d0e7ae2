package ingest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/ragkit/ragkit/internal/ai"
	"github.com/ragkit/ragkit/internal/chunkcache"
	"github.com/ragkit/ragkit/internal/model"
	pkgerrors "github.com/ragkit/ragkit/internal/pkg/errors"
	"github.com/ragkit/ragkit/internal/task"
	"github.com/ragkit/ragkit/internal/vector"
)

type DocumentStore interface {
	Get(ctx context.Context, id string) (*model.Document, error)
	ListByKnowledgeBase(ctx context.Context, kbID string, limit, offset int) ([]model.Document, error)
	UpdateStatus(ctx context.Context, id string, status model.DocumentStatus, errMsg string, segmentCount int) error
}

type KnowledgeBaseStore interface {
	Get(ctx context.Context, id string) (*model.KnowledgeBase, error)
}

type SegmentStore interface {
	ReplaceForDocument(ctx context.Context, documentID string, segments []model.Segment) error
}

type BlobStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type VectorStore interface {
	EnsureCollection(ctx context.Context, collection string) error
	Upsert(ctx context.Context, collection string, items []vector.Item) error
	DeleteByDocument(ctx context.Context, collection, documentID string) error
	RebuildIndex(ctx context.Context, collection string) error
}

type Options struct {
	Workers      int
	QueueSize    int
	BatchSize    int
	MaxRetries   int
	BaseDelay    time.Duration
	TaskTimeout  time.Duration
	DrainTimeout time.Duration
}

func (o *Options) fillDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 16
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 200 * time.Millisecond
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 30 * time.Second
	}
}

type queueItem struct {
	taskID     string
	kbID       string
	documentID string
}

// Orchestrator owns the ingestion pipeline: a bounded ordered queue feeding
// a fixed worker pool, with task bookkeeping in the registry. Fan-out jobs
// (rechunk, rebuild) run on their own goroutines outside the pool so their
// children can never deadlock against a waiting parent.
type Orchestrator struct {
	opts Options

	registry *task.Registry
	docs     DocumentStore
	kbs      KnowledgeBaseStore
	segments SegmentStore
	blobs    BlobStore
	vectors  VectorStore
	segCache chunkcache.SegmentCache
	vecCache chunkcache.VectorCache
	embedder ai.IEmbedder

	queue    chan queueItem
	pool     *ants.Pool
	baseCtx  context.Context
	stop     context.CancelFunc
	workerWG sync.WaitGroup
	taskWG   sync.WaitGroup
	parentWG sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewOrchestrator(
	opts Options,
	registry *task.Registry,
	docs DocumentStore,
	kbs KnowledgeBaseStore,
	segments SegmentStore,
	blobs BlobStore,
	vectors VectorStore,
	segCache chunkcache.SegmentCache,
	vecCache chunkcache.VectorCache,
	embedder ai.IEmbedder,
) (*Orchestrator, error) {
	opts.fillDefaults()
	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		opts:     opts,
		registry: registry,
		docs:     docs,
		kbs:      kbs,
		segments: segments,
		blobs:    blobs,
		vectors:  vectors,
		segCache: segCache,
		vecCache: vecCache,
		embedder: embedder,
		queue:    make(chan queueItem, opts.QueueSize),
		pool:     pool,
		baseCtx:  ctx,
		stop:     cancel,
	}
	o.workerWG.Add(1)
	go o.dispatch()
	return o, nil
}

// dispatch drains the queue in submission order. Pool submission blocks when
// every worker is busy, so the buffered queue is the only backpressure line.
func (o *Orchestrator) dispatch() {
	defer o.workerWG.Done()
	for item := range o.queue {
		item := item
		_ = o.registry.MarkReceived(item.taskID)
		o.taskWG.Add(1)
		if err := o.pool.Submit(func() {
			defer o.taskWG.Done()
			o.runIngest(item)
		}); err != nil {
			o.taskWG.Done()
			_ = o.registry.MarkTerminal(item.taskID, task.StatusFailed, fmt.Sprintf("worker pool: %v", err))
		}
	}
}

// SubmitIngest queues a single-document ingestion. A full queue rejects the
// task immediately instead of blocking the caller.
func (o *Orchestrator) SubmitIngest(ctx context.Context, kbID, documentID string) (task.Task, error) {
	t := o.registry.Create(task.KindIngest, kbID, documentID)
	return o.enqueue(ctx, t)
}

func (o *Orchestrator) enqueue(ctx context.Context, t task.Task) (task.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		_ = o.registry.MarkTerminal(t.ID, task.StatusRejected, "orchestrator is shut down")
		got, _ := o.registry.Get(t.ID)
		return got, pkgerrors.ErrQueueFull
	}
	select {
	case o.queue <- queueItem{taskID: t.ID, kbID: t.KnowledgeBaseID, documentID: t.DocumentID}:
		got, _ := o.registry.Get(t.ID)
		return got, nil
	default:
		_ = o.registry.MarkTerminal(t.ID, task.StatusRejected, "ingestion queue is full")
		logutil.GetLogger(ctx).Warn("ingestion queue full, task rejected",
			zap.String("task_id", t.ID),
			zap.String("document_id", t.DocumentID))
		got, _ := o.registry.Get(t.ID)
		return got, pkgerrors.ErrQueueFull
	}
}

// SubmitRechunkAll fans out one ingest child per document in the knowledge
// base and aggregates their outcomes on the parent task.
func (o *Orchestrator) SubmitRechunkAll(ctx context.Context, kbID string) (task.Task, error) {
	return o.submitFanout(ctx, task.KindRechunkAll, kbID)
}

// SubmitRebuildIndex drops and recreates the collection's vector index, then
// re-ingests every document to repopulate it. Fingerprint cache hits make
// the re-ingestion cheap.
func (o *Orchestrator) SubmitRebuildIndex(ctx context.Context, kbID string) (task.Task, error) {
	return o.submitFanout(ctx, task.KindRebuildIndex, kbID)
}

func (o *Orchestrator) submitFanout(ctx context.Context, kind task.Kind, kbID string) (task.Task, error) {
	if _, err := o.kbs.Get(ctx, kbID); err != nil {
		return task.Task{}, err
	}
	t := o.registry.Create(kind, kbID, "")
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		_ = o.registry.MarkTerminal(t.ID, task.StatusRejected, "orchestrator is shut down")
		got, _ := o.registry.Get(t.ID)
		return got, pkgerrors.ErrQueueFull
	}
	o.parentWG.Add(1)
	o.mu.Unlock()
	go func() {
		defer o.parentWG.Done()
		o.runFanout(t.ID, kind, kbID)
	}()
	got, _ := o.registry.Get(t.ID)
	return got, nil
}

// Close stops accepting work, waits for queued tasks to finish, and releases
// the pool.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()

	o.workerWG.Wait()
	o.taskWG.Wait()
	o.parentWG.Wait()
	o.stop()
	o.pool.Release()
}
