package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/ragkit/ragkit/internal/chunker"
	"github.com/ragkit/ragkit/internal/model"
	"github.com/ragkit/ragkit/internal/task"
	"github.com/ragkit/ragkit/internal/vector"
)

// errCancelRequested marks a cooperative stop at a checkpoint, as opposed to
// a context cancellation forced from outside.
var errCancelRequested = errors.New("cancel requested")

// checkpoint is consulted between pipeline stages and between embedding
// batches. Work is never interrupted mid-write.
func (o *Orchestrator) checkpoint(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.registry.CancelRequested(taskID) {
		return errCancelRequested
	}
	return nil
}

func (o *Orchestrator) runIngest(item queueItem) {
	if t, err := o.registry.Get(item.taskID); err != nil || t.Status.Terminal() {
		return
	}
	if o.registry.CancelRequested(item.taskID) {
		_ = o.registry.MarkTerminal(item.taskID, task.StatusCancelled, "")
		return
	}
	ctx := o.baseCtx
	var cancel context.CancelFunc
	if o.opts.TaskTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.opts.TaskTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	o.registry.BindCancel(item.taskID, cancel)
	if err := o.registry.MarkRunning(item.taskID); err != nil {
		return
	}

	err := o.processDocument(ctx, item)
	switch {
	case err == nil:
		_ = o.registry.MarkTerminal(item.taskID, task.StatusCompleted, "")
	case errors.Is(err, errCancelRequested), errors.Is(err, context.Canceled):
		_ = o.registry.MarkTerminal(item.taskID, task.StatusCancelled, "")
	case errors.Is(err, context.DeadlineExceeded):
		_ = o.registry.MarkTerminal(item.taskID, task.StatusFailed, "task timeout exceeded")
	default:
		_ = o.registry.MarkTerminal(item.taskID, task.StatusFailed, err.Error())
	}
}

func (o *Orchestrator) processDocument(ctx context.Context, item queueItem) error {
	logger := logutil.GetLogger(ctx).With(
		zap.String("task_id", item.taskID),
		zap.String("document_id", item.documentID))

	doc, err := o.docs.Get(ctx, item.documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	kb, err := o.kbs.Get(ctx, item.kbID)
	if err != nil {
		return fmt.Errorf("load knowledge base: %w", err)
	}

	prevStatus, prevCount := doc.Status, doc.SegmentCount
	if err := o.docs.UpdateStatus(ctx, doc.ID, model.DocumentStatusProcessing, "", prevCount); err != nil {
		return fmt.Errorf("mark document processing: %w", err)
	}
	// Nothing durable has changed yet before the segment commit, so a cancel
	// up to that point puts the document record back the way it was.
	restore := func() {
		bg := context.WithoutCancel(ctx)
		_ = o.docs.UpdateStatus(bg, doc.ID, prevStatus, doc.ErrorMessage, prevCount)
	}
	failDoc := func(cause error) {
		bg := context.WithoutCancel(ctx)
		_ = o.docs.UpdateStatus(bg, doc.ID, model.DocumentStatusError, cause.Error(), prevCount)
	}

	rc, err := o.blobs.Open(ctx, doc.ContentHash)
	if err != nil {
		failDoc(err)
		return fmt.Errorf("open blob %s: %w", doc.ContentHash, err)
	}
	raw, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		failDoc(err)
		return fmt.Errorf("read blob %s: %w", doc.ContentHash, err)
	}
	content := string(raw)
	if got := chunker.HashContent(content); got != doc.ContentHash {
		err := fmt.Errorf("blob hash mismatch: stored %s, got %s", doc.ContentHash, got)
		failDoc(err)
		return err
	}

	if err := o.checkpoint(ctx, item.taskID); err != nil {
		restore()
		return err
	}

	configHash := kb.ChunkConfig.Hash()
	segments, hit := o.segCache.Get(ctx, doc.ContentHash, configHash)
	if !hit {
		segments, err = chunker.Chunk(content, kb.ChunkConfig)
		if err != nil {
			failDoc(err)
			return fmt.Errorf("chunk document: %w", err)
		}
		o.segCache.Put(ctx, doc.ContentHash, configHash, segments)
	} else {
		logger.Debug("segment cache hit", zap.String("config_hash", configHash))
	}

	// Cached segment lists carry no identity; stamp fresh ids for this
	// document before anything touches storage.
	stamped := make([]model.Segment, len(segments))
	for i, seg := range segments {
		seg.ID = uuid.NewString()
		seg.DocumentID = doc.ID
		stamped[i] = seg
	}

	if err := o.checkpoint(ctx, item.taskID); err != nil {
		restore()
		return err
	}
	if err := o.vectors.EnsureCollection(ctx, kb.Collection); err != nil {
		failDoc(err)
		return fmt.Errorf("ensure collection: %w", err)
	}
	if err := o.segments.ReplaceForDocument(ctx, doc.ID, stamped); err != nil {
		failDoc(err)
		return fmt.Errorf("replace segments: %w", err)
	}
	// The new segment set carries fresh ids, so rows from the previous set
	// would never be overwritten by the upserts below. Drop them here.
	if err := o.vectors.DeleteByDocument(ctx, kb.Collection, doc.ID); err != nil {
		failDoc(err)
		return fmt.Errorf("clear stale vectors: %w", err)
	}
	if err := o.docs.UpdateStatus(ctx, doc.ID, model.DocumentStatusReady, "", len(stamped)); err != nil {
		return fmt.Errorf("mark document ready: %w", err)
	}

	total := len(stamped)
	if total == 0 {
		_ = o.registry.UpdateProgress(item.taskID, 100, "document has no content")
		return nil
	}

	modelName := o.embedder.ModelName()
	for start := 0; start < total; start += o.opts.BatchSize {
		if err := o.checkpoint(ctx, item.taskID); err != nil {
			// Segments and vectors written so far stay committed.
			return err
		}
		end := start + o.opts.BatchSize
		if end > total {
			end = total
		}
		items := make([]vector.Item, 0, end-start)
		for _, seg := range stamped[start:end] {
			embedding, ok := o.vecCache.Get(ctx, seg.ContentHash, modelName)
			if !ok {
				embedErr := retryWithBackoff(ctx, func() error {
					var e error
					embedding, e = o.embedder.Embed(ctx, seg.Content)
					return e
				}, o.opts.MaxRetries, o.opts.BaseDelay)
				if embedErr != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					failDoc(embedErr)
					return fmt.Errorf("embed segment %d: %w", seg.Position, embedErr)
				}
				o.vecCache.Put(ctx, seg.ContentHash, modelName, embedding)
			}
			items = append(items, vector.Item{
				SegmentID:   seg.ID,
				DocumentID:  seg.DocumentID,
				Position:    seg.Position,
				ContentHash: seg.ContentHash,
				Embedding:   embedding,
			})
		}
		if err := o.vectors.Upsert(ctx, kb.Collection, items); err != nil {
			failDoc(err)
			return fmt.Errorf("upsert vectors: %w", err)
		}
		pct := float64(end) / float64(total) * 100
		_ = o.registry.UpdateProgress(item.taskID, pct, fmt.Sprintf("embedded %d/%d segments", end, total))
	}

	logger.Info("document ingested", zap.Int("segments", total))
	return nil
}

const fanoutPageSize = 200

func (o *Orchestrator) runFanout(parentID string, kind task.Kind, kbID string) {
	ctx, cancel := context.WithCancel(o.baseCtx)
	defer cancel()
	o.registry.BindCancel(parentID, cancel)
	_ = o.registry.MarkReceived(parentID)
	_ = o.registry.MarkRunning(parentID)

	logger := logutil.GetLogger(ctx).With(
		zap.String("task_id", parentID),
		zap.String("kind", string(kind)),
		zap.String("kb_id", kbID))

	fail := func(err error) {
		_ = o.registry.MarkTerminal(parentID, task.StatusFailed, err.Error())
		logger.Error("fanout task failed", zap.Error(err))
	}

	kb, err := o.kbs.Get(ctx, kbID)
	if err != nil {
		fail(fmt.Errorf("load knowledge base: %w", err))
		return
	}
	if kind == task.KindRebuildIndex {
		if err := o.vectors.EnsureCollection(ctx, kb.Collection); err != nil {
			fail(fmt.Errorf("ensure collection: %w", err))
			return
		}
		if err := o.vectors.RebuildIndex(ctx, kb.Collection); err != nil {
			fail(fmt.Errorf("rebuild index: %w", err))
			return
		}
	}

	var docs []model.Document
	for offset := 0; ; offset += fanoutPageSize {
		page, err := o.docs.ListByKnowledgeBase(ctx, kbID, fanoutPageSize, offset)
		if err != nil {
			fail(fmt.Errorf("list documents: %w", err))
			return
		}
		docs = append(docs, page...)
		if len(page) < fanoutPageSize {
			break
		}
	}

	for _, doc := range docs {
		if o.registry.CancelRequested(parentID) {
			break
		}
		child, err := o.registry.CreateChild(parentID, task.KindIngest, kbID, doc.ID)
		if err != nil {
			break
		}
		// A rejected child is already terminal and counts against the
		// aggregate like any other failure.
		_, _ = o.enqueue(ctx, child)
	}

	o.awaitChildren(ctx, parentID, logger)
}

// awaitChildren polls the registry until every child is terminal, then rolls
// their outcomes up into the parent. A forced cancel gets a bounded drain
// window before the parent gives up waiting.
func (o *Orchestrator) awaitChildren(ctx context.Context, parentID string, logger *zap.Logger) {
	var drainDeadline time.Time
	for {
		parent, err := o.registry.Get(parentID)
		if err != nil {
			return
		}
		total := len(parent.Children)
		var completed, failed, cancelled, terminal int
		for _, childID := range parent.Children {
			child, err := o.registry.Get(childID)
			if err != nil {
				terminal++
				continue
			}
			if !child.Status.Terminal() {
				continue
			}
			terminal++
			switch child.Status {
			case task.StatusCompleted:
				completed++
			case task.StatusCancelled:
				cancelled++
			default:
				failed++
			}
		}

		if terminal == total {
			switch {
			case cancelled > 0 || parent.CancelRequested:
				_ = o.registry.MarkTerminal(parentID, task.StatusCancelled,
					fmt.Sprintf("%d of %d documents cancelled", cancelled, total))
			case failed > 0:
				_ = o.registry.MarkTerminal(parentID, task.StatusFailed,
					fmt.Sprintf("partial failure: %d of %d documents failed", failed, total))
			default:
				_ = o.registry.MarkTerminal(parentID, task.StatusCompleted, "")
			}
			logger.Info("fanout task finished",
				zap.Int("total", total),
				zap.Int("completed", completed),
				zap.Int("failed", failed),
				zap.Int("cancelled", cancelled))
			return
		}

		if ctx.Err() != nil {
			if drainDeadline.IsZero() {
				drainDeadline = time.Now().Add(o.opts.DrainTimeout)
			} else if time.Now().After(drainDeadline) {
				_ = o.registry.MarkTerminal(parentID, task.StatusCancelled,
					fmt.Sprintf("draining: %d of %d children still running at cancel", total-terminal, total))
				return
			}
		}

		if total > 0 {
			pct := float64(terminal) / float64(total) * 100
			_ = o.registry.UpdateProgress(parentID, pct,
				fmt.Sprintf("%d/%d documents done", terminal, total))
		}
		time.Sleep(100 * time.Millisecond)
	}
}
