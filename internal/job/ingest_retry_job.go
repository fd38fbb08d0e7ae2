package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/ragkit/ragkit/internal/model"
	"github.com/ragkit/ragkit/internal/repo"
	"github.com/ragkit/ragkit/internal/service"
)

// IngestRetryJob resubmits documents stuck in error state, oldest first. A
// full queue just means the document waits for the next tick.
type IngestRetryJob struct {
	docs      *repo.DocumentRepo
	documents *service.DocumentService
	batch     int
}

func NewIngestRetryJob(docs *repo.DocumentRepo, documents *service.DocumentService, batch int) *IngestRetryJob {
	return &IngestRetryJob{docs: docs, documents: documents, batch: batch}
}

func (j *IngestRetryJob) Name() string {
	return "ingest_retry"
}

func (j *IngestRetryJob) Run(ctx context.Context) error {
	if j.docs == nil || j.documents == nil {
		return nil
	}
	batch := j.batch
	if batch <= 0 {
		batch = 20
	}
	stuck, err := j.docs.ListByStatus(ctx, model.DocumentStatusError, batch)
	if err != nil {
		return err
	}
	for _, doc := range stuck {
		t, err := j.documents.Resubmit(ctx, doc.ID)
		if err != nil {
			logutil.GetLogger(ctx).Warn("retry submit failed",
				zap.String("document_id", doc.ID),
				zap.Error(err))
			continue
		}
		logutil.GetLogger(ctx).Info("errored document resubmitted",
			zap.String("document_id", doc.ID),
			zap.String("task_id", t.ID))
	}
	return nil
}
