package service

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/ragkit/ragkit/internal/chunker"
	"github.com/ragkit/ragkit/internal/filestore"
	"github.com/ragkit/ragkit/internal/ingest"
	"github.com/ragkit/ragkit/internal/model"
	appErr "github.com/ragkit/ragkit/internal/pkg/errors"
	"github.com/ragkit/ragkit/internal/repo"
	"github.com/ragkit/ragkit/internal/task"
	"github.com/ragkit/ragkit/internal/vector"
)

// maxUploadBytes caps a single document upload.
const maxUploadBytes = 32 << 20

type DocumentService struct {
	docs     *repo.DocumentRepo
	segments *repo.SegmentRepo
	kbs      *repo.KnowledgeBaseRepo
	blobs    filestore.Store
	vectors  *vector.Store
	orch     *ingest.Orchestrator
}

func NewDocumentService(docs *repo.DocumentRepo, segments *repo.SegmentRepo, kbs *repo.KnowledgeBaseRepo, blobs filestore.Store, vectors *vector.Store, orch *ingest.Orchestrator) *DocumentService {
	return &DocumentService{docs: docs, segments: segments, kbs: kbs, blobs: blobs, vectors: vectors, orch: orch}
}

type UploadInput struct {
	Name     string
	MimeType string
	Body     io.Reader
}

// Upload stores the blob under its content hash, registers the document and
// queues its ingestion. The returned task may already be rejected when the
// queue is full; the document record stays and can be resubmitted later.
func (s *DocumentService) Upload(ctx context.Context, kbID string, in UploadInput) (*model.Document, task.Task, error) {
	if in.Name == "" {
		return nil, task.Task{}, appErr.ErrInvalid
	}
	if _, err := s.kbs.Get(ctx, kbID); err != nil {
		return nil, task.Task{}, err
	}
	raw, err := io.ReadAll(io.LimitReader(in.Body, maxUploadBytes+1))
	if err != nil {
		return nil, task.Task{}, fmt.Errorf("read upload: %w", err)
	}
	if len(raw) > maxUploadBytes {
		return nil, task.Task{}, appErr.ErrInvalid
	}
	hash := chunker.HashContent(string(raw))
	if err := s.blobs.Save(ctx, hash, bytes.NewReader(raw)); err != nil {
		return nil, task.Task{}, fmt.Errorf("store blob: %w", err)
	}
	doc := &model.Document{
		ID:              uuid.NewString(),
		KnowledgeBaseID: kbID,
		Name:            in.Name,
		MimeType:        in.MimeType,
		SizeBytes:       int64(len(raw)),
		ContentHash:     hash,
		Status:          model.DocumentStatusPending,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, task.Task{}, fmt.Errorf("register document: %w", err)
	}
	logutil.GetLogger(ctx).Info("document uploaded",
		zap.String("document_id", doc.ID),
		zap.String("kb_id", kbID),
		zap.String("content_hash", hash),
		zap.Int("size", len(raw)))

	t, err := s.orch.SubmitIngest(ctx, kbID, doc.ID)
	if err != nil {
		return doc, t, err
	}
	return doc, t, nil
}

// Resubmit queues ingestion for an existing document.
func (s *DocumentService) Resubmit(ctx context.Context, documentID string) (task.Task, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return task.Task{}, err
	}
	return s.orch.SubmitIngest(ctx, doc.KnowledgeBaseID, doc.ID)
}

func (s *DocumentService) Get(ctx context.Context, id string) (*model.Document, error) {
	return s.docs.Get(ctx, id)
}

func (s *DocumentService) List(ctx context.Context, kbID string, limit, offset int) ([]model.Document, error) {
	if _, err := s.kbs.Get(ctx, kbID); err != nil {
		return nil, err
	}
	return s.docs.ListByKnowledgeBase(ctx, kbID, limit, offset)
}

func (s *DocumentService) Segments(ctx context.Context, documentID string) ([]model.Segment, error) {
	if _, err := s.docs.Get(ctx, documentID); err != nil {
		return nil, err
	}
	return s.segments.ListByDocument(ctx, documentID)
}

// Delete removes the document record, its segments and its vectors. The blob
// stays: content-addressed storage may share it with other documents.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return err
	}
	kb, err := s.kbs.Get(ctx, doc.KnowledgeBaseID)
	if err != nil {
		return err
	}
	if err := s.vectors.DeleteByDocument(ctx, kb.Collection, doc.ID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if _, err := s.segments.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete segments: %w", err)
	}
	return s.docs.Delete(ctx, doc.ID)
}
