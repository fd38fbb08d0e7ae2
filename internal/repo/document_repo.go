package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/didi/gendry/builder"

	"github.com/ragkit/ragkit/internal/model"
	"github.com/ragkit/ragkit/internal/pkg/dbutil"
	pkgerrors "github.com/ragkit/ragkit/internal/pkg/errors"
)

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

var documentFields = []string{
	"id", "knowledge_base_id", "name", "mime_type", "size_bytes",
	"content_hash", "status", "error_message", "segment_count", "ctime", "mtime",
}

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	now := time.Now().UnixMilli()
	doc.Ctime = now
	doc.Mtime = now
	data := map[string]interface{}{
		"id":                doc.ID,
		"knowledge_base_id": doc.KnowledgeBaseID,
		"name":              doc.Name,
		"mime_type":         doc.MimeType,
		"size_bytes":        doc.SizeBytes,
		"content_hash":      doc.ContentHash,
		"status":            string(doc.Status),
		"error_message":     doc.ErrorMessage,
		"segment_count":     doc.SegmentCount,
		"ctime":             doc.Ctime,
		"mtime":             doc.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return pkgerrors.ErrConflict
		}
		return err
	}
	return nil
}

func (r *DocumentRepo) Get(ctx context.Context, id string) (*model.Document, error) {
	where := map[string]interface{}{"id": id}
	sqlStr, args, err := builder.BuildSelect("documents", where, documentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	doc, err := scanDocument(r.db.QueryRowContext(ctx, sqlStr, args...))
	if err == sql.ErrNoRows {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepo) ListByKnowledgeBase(ctx context.Context, kbID string, limit, offset int) ([]model.Document, error) {
	where := map[string]interface{}{
		"knowledge_base_id": kbID,
		"_orderby":          "ctime desc",
	}
	if limit > 0 {
		where["_limit"] = []uint{uint(offset), uint(limit)}
	}
	sqlStr, args, err := builder.BuildSelect("documents", where, documentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	return r.queryDocuments(ctx, sqlStr, args)
}

// ListByStatus feeds the stuck-document retry job.
func (r *DocumentRepo) ListByStatus(ctx context.Context, status model.DocumentStatus, limit int) ([]model.Document, error) {
	where := map[string]interface{}{
		"status":   string(status),
		"_orderby": "mtime asc",
	}
	if limit > 0 {
		where["_limit"] = []uint{0, uint(limit)}
	}
	sqlStr, args, err := builder.BuildSelect("documents", where, documentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	return r.queryDocuments(ctx, sqlStr, args)
}

func (r *DocumentRepo) UpdateStatus(ctx context.Context, id string, status model.DocumentStatus, errMsg string, segmentCount int) error {
	where := map[string]interface{}{"id": id}
	update := map[string]interface{}{
		"status":        string(status),
		"error_message": errMsg,
		"segment_count": segmentCount,
		"mtime":         time.Now().UnixMilli(),
	}
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrNotFound
	}
	return nil
}

func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	where := map[string]interface{}{"id": id}
	sqlStr, args, err := builder.BuildDelete("documents", where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrNotFound
	}
	return nil
}

func (r *DocumentRepo) queryDocuments(ctx context.Context, sqlStr string, args []interface{}) ([]model.Document, error) {
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *doc)
	}
	return results, rows.Err()
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var doc model.Document
	var status string
	if err := row.Scan(&doc.ID, &doc.KnowledgeBaseID, &doc.Name, &doc.MimeType,
		&doc.SizeBytes, &doc.ContentHash, &status, &doc.ErrorMessage,
		&doc.SegmentCount, &doc.Ctime, &doc.Mtime); err != nil {
		return nil, err
	}
	doc.Status = model.DocumentStatus(status)
	return &doc, nil
}
