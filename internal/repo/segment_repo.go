package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/didi/gendry/builder"

	"github.com/ragkit/ragkit/internal/model"
	"github.com/ragkit/ragkit/internal/pkg/dbutil"
)

type SegmentRepo struct {
	db *sql.DB
}

func NewSegmentRepo(db *sql.DB) *SegmentRepo {
	return &SegmentRepo{db: db}
}

var segmentFields = []string{
	"id", "document_id", "position", "content", "overlap_len", "token_count", "content_hash",
}

// ReplaceForDocument swaps a document's segment set in a single transaction.
// Readers never observe a partial set; on any error the previous segments
// stay intact.
func (r *SegmentRepo) ReplaceForDocument(ctx context.Context, documentID string, segments []model.Segment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clear segments for %s: %w", documentID, err)
	}
	const insert = `
		INSERT INTO segments (id, document_id, position, content, overlap_len, token_count, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, seg := range segments {
		if _, err := stmt.ExecContext(ctx, seg.ID, documentID, seg.Position,
			seg.Content, seg.OverlapLen, seg.TokenCount, seg.ContentHash); err != nil {
			return fmt.Errorf("insert segment %d for %s: %w", seg.Position, documentID, err)
		}
	}
	return tx.Commit()
}

func (r *SegmentRepo) ListByDocument(ctx context.Context, documentID string) ([]model.Segment, error) {
	where := map[string]interface{}{
		"document_id": documentID,
		"_orderby":    "position asc",
	}
	sqlStr, args, err := builder.BuildSelect("segments", where, segmentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.Segment
	for rows.Next() {
		var seg model.Segment
		if err := rows.Scan(&seg.ID, &seg.DocumentID, &seg.Position, &seg.Content,
			&seg.OverlapLen, &seg.TokenCount, &seg.ContentHash); err != nil {
			return nil, err
		}
		results = append(results, seg)
	}
	return results, rows.Err()
}

func (r *SegmentRepo) DeleteByDocument(ctx context.Context, documentID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM segments WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
