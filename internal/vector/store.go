package vector

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

var collectionNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Item is one embedded segment destined for a collection.
type Item struct {
	SegmentID   string
	DocumentID  string
	Position    int
	ContentHash string
	Embedding   []float32
}

// Store keeps segment embeddings in Postgres, one pgvector table per
// collection. Collection names come from knowledge-base records and are
// restricted to a safe identifier alphabet because they are interpolated
// into DDL.
type Store struct {
	db        *sql.DB
	dimension int
}

func NewStore(db *sql.DB, dimension int) *Store {
	return &Store{db: db, dimension: dimension}
}

func tableName(collection string) (string, error) {
	if !collectionNameRegex.MatchString(collection) {
		return "", fmt.Errorf("invalid collection name: %q", collection)
	}
	return pq.QuoteIdentifier("vec_" + collection), nil
}

func indexName(collection string) string {
	return pq.QuoteIdentifier("idx_vec_" + collection + "_embedding")
}

func (s *Store) EnsureCollection(ctx context.Context, collection string) error {
	table, err := tableName(collection)
	if err != nil {
		return err
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			segment_id   TEXT PRIMARY KEY,
			document_id  TEXT NOT NULL,
			position     INTEGER NOT NULL,
			content_hash TEXT NOT NULL,
			embedding    vector(%d) NOT NULL
		)
	`, table, s.dimension)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}
	docIdx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (document_id)`,
		pq.QuoteIdentifier("idx_vec_"+collection+"_document"), table)
	if _, err := s.db.ExecContext(ctx, docIdx); err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection string, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	table, err := tableName(collection)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (segment_id, document_id, position, content_hash, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (segment_id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			position = EXCLUDED.position,
			content_hash = EXCLUDED.content_hash,
			embedding = EXCLUDED.embedding
	`, table)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, item := range items {
		if _, err := stmt.ExecContext(ctx,
			item.SegmentID,
			item.DocumentID,
			item.Position,
			item.ContentHash,
			pgvector.NewVector(item.Embedding),
		); err != nil {
			return fmt.Errorf("upsert segment %s: %w", item.SegmentID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) DeleteByDocument(ctx context.Context, collection, documentID string) error {
	table, err := tableName(collection)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, table)
	res, err := s.db.ExecContext(ctx, query, documentID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		logutil.GetLogger(ctx).Debug("deleted document vectors",
			zap.String("collection", collection),
			zap.String("document_id", documentID),
			zap.Int64("rows", n))
	}
	return nil
}

// RebuildIndex drops and recreates the ANN index for a collection. The table
// itself is untouched; callers re-upsert rows afterwards to repair any drift.
func (s *Store) RebuildIndex(ctx context.Context, collection string) error {
	table, err := tableName(collection)
	if err != nil {
		return err
	}
	idx := indexName(collection)
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %s`, idx)); err != nil {
		return fmt.Errorf("drop index for %s: %w", collection, err)
	}
	create := fmt.Sprintf(`
		CREATE INDEX %s ON %s
		USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)
	`, idx, table)
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("rebuild index for %s: %w", collection, err)
	}
	logutil.GetLogger(ctx).Info("vector index rebuilt", zap.String("collection", collection))
	return nil
}

func (s *Store) CountByDocument(ctx context.Context, collection, documentID string) (int64, error) {
	table, err := tableName(collection)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`SELECT COUNT(1) FROM %s WHERE document_id = $1`, table)
	var count int64
	if err := s.db.QueryRowContext(ctx, query, documentID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
