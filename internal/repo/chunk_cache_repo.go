package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/ragkit/ragkit/internal/model"
)

// ChunkCacheRepo is the durable tier of the segment fingerprint cache.
type ChunkCacheRepo struct {
	db *sql.DB
}

func NewChunkCacheRepo(db *sql.DB) *ChunkCacheRepo {
	return &ChunkCacheRepo{db: db}
}

func (r *ChunkCacheRepo) Get(ctx context.Context, contentHash, configHash string) (*model.ChunkCacheEntry, bool, error) {
	const query = `
		SELECT segments, ctime
		FROM chunk_cache
		WHERE content_hash = $1 AND config_hash = $2
	`
	row := r.db.QueryRowContext(ctx, query, contentHash, configHash)
	var blob []byte
	var ctime int64
	if err := row.Scan(&blob, &ctime); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	entry := &model.ChunkCacheEntry{
		ContentHash: contentHash,
		ConfigHash:  configHash,
		Ctime:       ctime,
	}
	if err := json.Unmarshal(blob, &entry.Segments); err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (r *ChunkCacheRepo) Save(ctx context.Context, entry *model.ChunkCacheEntry) error {
	blob, err := json.Marshal(entry.Segments)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO chunk_cache (content_hash, config_hash, segments, ctime)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (content_hash, config_hash) DO UPDATE SET
			segments = EXCLUDED.segments,
			ctime = EXCLUDED.ctime
	`
	_, err = r.db.ExecContext(ctx, query, entry.ContentHash, entry.ConfigHash, blob, entry.Ctime)
	return err
}

func (r *ChunkCacheRepo) Clear(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chunk_cache`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
