package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/didi/gendry/builder"

	"github.com/ragkit/ragkit/internal/model"
	"github.com/ragkit/ragkit/internal/pkg/dbutil"
	pkgerrors "github.com/ragkit/ragkit/internal/pkg/errors"
)

type KnowledgeBaseRepo struct {
	db *sql.DB
}

func NewKnowledgeBaseRepo(db *sql.DB) *KnowledgeBaseRepo {
	return &KnowledgeBaseRepo{db: db}
}

var kbFields = []string{"id", "name", "description", "collection", "chunk_config", "ctime", "mtime"}

func (r *KnowledgeBaseRepo) Create(ctx context.Context, kb *model.KnowledgeBase) error {
	cfg, err := json.Marshal(kb.ChunkConfig)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	kb.Ctime = now
	kb.Mtime = now
	data := map[string]interface{}{
		"id":           kb.ID,
		"name":         kb.Name,
		"description":  kb.Description,
		"collection":   kb.Collection,
		"chunk_config": cfg,
		"ctime":        kb.Ctime,
		"mtime":        kb.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("knowledge_bases", []map[string]interface{}{data})
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

func (r *KnowledgeBaseRepo) Get(ctx context.Context, id string) (*model.KnowledgeBase, error) {
	where := map[string]interface{}{"id": id}
	sqlStr, args, err := builder.BuildSelect("knowledge_bases", where, kbFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	row := r.db.QueryRowContext(ctx, sqlStr, args...)
	kb, err := scanKnowledgeBase(row)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return kb, nil
}

func (r *KnowledgeBaseRepo) List(ctx context.Context) ([]model.KnowledgeBase, error) {
	where := map[string]interface{}{
		"_orderby": "ctime desc",
	}
	sqlStr, args, err := builder.BuildSelect("knowledge_bases", where, kbFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.KnowledgeBase
	for rows.Next() {
		kb, err := scanKnowledgeBase(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *kb)
	}
	return results, rows.Err()
}

func (r *KnowledgeBaseRepo) UpdateChunkConfig(ctx context.Context, id string, cfg model.ChunkingConfig) error {
	blob, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	where := map[string]interface{}{"id": id}
	update := map[string]interface{}{
		"chunk_config": blob,
		"mtime":        time.Now().UnixMilli(),
	}
	sqlStr, args, err := builder.BuildUpdate("knowledge_bases", where, update)
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanKnowledgeBase(row rowScanner) (*model.KnowledgeBase, error) {
	var kb model.KnowledgeBase
	var cfg []byte
	if err := row.Scan(&kb.ID, &kb.Name, &kb.Description, &kb.Collection, &cfg, &kb.Ctime, &kb.Mtime); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cfg, &kb.ChunkConfig); err != nil {
		return nil, err
	}
	return &kb, nil
}
