package chunkcache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/ragkit/ragkit/internal/model"
)

// VectorCache maps (segment content hash, embedding model) to a vector, so
// resubmitting unchanged content performs zero provider calls.
type VectorCache interface {
	Get(ctx context.Context, contentHash, modelName string) ([]float32, bool)
	Put(ctx context.Context, contentHash, modelName string, embedding []float32)
	Clear(ctx context.Context) error
}

type EmbeddingRepo interface {
	Get(ctx context.Context, modelName, contentHash string) ([]float32, bool, error)
	Save(ctx context.Context, entry *model.EmbeddingCacheEntry) error
	Clear(ctx context.Context) (int64, error)
}

type vectorCache struct {
	mem  *lru.Cache[string, []float32]
	repo EmbeddingRepo
}

func NewVectorCache(size int, repo EmbeddingRepo) (VectorCache, error) {
	mem, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &vectorCache{mem: mem, repo: repo}, nil
}

func (c *vectorCache) Get(ctx context.Context, contentHash, modelName string) ([]float32, bool) {
	key := modelName + ":" + contentHash
	if cached, ok := c.mem.Get(key); ok {
		return cloneEmbedding(cached), true
	}
	if c.repo == nil {
		return nil, false
	}
	values, ok, err := c.repo.Get(ctx, modelName, contentHash)
	if err != nil {
		logutil.GetLogger(ctx).Warn("vector cache read failed, treating as miss", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	logutil.GetLogger(ctx).Debug("vector cache hit (db)", zap.String("model", modelName))
	c.mem.Add(key, cloneEmbedding(values))
	return cloneEmbedding(values), true
}

func (c *vectorCache) Put(ctx context.Context, contentHash, modelName string, embedding []float32) {
	key := modelName + ":" + contentHash
	c.mem.Add(key, cloneEmbedding(embedding))
	if c.repo == nil {
		return
	}
	err := c.repo.Save(ctx, &model.EmbeddingCacheEntry{
		ModelName:   modelName,
		ContentHash: contentHash,
		Embedding:   cloneEmbedding(embedding),
		Ctime:       time.Now().Unix(),
	})
	if err != nil {
		logutil.GetLogger(ctx).Warn("failed to persist vector cache entry", zap.Error(err))
	}
}

func (c *vectorCache) Clear(ctx context.Context) error {
	c.mem.Purge()
	if c.repo == nil {
		return nil
	}
	removed, err := c.repo.Clear(ctx)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("vector cache cleared", zap.Int64("removed", removed))
	return nil
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
