package chunkcache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/ragkit/ragkit/internal/model"
)

// SegmentCache returns previously chunked segment lists. A hit must be
// byte-identical to recomputing the chunking, so the key covers the document
// content hash and the full serialized config.
type SegmentCache interface {
	Get(ctx context.Context, contentHash, configHash string) ([]model.Segment, bool)
	Put(ctx context.Context, contentHash, configHash string, segments []model.Segment)
	Clear(ctx context.Context) error
}

// ChunkRepo is the durable tier behind the in-process LRU. A nil repo is
// valid; the cache then works purely in memory.
type ChunkRepo interface {
	Get(ctx context.Context, contentHash, configHash string) (*model.ChunkCacheEntry, bool, error)
	Save(ctx context.Context, entry *model.ChunkCacheEntry) error
	Clear(ctx context.Context) (int64, error)
}

type segmentCache struct {
	mem  *lru.Cache[string, []model.Segment]
	repo ChunkRepo
}

func NewSegmentCache(size int, repo ChunkRepo) (SegmentCache, error) {
	mem, err := lru.New[string, []model.Segment](size)
	if err != nil {
		return nil, err
	}
	return &segmentCache{mem: mem, repo: repo}, nil
}

func (c *segmentCache) Get(ctx context.Context, contentHash, configHash string) ([]model.Segment, bool) {
	key := contentHash + ":" + configHash
	if cached, ok := c.mem.Get(key); ok {
		logutil.GetLogger(ctx).Debug("chunk cache hit (lru)", zap.String("content_hash", contentHash))
		return cloneSegments(cached), true
	}
	if c.repo == nil {
		return nil, false
	}
	entry, ok, err := c.repo.Get(ctx, contentHash, configHash)
	if err != nil {
		// A broken cache store must only make ingestion slower, never wrong.
		logutil.GetLogger(ctx).Warn("chunk cache read failed, treating as miss", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	logutil.GetLogger(ctx).Debug("chunk cache hit (db)", zap.String("content_hash", contentHash))
	c.mem.Add(key, cloneSegments(entry.Segments))
	return cloneSegments(entry.Segments), true
}

func (c *segmentCache) Put(ctx context.Context, contentHash, configHash string, segments []model.Segment) {
	key := contentHash + ":" + configHash
	c.mem.Add(key, cloneSegments(segments))
	if c.repo == nil {
		return
	}
	err := c.repo.Save(ctx, &model.ChunkCacheEntry{
		ContentHash: contentHash,
		ConfigHash:  configHash,
		Segments:    cloneSegments(segments),
		Ctime:       time.Now().Unix(),
	})
	if err != nil {
		logutil.GetLogger(ctx).Warn("failed to persist chunk cache entry", zap.Error(err))
	}
}

func (c *segmentCache) Clear(ctx context.Context) error {
	c.mem.Purge()
	if c.repo == nil {
		return nil
	}
	removed, err := c.repo.Clear(ctx)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("chunk cache cleared", zap.Int64("removed", removed))
	return nil
}

func cloneSegments(segments []model.Segment) []model.Segment {
	if len(segments) == 0 {
		return nil
	}
	clone := make([]model.Segment, len(segments))
	copy(clone, segments)
	return clone
}
