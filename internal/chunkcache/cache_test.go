package chunkcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragkit/ragkit/internal/model"
)

func TestVectorCache_ConcurrentReadAfterWrite(t *testing.T) {
	cache, err := NewVectorCache(2048, nil)
	require.NoError(t, err)

	ctx := context.Background()
	const keys = 1000

	var wg sync.WaitGroup
	for i := 0; i < keys; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hash := fmt.Sprintf("hash-%04d", i)
			want := []float32{float32(i), float32(i) * 2, float32(i) * 3}
			cache.Put(ctx, hash, "test-model", want)
			got, ok := cache.Get(ctx, hash, "test-model")
			assert.True(t, ok, "read-after-write miss for %s", hash)
			assert.Equal(t, want, got, "cross-key corruption for %s", hash)
		}(i)
	}
	wg.Wait()

	// Every key must still map to its own value once all writers are done.
	for i := 0; i < keys; i++ {
		hash := fmt.Sprintf("hash-%04d", i)
		got, ok := cache.Get(ctx, hash, "test-model")
		require.True(t, ok)
		require.Equal(t, []float32{float32(i), float32(i) * 2, float32(i) * 3}, got)
	}
}

func TestVectorCache_ValueIsolation(t *testing.T) {
	cache, err := NewVectorCache(16, nil)
	require.NoError(t, err)
	ctx := context.Background()

	original := []float32{1, 2, 3}
	cache.Put(ctx, "h", "m", original)
	original[0] = 99

	got, ok := cache.Get(ctx, "h", "m")
	require.True(t, ok)
	require.Equal(t, []float32{1, 2, 3}, got)

	got[1] = 99
	again, _ := cache.Get(ctx, "h", "m")
	require.Equal(t, []float32{1, 2, 3}, again)
}

type failingChunkRepo struct{}

func (failingChunkRepo) Get(ctx context.Context, contentHash, configHash string) (*model.ChunkCacheEntry, bool, error) {
	return nil, false, errors.New("storage outage")
}

func (failingChunkRepo) Save(ctx context.Context, entry *model.ChunkCacheEntry) error {
	return errors.New("storage outage")
}

func (failingChunkRepo) Clear(ctx context.Context) (int64, error) {
	return 0, errors.New("storage outage")
}

func TestSegmentCache_DegradesToMissOnRepoFailure(t *testing.T) {
	cache, err := NewSegmentCache(16, failingChunkRepo{})
	require.NoError(t, err)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "doc", "cfg")
	require.False(t, ok)

	segments := []model.Segment{{Position: 0, Content: "hello", ContentHash: "x"}}
	// Put must not fail even when the durable tier is down.
	cache.Put(ctx, "doc", "cfg", segments)

	got, ok := cache.Get(ctx, "doc", "cfg")
	require.True(t, ok, "memory tier must still serve the entry")
	require.Equal(t, segments, got)
}

func TestSegmentCache_Clear(t *testing.T) {
	cache, err := NewSegmentCache(16, nil)
	require.NoError(t, err)
	ctx := context.Background()

	cache.Put(ctx, "doc", "cfg", []model.Segment{{Content: "hello"}})
	require.NoError(t, cache.Clear(ctx))

	_, ok := cache.Get(ctx, "doc", "cfg")
	require.False(t, ok)
}
