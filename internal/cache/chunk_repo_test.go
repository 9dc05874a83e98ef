package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/annel0/mmo-world/internal/storage"
	"github.com/annel0/mmo-world/internal/terrain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryCache - CacheRepo в памяти вместо Redis
type memoryCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	gets    int64
	batches int64
	deletes []string
}

func newMemoryCache() *memoryCache { return &memoryCache{data: map[string][]byte{}} }

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	atomic.AddInt64(&m.gets, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	m.deletes = append(m.deletes, key)
	return nil
}

func (m *memoryCache) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	atomic.AddInt64(&m.batches, 1)
	out := map[string][]byte{}
	for _, k := range keys {
		if v, err := m.Get(ctx, k); err == nil {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memoryCache) Close() error { return nil }
func (m *memoryCache) GetMetrics() *CacheMetrics {
	return &CacheMetrics{TotalRequests: atomic.LoadInt64(&m.gets)}
}

func newTestStore(t *testing.T) *storage.BadgerStore {
	t.Helper()
	store, err := storage.NewBadgerStore("", true, true)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestChunkRepoLayers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	local, err := NewLocalCache(16)
	require.NoError(t, err)
	defer local.Close()
	remote := newMemoryCache()

	repo := NewChunkRepo(store, store.Codec(), local, remote, time.Hour)
	chunk := terrain.NewGenerator(7, terrain.DefaultOptions()).Generate(2, 3)

	_, err = repo.LoadChunk(ctx, 2, 3)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, repo.SaveChunk(ctx, chunk))
	local.Wait()

	got, err := repo.LoadChunk(ctx, 2, 3)
	require.NoError(t, err)
	assert.Same(t, chunk, got, "повторное чтение отдаёт L1")

	_, inRedis := remote.data[storage.ChunkKey(2, 3)]
	assert.True(t, inRedis, "сохранение прогревает L2")

	persisted, err := store.LoadChunk(ctx, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, chunk, persisted)
}

func TestChunkRepoReadsRemoteWhenLocalMisses(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	remote := newMemoryCache()
	chunk := terrain.NewGenerator(7, terrain.DefaultOptions()).Generate(-1, 0)
	require.NoError(t, remote.Set(ctx, storage.ChunkKey(-1, 0), store.Codec().Encode(chunk), 0))

	repo := NewChunkRepo(store, store.Codec(), nil, remote, time.Hour)
	got, err := repo.LoadChunk(ctx, -1, 0)
	require.NoError(t, err)
	assert.Equal(t, chunk, got)
}

func TestChunkRepoCorruptRemoteFallsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	remote := newMemoryCache()
	chunk := terrain.NewGenerator(7, terrain.DefaultOptions()).Generate(5, 5)
	require.NoError(t, store.SaveChunk(ctx, chunk))
	require.NoError(t, remote.Set(ctx, storage.ChunkKey(5, 5), []byte{42}, 0))

	repo := NewChunkRepo(store, store.Codec(), nil, remote, time.Hour)
	got, err := repo.LoadChunk(ctx, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, chunk, got)
}

func TestChunkRepoInvalidate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	local, err := NewLocalCache(16)
	require.NoError(t, err)
	defer local.Close()
	remote := newMemoryCache()

	repo := NewChunkRepo(store, store.Codec(), local, remote, time.Hour)
	chunk := terrain.NewGenerator(7, terrain.DefaultOptions()).Generate(0, 0)
	require.NoError(t, repo.SaveChunk(ctx, chunk))
	local.Wait()

	repo.Invalidate(ctx, 0, 0)
	local.Wait()

	_, ok := local.Get("0:0")
	assert.False(t, ok)
	assert.Equal(t, []string{storage.ChunkKey(0, 0)}, remote.deletes)
}

func TestChunkRepoPrefetchWarmsLocal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	local, err := NewLocalCache(16)
	require.NoError(t, err)
	defer local.Close()
	remote := newMemoryCache()

	gen := terrain.NewGenerator(7, terrain.DefaultOptions())
	for _, pos := range []terrain.ChunkPos{{CX: 1, CZ: 1}, {CX: 2, CZ: 1}} {
		require.NoError(t, remote.Set(ctx, storage.ChunkKey(pos.CX, pos.CZ), store.Codec().Encode(gen.Generate(pos.CX, pos.CZ)), 0))
	}
	require.NoError(t, remote.Set(ctx, storage.ChunkKey(3, 1), []byte{1, 2, 3}, 0))

	repo := NewChunkRepo(store, store.Codec(), local, remote, time.Hour)
	warmed := repo.Prefetch(ctx, []terrain.ChunkPos{{CX: 1, CZ: 1}, {CX: 2, CZ: 1}, {CX: 1, CZ: 1}, {CX: 3, CZ: 1}, {CX: 9, CZ: 9}})
	assert.Equal(t, 2, warmed, "битый и отсутствующий чанки пропускаются")
	assert.Equal(t, int64(1), atomic.LoadInt64(&remote.batches), "одна пачка на запрос")
	local.Wait()

	gets := atomic.LoadInt64(&remote.gets)
	got, err := repo.LoadChunk(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CX)
	assert.Equal(t, gets, atomic.LoadInt64(&remote.gets), "чанк уже в L1")

	assert.Equal(t, atomic.LoadInt64(&remote.gets), repo.CacheMetrics().TotalRequests)
	assert.Nil(t, NewChunkRepo(store, store.Codec(), local, nil, 0).CacheMetrics())
}

func TestDropLocal(t *testing.T) {
	local, err := NewLocalCache(16)
	require.NoError(t, err)
	defer local.Close()

	repo := NewChunkRepo(nil, nil, local, nil, 0)
	local.Set("4:4", &terrain.Chunk{CX: 4, CZ: 4})
	local.Wait()

	require.NoError(t, repo.DropLocal(storage.ChunkKey(4, 4)))
	local.Wait()
	_, ok := local.Get("4:4")
	assert.False(t, ok)

	assert.Error(t, repo.DropLocal("tree:1_1"))
}

func TestRedisCacheRejectsUnreachableServer(t *testing.T) {
	rc, err := NewRedisCache(&CacheConfig{RedisURL: "127.0.0.1:1"}, newTestStore(t), nil)
	require.Error(t, err, "Redis на закрытом порту недоступен")
	assert.Nil(t, rc)
}
