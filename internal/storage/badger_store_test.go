package storage

import (
	"context"
	"testing"
	"time"

	"github.com/annel0/mmo-world/internal/terrain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(t.TempDir(), false, true)
	require.NoError(t, err, "не удалось открыть хранилище")
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndLoadChunk(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	gen := terrain.NewGenerator(12345, terrain.DefaultOptions())

	chunk := gen.Generate(-3, 7)
	require.NoError(t, store.SaveChunk(ctx, chunk))

	loaded, err := store.LoadChunk(ctx, -3, 7)
	require.NoError(t, err)
	assert.Equal(t, chunk, loaded, "чанк должен читаться побитово тем же")

	n, err := store.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoadMissingChunk(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.LoadChunk(context.Background(), 100, 100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChunkSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	chunk := terrain.NewGenerator(99, terrain.DefaultOptions()).Generate(1, 1)

	store, err := NewBadgerStore(dir, false, false)
	require.NoError(t, err)
	require.NoError(t, store.SaveChunk(ctx, chunk))
	require.NoError(t, store.Close())

	store, err = NewBadgerStore(dir, false, true)
	require.NoError(t, err)
	defer store.Close()

	loaded, err := store.LoadChunk(ctx, 1, 1)
	require.NoError(t, err, "несжатый чанк читается и кодеком со сжатием")
	assert.Equal(t, chunk.Heightmap, loaded.Heightmap)
}

func TestClosedStore(t *testing.T) {
	store, err := NewBadgerStore("", true, false)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "повторное закрытие безопасно")

	_, err = store.Load(context.Background(), "chunk:0:0")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestObjectStates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, store.SaveObjectState(ctx, KindTree, ObjectState{Key: "10_-4", Health: 6, MaxHealth: 10, LastDamage: now}))
	require.NoError(t, store.SaveObjectState(ctx, KindRock, ObjectState{Key: "10_-4", Health: 0, MaxHealth: 20, Broken: true, BrokenAt: now}))

	trees, err := store.LoadObjectStates(ctx, KindTree)
	require.NoError(t, err)
	require.Len(t, trees, 1)
	assert.Equal(t, 6.0, trees[0].Health)
	assert.True(t, trees[0].LastDamage.Equal(now))

	rocks, err := store.LoadObjectStates(ctx, KindRock)
	require.NoError(t, err)
	require.Len(t, rocks, 1)
	assert.True(t, rocks[0].Broken, "деревья и камни с одинаковым ключом не пересекаются")

	require.NoError(t, store.DeleteObjectState(ctx, KindTree, "10_-4"))
	trees, err = store.LoadObjectStates(ctx, KindTree)
	require.NoError(t, err)
	assert.Empty(t, trees)
}

func TestBlocksAndItems(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveBlock(ctx, BlockRecord{ID: "b1", Type: "wood_block", Owner: "alice", Health: 30, MaxHealth: 30}))
	blocks, err := store.LoadBlocks(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "alice", blocks[0].Owner)
	require.NoError(t, store.DeleteBlock(ctx, "b1"))

	require.NoError(t, store.SaveItem(ctx, ItemRecord{ID: "w1", Type: "MPSD", Quantity: 1, Permanent: true}))
	require.NoError(t, store.SaveItem(ctx, ItemRecord{ID: "d1", Type: "wood", Quantity: 1}))
	require.NoError(t, store.SaveItem(ctx, ItemRecord{ID: "d2", Type: "stone", Quantity: 1}))

	removed, err := store.ClearItems(ctx, func(it ItemRecord) bool { return !it.Permanent })
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	items, err := store.LoadItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestBatchLoadSkipsMissing(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BatchStore(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}))
	got, err := store.BatchLoad(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, got)
}

func TestCalibrationOverwrite(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	data, err := store.LoadCalibration(ctx, "weapon")
	require.NoError(t, err)
	assert.Nil(t, data, "нет сохранённой калибровки — nil")

	require.NoError(t, store.SaveCalibration(ctx, "weapon", []byte(`{"x":1}`)))
	require.NoError(t, store.SaveCalibration(ctx, "weapon", []byte(`{"x":2,"y":[1,2]}`)))

	data, err = store.LoadCalibration(ctx, "weapon")
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":2,"y":[1,2]}`, string(data))

	assert.Error(t, store.SaveCalibration(ctx, "weapon", []byte(`{broken`)))
	assert.Error(t, store.SaveCalibration(ctx, "", []byte(`{}`)))
}
