package world

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/annel0/mmo-world/internal/storage"
	"github.com/annel0/mmo-world/internal/terrain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSeed = 12345

// countingRepo - репозиторий в памяти, считающий записи
type countingRepo struct {
	mu      sync.Mutex
	chunks  map[string]*terrain.Chunk
	loads   int64
	saves   int64
	saveErr error
	delay   time.Duration

	invalidated []string
	prefetched  []terrain.ChunkPos
}

func newCountingRepo() *countingRepo {
	return &countingRepo{chunks: make(map[string]*terrain.Chunk)}
}

func (r *countingRepo) LoadChunk(ctx context.Context, cx, cz int) (*terrain.Chunk, error) {
	atomic.AddInt64(&r.loads, 1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chunks[terrain.ChunkKey(cx, cz)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c, nil
}

func (r *countingRepo) SaveChunk(ctx context.Context, chunk *terrain.Chunk) error {
	atomic.AddInt64(&r.saves, 1)
	if r.saveErr != nil {
		return r.saveErr
	}
	r.mu.Lock()
	r.chunks[chunk.Key()] = chunk
	r.mu.Unlock()
	return nil
}

func (r *countingRepo) Invalidate(ctx context.Context, cx, cz int) {
	r.mu.Lock()
	r.invalidated = append(r.invalidated, terrain.ChunkKey(cx, cz))
	r.mu.Unlock()
}

func (r *countingRepo) Prefetch(ctx context.Context, positions []terrain.ChunkPos) int {
	r.mu.Lock()
	r.prefetched = append(r.prefetched, positions...)
	r.mu.Unlock()
	return len(positions)
}

func newTestStore(repo ChunkRepository) *ChunkStore {
	return NewChunkStore(terrain.NewGenerator(testSeed, terrain.DefaultOptions()), repo, 64)
}

func TestConcurrentGetOrGenerateGeneratesOnce(t *testing.T) {
	repo := newCountingRepo()
	repo.delay = 20 * time.Millisecond
	store := newTestStore(repo)

	const callers = 16
	results := make([]*terrain.Chunk, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := store.GetOrGenerate(context.Background(), 3, -4)
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), store.Generated(), "одна генерация")
	assert.Equal(t, int64(1), atomic.LoadInt64(&repo.saves), "одна запись")
	for _, c := range results {
		assert.Same(t, results[0], c, "все получают один и тот же чанк")
	}
}

func TestGetOrGenerateReadsRepository(t *testing.T) {
	repo := newCountingRepo()
	gen := terrain.NewGenerator(testSeed, terrain.DefaultOptions())
	stored := gen.Generate(1, 1)
	stored.Heightmap[0][0] = 999
	repo.chunks[stored.Key()] = stored

	store := NewChunkStore(gen, repo, 8)
	c, err := store.GetOrGenerate(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 999.0, c.Heightmap[0][0], "чанк из хранилища важнее генератора")
	assert.Zero(t, store.Generated())

	_, err = store.GetOrGenerate(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&repo.loads), "второй запрос обслуживается из памяти")
}

func TestGetOrGenerateSurvivesPersistFailure(t *testing.T) {
	repo := newCountingRepo()
	repo.saveErr = errors.New("диск заполнен")
	store := newTestStore(repo)

	c, err := store.GetOrGenerate(context.Background(), 0, 0)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(0), store.Persisted())
	assert.Equal(t, 1, store.ResidentCount())
}

func TestGetOrGenerateHonoursCancelledContext(t *testing.T) {
	store := newTestStore(newCountingRepo())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.GetOrGenerate(ctx, 0, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGeneratedChunkMatchesGenerator(t *testing.T) {
	store := newTestStore(newCountingRepo())
	c, err := store.GetOrGenerate(context.Background(), -2, 7)
	require.NoError(t, err)

	fresh := terrain.NewGenerator(testSeed, terrain.DefaultOptions()).Generate(-2, 7)
	assert.Equal(t, fresh, c)
}

func TestHeightAtFallsBackToModel(t *testing.T) {
	store := newTestStore(newCountingRepo())
	model := store.Generator().Model()

	// чанк не загружен — прямой расчёт по модели
	assert.Equal(t, model.Height(12.3, -45.6), store.HeightAt(12.3, -45.6))

	// в узлах сетки загруженного чанка значения совпадают с моделью
	_, err := store.GetOrGenerate(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, model.Height(10, 20), store.HeightAt(10, 20), 1e-9)
}

func TestDigLowersTerrainAcrossChunks(t *testing.T) {
	repo := newCountingRepo()
	store := newTestStore(repo)
	ctx := context.Background()

	// точка на стыке четырёх чанков
	before := store.Generator().Model().Height(50, 50)
	changed, err := store.Dig(ctx, 50, 50, 6, 2)
	require.NoError(t, err)
	require.Len(t, changed, 4)

	keys := make([]string, 0, len(changed))
	for _, c := range changed {
		keys = append(keys, c.Key())
	}
	assert.Equal(t, []string{"0:0", "0:1", "1:0", "1:1"}, keys)

	assert.InDelta(t, before-2, store.HeightAt(50, 50), 1e-9)
	assert.Equal(t, keys, repo.invalidated)

	// общие узлы соседних чанков изменены одинаково
	res := store.Generator().Resolution()
	a, _ := store.GetOrGenerate(ctx, 0, 0)
	east, _ := store.GetOrGenerate(ctx, 1, 0)
	for k := 0; k <= res; k++ {
		assert.Equal(t, a.Heightmap[res][k], east.Heightmap[0][k])
	}
}

func TestHeightAtKeepsDugTerrainAfterEviction(t *testing.T) {
	repo := newCountingRepo()
	store := NewChunkStore(terrain.NewGenerator(testSeed, terrain.DefaultOptions()), repo, 1)
	ctx := context.Background()

	before := store.Generator().Model().Height(25, 25)
	changed, err := store.Dig(ctx, 25, 25, 3, 2)
	require.NoError(t, err)
	require.Len(t, changed, 1)

	_, err = store.GetOrGenerate(ctx, 5, 5)
	require.NoError(t, err)
	require.Equal(t, 1, store.ResidentCount(), "вскопанный чанк вытеснен")

	assert.InDelta(t, before-2, store.HeightAt(25, 25), 1e-9, "высота берётся из сохранённого чанка, а не из модели")
	assert.InDelta(t, store.Generator().Model().Height(260, 260), store.HeightAt(260, 260), 1e-9)
}

func TestDigDoesNotMutateSharedChunk(t *testing.T) {
	store := newTestStore(newCountingRepo())
	ctx := context.Background()

	orig, err := store.GetOrGenerate(ctx, 0, 0)
	require.NoError(t, err)
	h := orig.Heightmap[5][5]

	_, err = store.Dig(ctx, 25, 25, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, h, orig.Heightmap[5][5], "ранее выданный чанк не меняется")

	updated, err := store.GetOrGenerate(ctx, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, h-1, updated.Heightmap[5][5], 1e-9)
}

func TestDigRejectsBadInput(t *testing.T) {
	store := newTestStore(newCountingRepo())
	for name, args := range map[string][4]float64{
		"нулевой радиус":  {0, 0, 0, 1},
		"нулевая глубина": {0, 0, 3, 0},
		"NaN":             {math.NaN(), 0, 3, 1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := store.Dig(context.Background(), args[0], args[1], args[2], args[3])
			assert.Error(t, err)
		})
	}
}

func TestPrefetchSkipsResidentChunks(t *testing.T) {
	repo := newCountingRepo()
	store := newTestStore(repo)
	ctx := context.Background()

	_, err := store.GetOrGenerate(ctx, 0, 0)
	require.NoError(t, err)

	n := store.Prefetch(ctx, []terrain.ChunkPos{{CX: 0, CZ: 0}, {CX: 1, CZ: 0}, {CX: 0, CZ: -1}})
	assert.Equal(t, 2, n)
	assert.Equal(t, []terrain.ChunkPos{{CX: 1, CZ: 0}, {CX: 0, CZ: -1}}, repo.prefetched)

	assert.Zero(t, store.Prefetch(ctx, []terrain.ChunkPos{{CX: 0, CZ: 0}}), "всё резидентно")
}
