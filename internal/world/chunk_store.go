package world

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/mmo-world/internal/gameerr"
	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/storage"
	"github.com/annel0/mmo-world/internal/terrain"
	"github.com/golang/groupcache/lru"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// ChunkRepository - постоянное хранилище чанков (Badger или многоуровневый кеш)
type ChunkRepository interface {
	LoadChunk(ctx context.Context, cx, cz int) (*terrain.Chunk, error)
	SaveChunk(ctx context.Context, chunk *terrain.Chunk) error
}

// chunkInvalidator реализуют репозитории с кешами, которые надо сбросить после копания
type chunkInvalidator interface {
	Invalidate(ctx context.Context, cx, cz int)
}

// chunkPrefetcher реализуют репозитории, умеющие читать пачку чанков за раз
type chunkPrefetcher interface {
	Prefetch(ctx context.Context, positions []terrain.ChunkPos) int
}

// ChunkStore - read-through хранилище чанков: резидентный набор → репозиторий → генератор.
// Одновременно для одной координаты выполняется не больше одной генерации.
// Возвращаемые чанки общие для всех вызывающих и не должны изменяться.
type ChunkStore struct {
	gen    *terrain.Generator
	repo   ChunkRepository
	flight singleflight.Group
	tracer trace.Tracer
	log    *logging.Logger

	mu       sync.Mutex
	resident *lru.Cache
	// чанки, изменённые копанием с момента запуска
	dug map[string]bool

	digMu    sync.Mutex
	digLocks map[string]*sync.Mutex

	generated int64
	persisted int64
}

// NewChunkStore создаёт хранилище; maxResident ограничивает число чанков в памяти
func NewChunkStore(gen *terrain.Generator, repo ChunkRepository, maxResident int) *ChunkStore {
	if maxResident <= 0 {
		maxResident = 4096
	}
	return &ChunkStore{
		gen:      gen,
		repo:     repo,
		tracer:   otel.Tracer("github.com/annel0/mmo-world/internal/world"),
		log:      logging.GetWorldLogger(),
		resident: lru.New(maxResident),
		dug:      make(map[string]bool),
		digLocks: make(map[string]*sync.Mutex),
	}
}

// Generator возвращает генератор мира
func (s *ChunkStore) Generator() *terrain.Generator { return s.gen }

// ChunkSize - размер чанка в мировых единицах
func (s *ChunkStore) ChunkSize() float64 { return s.gen.ChunkSize() }

// GetOrGenerate возвращает чанк (cx, cz): из памяти, из репозитория или сгенерированный.
// Ошибки хранилища не доходят до вызывающего: чанк всё равно возвращается.
func (s *ChunkStore) GetOrGenerate(ctx context.Context, cx, cz int) (*terrain.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := terrain.ChunkKey(cx, cz)
	if chunk, ok := s.residentGet(key); ok {
		chunkRequests.WithLabelValues("resident").Inc()
		return chunk, nil
	}

	// общая работа не должна отменяться вместе с первым из ожидающих
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		if chunk, ok := s.residentGet(key); ok {
			return chunk, nil
		}

		chunk, err := s.repo.LoadChunk(shared, cx, cz)
		if err == nil {
			chunkRequests.WithLabelValues("storage").Inc()
			s.remember(chunk)
			return chunk, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("⚠️ Чтение чанка %s из хранилища не удалось, генерируем заново: %v", key, err)
		}

		chunk = s.generate(shared, cx, cz)
		chunkRequests.WithLabelValues("generated").Inc()

		if err := s.repo.SaveChunk(shared, chunk); err != nil {
			persistFailures.WithLabelValues("chunk").Inc()
			s.log.Warn("⚠️ %v", gameerr.Wrap(gameerr.PersistenceFailure, "save chunk "+key, err))
		} else {
			atomic.AddInt64(&s.persisted, 1)
		}
		s.remember(chunk)
		return chunk, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*terrain.Chunk), nil
}

func (s *ChunkStore) generate(ctx context.Context, cx, cz int) *terrain.Chunk {
	_, span := s.tracer.Start(ctx, "world.GenerateChunk",
		trace.WithAttributes(attribute.Int("chunk.cx", cx), attribute.Int("chunk.cz", cz)))
	defer span.End()

	start := time.Now()
	chunk := s.gen.Generate(cx, cz)
	elapsed := time.Since(start)
	chunkGenerationSeconds.Observe(elapsed.Seconds())
	atomic.AddInt64(&s.generated, 1)

	span.SetAttributes(
		attribute.String("chunk.biome", chunk.Biome.String()),
		attribute.Int("chunk.objects", len(chunk.Trees)+len(chunk.Rocks)+len(chunk.Shrubs)),
	)
	s.log.Debug("🌍 Чанк %d:%d сгенерирован за %v (биом %s)", cx, cz, elapsed, chunk.Biome)
	return chunk
}

// HeightAt - высота поверхности: билинейно по загруженному чанку,
// иначе напрямую из модели высот. Вытесненный из памяти чанк, который
// копали в этом процессе, перечитывается из репозитория. Чанки, вскопанные
// до перезапуска, до первой загрузки отвечают высотой модели.
func (s *ChunkStore) HeightAt(x, z float64) float64 {
	cx, cz := terrain.ChunkCoord(x, z, s.gen.ChunkSize())
	key := terrain.ChunkKey(cx, cz)
	if chunk, ok := s.residentGet(key); ok {
		return chunk.HeightAt(x, z)
	}
	if s.wasDug(key) {
		if chunk, err := s.GetOrGenerate(context.Background(), cx, cz); err == nil {
			return chunk.HeightAt(x, z)
		}
	}
	return s.gen.Model().Height(x, z)
}

func (s *ChunkStore) wasDug(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dug[key]
}

// ResidentCount - сколько чанков сейчас в памяти
func (s *ChunkStore) ResidentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resident.Len()
}

// Prefetch подготавливает пачку чанков перед поштучной выдачей.
// Резидентные пропускаются; без поддержки репозиторием ничего не делает.
func (s *ChunkStore) Prefetch(ctx context.Context, positions []terrain.ChunkPos) int {
	pf, ok := s.repo.(chunkPrefetcher)
	if !ok {
		return 0
	}
	missing := make([]terrain.ChunkPos, 0, len(positions))
	for _, pos := range positions {
		if _, ok := s.residentGet(terrain.ChunkKey(pos.CX, pos.CZ)); !ok {
			missing = append(missing, pos)
		}
	}
	if len(missing) == 0 {
		return 0
	}
	return pf.Prefetch(ctx, missing)
}

// Generated - сколько чанков сгенерировано с момента запуска
func (s *ChunkStore) Generated() int64 { return atomic.LoadInt64(&s.generated) }

// Persisted - сколько сгенерированных чанков успешно записано
func (s *ChunkStore) Persisted() int64 { return atomic.LoadInt64(&s.persisted) }

// Dig опускает рельеф в круге radius вокруг (x, z) на depth в центре с линейным
// затуханием к краю. Затрагивает все чанки, которые пересекает круг; каждый
// изменённый чанк пересохраняется целиком. Возвращает изменённые чанки.
func (s *ChunkStore) Dig(ctx context.Context, x, z, radius, depth float64) ([]*terrain.Chunk, error) {
	for _, v := range []float64{x, z, radius, depth} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, gameerr.Validation("dig", "нечисловые параметры")
		}
	}
	if radius <= 0 || depth <= 0 {
		return nil, gameerr.Validation("dig", "радиус и глубина должны быть положительными")
	}

	size := s.gen.ChunkSize()
	minCX, minCZ := terrain.ChunkCoord(x-radius, z-radius, size)
	maxCX, maxCZ := terrain.ChunkCoord(x+radius, z+radius, size)

	type coord struct{ cx, cz int }
	var coords []coord
	for cx := minCX; cx <= maxCX; cx++ {
		for cz := minCZ; cz <= maxCZ; cz++ {
			coords = append(coords, coord{cx, cz})
		}
	}
	sort.Slice(coords, func(i, j int) bool {
		if coords[i].cx != coords[j].cx {
			return coords[i].cx < coords[j].cx
		}
		return coords[i].cz < coords[j].cz
	})

	var changed []*terrain.Chunk
	for _, c := range coords {
		chunk, err := s.digChunk(ctx, c.cx, c.cz, x, z, radius, depth)
		if err != nil {
			return changed, err
		}
		if chunk != nil {
			changed = append(changed, chunk)
		}
	}
	return changed, nil
}

func (s *ChunkStore) digChunk(ctx context.Context, cx, cz int, x, z, radius, depth float64) (*terrain.Chunk, error) {
	key := terrain.ChunkKey(cx, cz)
	lock := s.digLock(key)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.GetOrGenerate(ctx, cx, cz)
	if err != nil {
		return nil, err
	}

	chunk := current.Clone()
	ox, oz := chunk.Origin()
	step := chunk.Size / float64(chunk.Resolution)
	modified := false

	for i := range chunk.Heightmap {
		for j := range chunk.Heightmap[i] {
			dx := ox + float64(i)*step - x
			dz := oz + float64(j)*step - z
			d := math.Sqrt(dx*dx + dz*dz)
			if d > radius {
				continue
			}
			chunk.Heightmap[i][j] -= depth * (1 - d/radius)
			modified = true
		}
	}
	if !modified {
		return nil, nil
	}

	chunk.HasWater = false
	for _, row := range chunk.Heightmap {
		for _, h := range row {
			if h < chunk.WaterLevel {
				chunk.HasWater = true
			}
		}
	}
	for _, objs := range [][]terrain.Object{chunk.Trees, chunk.Rocks, chunk.Shrubs} {
		for k := range objs {
			dx, dz := objs[k].X-x, objs[k].Z-z
			if dx*dx+dz*dz <= radius*radius {
				objs[k].Y = chunk.HeightAt(objs[k].X, objs[k].Z)
			}
		}
	}

	shared := context.WithoutCancel(ctx)
	if inv, ok := s.repo.(chunkInvalidator); ok {
		inv.Invalidate(shared, cx, cz)
	}
	if err := s.repo.SaveChunk(shared, chunk); err != nil {
		persistFailures.WithLabelValues("chunk").Inc()
		s.log.Warn("⚠️ %v", gameerr.Wrap(gameerr.PersistenceFailure, "save dug chunk "+key, err))
	}
	s.remember(chunk)
	s.mu.Lock()
	s.dug[key] = true
	s.mu.Unlock()
	s.log.Debug("⛏️ Чанк %s изменён копанием в (%.1f, %.1f)", key, x, z)
	return chunk, nil
}

func (s *ChunkStore) digLock(key string) *sync.Mutex {
	s.digMu.Lock()
	defer s.digMu.Unlock()
	l, ok := s.digLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.digLocks[key] = l
	}
	return l
}

func (s *ChunkStore) residentGet(key string) (*terrain.Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.resident.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*terrain.Chunk), true
}

func (s *ChunkStore) remember(chunk *terrain.Chunk) {
	s.mu.Lock()
	s.resident.Add(chunk.Key(), chunk)
	s.mu.Unlock()
}
