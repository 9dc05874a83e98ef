package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/storage"
	"github.com/annel0/mmo-world/internal/terrain"
)

// ChunkBackend - постоянное хранилище чанков
type ChunkBackend interface {
	LoadChunk(ctx context.Context, cx, cz int) (*terrain.Chunk, error)
	SaveChunk(ctx context.Context, chunk *terrain.Chunk) error
}

// ChunkRepo - многоуровневый репозиторий чанков:
// L1 ristretto → L2 Redis (опционально, read-through в Badger) → Badger.
// Промах на всех уровнях возвращает storage.ErrNotFound.
type ChunkRepo struct {
	local   *LocalCache
	remote  CacheRepo
	backend ChunkBackend
	codec   *storage.ChunkCodec
	ttl     time.Duration
}

// NewChunkRepo собирает уровни; local и remote могут быть nil
func NewChunkRepo(backend ChunkBackend, codec *storage.ChunkCodec, local *LocalCache, remote CacheRepo, ttl time.Duration) *ChunkRepo {
	return &ChunkRepo{
		local:   local,
		remote:  remote,
		backend: backend,
		codec:   codec,
		ttl:     ttl,
	}
}

// LoadChunk ищет чанк по уровням сверху вниз и прогревает верхние
func (r *ChunkRepo) LoadChunk(ctx context.Context, cx, cz int) (*terrain.Chunk, error) {
	key := terrain.ChunkKey(cx, cz)
	if r.local != nil {
		if chunk, ok := r.local.Get(key); ok {
			return chunk, nil
		}
	}

	if r.remote != nil {
		data, err := r.remote.Get(ctx, storage.ChunkKey(cx, cz))
		if err == nil {
			chunk, derr := r.codec.Decode(data)
			if derr == nil {
				r.setLocal(key, chunk)
				return chunk, nil
			}
			logging.Warn("⚠️ Повреждённый чанк %s в Redis, читаем из хранилища: %v", key, derr)
		} else if !IsCacheMiss(err) {
			logging.Warn("⚠️ Redis недоступен для чанка %s: %v", key, err)
		}
	}

	chunk, err := r.backend.LoadChunk(ctx, cx, cz)
	if err != nil {
		return nil, err
	}
	r.setLocal(key, chunk)
	return chunk, nil
}

// SaveChunk пишет в хранилище, затем обновляет кеши
func (r *ChunkRepo) SaveChunk(ctx context.Context, chunk *terrain.Chunk) error {
	if err := r.backend.SaveChunk(ctx, chunk); err != nil {
		return err
	}
	r.setLocal(chunk.Key(), chunk)
	if r.remote != nil {
		if err := r.remote.Set(ctx, storage.ChunkKey(chunk.CX, chunk.CZ), r.codec.Encode(chunk), r.ttl); err != nil {
			logging.Warn("⚠️ Не удалось положить чанк %s в Redis: %v", chunk.Key(), err)
		}
	}
	return nil
}

// Invalidate сбрасывает чанк из кешей (Redis-удаление рассылается по NATS)
func (r *ChunkRepo) Invalidate(ctx context.Context, cx, cz int) {
	if r.local != nil {
		r.local.Del(terrain.ChunkKey(cx, cz))
	}
	if r.remote != nil {
		if err := r.remote.Delete(ctx, storage.ChunkKey(cx, cz)); err != nil {
			logging.Warn("⚠️ Не удалось инвалидировать чанк %d:%d в Redis: %v", cx, cz, err)
		}
	}
}

// Prefetch одним запросом к Redis прогревает L1 для пачки чанков.
// Возвращает, сколько чанков легло в L1; промахи дочитает LoadChunk.
func (r *ChunkRepo) Prefetch(ctx context.Context, positions []terrain.ChunkPos) int {
	if r.remote == nil || r.local == nil {
		return 0
	}
	wanted := make(map[string]terrain.ChunkPos, len(positions))
	keys := make([]string, 0, len(positions))
	for _, pos := range positions {
		if _, ok := r.local.Get(terrain.ChunkKey(pos.CX, pos.CZ)); ok {
			continue
		}
		key := storage.ChunkKey(pos.CX, pos.CZ)
		if _, dup := wanted[key]; dup {
			continue
		}
		wanted[key] = pos
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return 0
	}

	found, err := r.remote.BatchGet(ctx, keys)
	if err != nil {
		logging.Warn("⚠️ Пакетное чтение %d чанков из Redis: %v", len(keys), err)
		return 0
	}
	warmed := 0
	for key, data := range found {
		pos, ok := wanted[key]
		if !ok {
			continue
		}
		chunk, err := r.codec.Decode(data)
		if err != nil {
			logging.Warn("⚠️ Повреждённый чанк %d:%d в Redis: %v", pos.CX, pos.CZ, err)
			continue
		}
		r.setLocal(chunk.Key(), chunk)
		warmed++
	}
	return warmed
}

// CacheMetrics - счётчики Redis; nil без общего кеша
func (r *ChunkRepo) CacheMetrics() *CacheMetrics {
	if r.remote == nil {
		return nil
	}
	return r.remote.GetMetrics()
}

// DropLocal - обработчик инвалидаций от других узлов
func (r *ChunkRepo) DropLocal(key string) error {
	if r.local == nil {
		return nil
	}
	if !strings.HasPrefix(key, storage.PrefixChunk) {
		return errors.New("не ключ чанка: " + key)
	}
	r.local.Del(strings.TrimPrefix(key, storage.PrefixChunk))
	return nil
}

func (r *ChunkRepo) setLocal(key string, chunk *terrain.Chunk) {
	if r.local != nil {
		r.local.Set(key, chunk)
	}
}
