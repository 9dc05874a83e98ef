package cache

import (
	"fmt"

	"github.com/annel0/mmo-world/internal/terrain"
	"github.com/dgraph-io/ristretto"
)

// LocalCache - L1 кеш декодированных чанков внутри процесса.
// Хранимые чанки не изменяются: копание кладёт новую копию.
type LocalCache struct {
	cache *ristretto.Cache
}

// NewLocalCache создаёт кеш на maxChunks чанков
func NewLocalCache(maxChunks int64) (*LocalCache, error) {
	if maxChunks <= 0 {
		maxChunks = 2048
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxChunks * 10,
		MaxCost:            maxChunks,
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("не удалось создать ristretto кеш: %w", err)
	}
	return &LocalCache{cache: c}, nil
}

// Get возвращает чанк, если он в кеше
func (l *LocalCache) Get(key string) (*terrain.Chunk, bool) {
	v, ok := l.cache.Get(key)
	if !ok {
		return nil, false
	}
	chunk, ok := v.(*terrain.Chunk)
	return chunk, ok
}

// Set кладёт чанк; запись применяется асинхронно, Wait дожидается её
func (l *LocalCache) Set(key string, chunk *terrain.Chunk) {
	l.cache.Set(key, chunk, 1)
}

// Del удаляет чанк
func (l *LocalCache) Del(key string) {
	l.cache.Del(key)
}

// Wait дожидается применения буферизованных записей
func (l *LocalCache) Wait() {
	l.cache.Wait()
}

// HitRatio - доля попаданий
func (l *LocalCache) HitRatio() float64 {
	return l.cache.Metrics.Ratio()
}

// Close останавливает фоновые горутины ristretto
func (l *LocalCache) Close() {
	l.cache.Close()
}
