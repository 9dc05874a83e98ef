package cache

import (
	"context"
	"errors"
	"time"
)

// CacheRepo - общий горячий кеш байтов (Redis). Чанки кладутся туда
// в бинарном формате storage.ChunkCodec.
//
// Использование:
//
//	rc, _ := NewRedisCache(cfg, badgerStore, nil)
//	data, err := rc.Get(ctx, "chunk:1:2")
//	err = rc.Set(ctx, "chunk:1:2", data, time.Hour)
type CacheRepo interface {
	// Get возвращает ErrCacheMiss, если ключа нет ни в кеше, ни в cold storage
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение с TTL; 0 — без истечения
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// BatchGet возвращает только найденные ключи
	BatchGet(ctx context.Context, keys []string) (map[string][]byte, error)

	Close() error

	GetMetrics() *CacheMetrics
}

// ColdStorage - постоянное хранилище за кешем (storage.BadgerStore).
type ColdStorage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	BatchLoad(ctx context.Context, keys []string) (map[string][]byte, error)
	BatchStore(ctx context.Context, items map[string][]byte) error
	Close() error
}

// CacheInvalidator рассылает и принимает инвалидации между узлами
type CacheInvalidator interface {
	PublishInvalidation(ctx context.Context, key string) error
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error
	Close() error
}

// InvalidationHandler обрабатывает ключ, изменённый другим узлом
type InvalidationHandler func(key string) error

// CacheMetrics - счётчики кеша для /api/stats
type CacheMetrics struct {
	TotalRequests int64     `json:"total_requests"`
	CacheHits     int64     `json:"cache_hits"`
	CacheMisses   int64     `json:"cache_misses"`
	HitRatio      float64   `json:"hit_ratio"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	MaxLatencyMs  float64   `json:"max_latency_ms"`
	LastUpdate    time.Time `json:"last_update"`
}

// CacheConfig - подключение к Redis
type CacheConfig struct {
	RedisURL       string
	RedisPassword  string
	RedisDB        int
	KeyPrefix      string
	DefaultTTL     time.Duration
	MaxTTL         time.Duration
	MaxConnections int
	PoolTimeout    time.Duration
}

// Ошибки кеша
var (
	ErrCacheMiss  = errors.New("cache miss")
	ErrInvalidKey = errors.New("invalid key")
)

// IsCacheMiss проверяет, является ли ошибка промахом кеша
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
