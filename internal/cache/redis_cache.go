package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/mmo-world/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisCache - горячий кеш чанков, общий для всех узлов. При промахе
// читает из ColdStorage (read-through) и асинхронно прогревает Redis.
type RedisCache struct {
	client      redis.UniversalClient
	config      *CacheConfig
	coldStorage ColdStorage
	invalidator CacheInvalidator

	metrics      CacheMetrics
	metricsMutex sync.RWMutex

	latencySum   int64 // нс
	latencyCount int64
	maxLatency   int64
}

// NewRedisCache подключается к Redis. coldStorage и invalidator могут быть nil.
func NewRedisCache(config *CacheConfig, coldStorage ColdStorage, invalidator CacheInvalidator) (*RedisCache, error) {
	if config.RedisURL == "" {
		return nil, fmt.Errorf("не указан адрес Redis")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisURL,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}

	rc := NewRedisCacheWithClient(rdb, config, coldStorage, invalidator)
	logging.Info("🧊 Redis кеш чанков подключён: %s", config.RedisURL)
	return rc, nil
}

// NewRedisCacheWithClient оборачивает готовый клиент (кластер, sentinel)
func NewRedisCacheWithClient(client redis.UniversalClient, config *CacheConfig, coldStorage ColdStorage, invalidator CacheInvalidator) *RedisCache {
	if config.DefaultTTL == 0 {
		config.DefaultTTL = time.Hour
	}
	if config.MaxTTL == 0 {
		config.MaxTTL = 24 * time.Hour
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "mmo-world:"
	}
	return &RedisCache{
		client:      client,
		config:      config,
		coldStorage: coldStorage,
		invalidator: invalidator,
		metrics:     CacheMetrics{LastUpdate: time.Now()},
	}
}

func (r *RedisCache) key(k string) string { return r.config.KeyPrefix + k }

// Get читает значение; при промахе пробует cold storage
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer r.recordLatency(start)

	atomic.AddInt64(&r.metrics.TotalRequests, 1)

	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == nil {
		atomic.AddInt64(&r.metrics.CacheHits, 1)
		return val, nil
	}
	atomic.AddInt64(&r.metrics.CacheMisses, 1)

	if !errors.Is(err, redis.Nil) {
		// Redis недоступен, не блокируем игру, идём в cold storage
		logging.Warn("⚠️ Redis Get %s: %v", key, err)
	}

	if r.coldStorage == nil {
		return nil, ErrCacheMiss
	}
	val, err = r.coldStorage.Load(ctx, key)
	if err != nil {
		logging.Debug("cold storage промах %s: %v", key, err)
		return nil, ErrCacheMiss
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Set(ctx, key, val, r.config.DefaultTTL)
	}()
	return val, nil
}

// Set кладёт значение в Redis
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	defer r.recordLatency(start)

	if ttl > r.config.MaxTTL {
		ttl = r.config.MaxTTL
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete удаляет ключ и уведомляет другие узлы
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	if r.invalidator != nil {
		if err := r.invalidator.PublishInvalidation(ctx, key); err != nil {
			logging.Warn("⚠️ Не удалось разослать инвалидацию %s: %v", key, err)
		}
	}
	return nil
}

// BatchGet читает ключи одним pipeline
func (r *RedisCache) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	start := time.Now()
	defer r.recordLatency(start)

	atomic.AddInt64(&r.metrics.TotalRequests, int64(len(keys)))

	pipe := r.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(keys))
	for _, key := range keys {
		cmds[key] = pipe.Get(ctx, r.key(key))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis batch get: %w", err)
	}

	var hits int64
	for key, cmd := range cmds {
		if val, err := cmd.Bytes(); err == nil {
			result[key] = val
			hits++
		}
	}
	atomic.AddInt64(&r.metrics.CacheHits, hits)
	atomic.AddInt64(&r.metrics.CacheMisses, int64(len(keys))-hits)
	return result, nil
}

// Close закрывает соединение с Redis
func (r *RedisCache) Close() error {
	if err := r.client.Close(); err != nil {
		logging.Error("Ошибка закрытия Redis: %v", err)
		return err
	}
	logging.Info("Redis кеш закрыт")
	return nil
}

// GetMetrics возвращает копию метрик
func (r *RedisCache) GetMetrics() *CacheMetrics {
	r.metricsMutex.RLock()
	defer r.metricsMutex.RUnlock()

	m := CacheMetrics{
		TotalRequests: atomic.LoadInt64(&r.metrics.TotalRequests),
		CacheHits:     atomic.LoadInt64(&r.metrics.CacheHits),
		CacheMisses:   atomic.LoadInt64(&r.metrics.CacheMisses),
		AvgLatencyMs:  r.metrics.AvgLatencyMs,
		MaxLatencyMs:  r.metrics.MaxLatencyMs,
		LastUpdate:    time.Now(),
	}
	if total := m.CacheHits + m.CacheMisses; total > 0 {
		m.HitRatio = float64(m.CacheHits) / float64(total)
	}
	return &m
}

func (r *RedisCache) recordLatency(start time.Time) {
	latency := time.Since(start).Nanoseconds()

	sum := atomic.AddInt64(&r.latencySum, latency)
	count := atomic.AddInt64(&r.latencyCount, 1)
	for {
		current := atomic.LoadInt64(&r.maxLatency)
		if latency <= current || atomic.CompareAndSwapInt64(&r.maxLatency, current, latency) {
			break
		}
	}

	if count%100 == 0 {
		r.metricsMutex.Lock()
		r.metrics.AvgLatencyMs = float64(sum) / float64(count) / 1e6
		r.metrics.MaxLatencyMs = float64(atomic.LoadInt64(&r.maxLatency)) / 1e6
		r.metricsMutex.Unlock()
	}
}
