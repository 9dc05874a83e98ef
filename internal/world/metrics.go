package world

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	chunkRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "world",
		Name:      "chunk_requests_total",
		Help:      "Запросы чанков по источнику ответа (resident, storage, generated).",
	}, []string{"source"})

	chunkGenerationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "world",
		Name:      "chunk_generation_seconds",
		Help:      "Время генерации одного чанка.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	persistFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "world",
		Name:      "persist_failures_total",
		Help:      "Неудачные записи в хранилище по виду данных.",
	}, []string{"kind"})

	persistCoalesced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "world",
		Name:      "persist_coalesced_total",
		Help:      "Отложенные записи, заменённые более новой записью того же ключа.",
	}, []string{"kind"})

	objectsBroken = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "world",
		Name:      "objects_broken_total",
		Help:      "Срубленные деревья, разбитые камни и блоки.",
	}, []string{"kind"})

	worldItemsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "world",
		Name:      "items",
		Help:      "Предметы, лежащие в мире.",
	})

	registerOnce sync.Once
)

// RegisterMetrics регистрирует метрики мира; повторные вызовы ничего не делают
func RegisterMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(chunkRequests, chunkGenerationSeconds, persistFailures, persistCoalesced, objectsBroken, worldItemsGauge)
	})
}
