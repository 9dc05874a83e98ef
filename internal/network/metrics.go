package network

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activeClients = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "network",
		Name:      "clients_active",
		Help:      "Открытые соединения по транспорту.",
	}, []string{"transport"})

	messagesIn = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "network",
		Name:      "messages_in_total",
		Help:      "Входящие сообщения по событию.",
	}, []string{"event"})

	messagesOut = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "network",
		Name:      "messages_out_total",
		Help:      "Исходящие сообщения, поставленные в очередь отправки.",
	})

	messagesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "network",
		Name:      "messages_dropped_total",
		Help:      "Исходящие сообщения, отброшенные из-за переполненной очереди клиента.",
	})

	handlerSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "network",
		Name:      "handler_seconds",
		Help:      "Время обработки входящего события.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"event"})

	handlerPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "network",
		Name:      "handler_panics_total",
		Help:      "Паники, перехваченные в обработчиках.",
	})

	rejectedActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "network",
		Name:      "rejected_total",
		Help:      "Отклонённые запросы по классу ошибки.",
	}, []string{"kind"})

	chunksSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "network",
		Name:      "chunks_sent_total",
		Help:      "Отправленные клиентам чанки.",
	})

	registerOnce sync.Once
)

// RegisterMetrics регистрирует сетевые метрики; повторные вызовы ничего не делают
func RegisterMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(activeClients, messagesIn, messagesOut, messagesDropped,
			handlerSeconds, handlerPanics, rejectedActions, chunksSent)
	})
}
