package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/mmo-world/internal/logging"
	"github.com/nats-io/nats.go"
)

// NATSInvalidator рассылает ключи изменённых чанков (копание) через NATS,
// чтобы узлы сбросили их из локального кеша.
type NATSInvalidator struct {
	conn    *nats.Conn
	subject string
	nodeID  string

	mu           sync.Mutex
	subscription *nats.Subscription

	publishedCount int64
	receivedCount  int64
	errorsCount    int64
}

// InvalidationMessage - сообщение об изменённом ключе
type InvalidationMessage struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
}

// NewNATSInvalidator подключается к NATS. subject по умолчанию "world.chunks.invalidate".
func NewNATSInvalidator(url, subject, nodeID string) (*NATSInvalidator, error) {
	if subject == "" {
		subject = "world.chunks.invalidate"
	}

	conn, err := nats.Connect(url,
		nats.Name("mmo-world-invalidator-"+nodeID),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn("⚠️ NATS (инвалидация) отключён: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("🔄 NATS (инвалидация) переподключён к %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к NATS: %w", err)
	}

	return NewNATSInvalidatorWithConn(conn, subject, nodeID), nil
}

// NewNATSInvalidatorWithConn использует существующее соединение
func NewNATSInvalidatorWithConn(conn *nats.Conn, subject, nodeID string) *NATSInvalidator {
	logging.Info("📡 Инвалидация кеша через NATS: subject=%s node=%s", subject, nodeID)
	return &NATSInvalidator{conn: conn, subject: subject, nodeID: nodeID}
}

// PublishInvalidation рассылает ключ
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(InvalidationMessage{Key: key, Timestamp: time.Now(), NodeID: n.nodeID})
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("ошибка сериализации инвалидации: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("ошибка публикации инвалидации %s: %w", key, err)
	}
	atomic.AddInt64(&n.publishedCount, 1)
	return nil
}

// SubscribeInvalidations вызывает handler для ключей от других узлов.
// Подписка снимается при отмене ctx или Close.
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subscription != nil {
		return fmt.Errorf("подписка на инвалидации уже есть")
	}

	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		atomic.AddInt64(&n.receivedCount, 1)

		var m InvalidationMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			atomic.AddInt64(&n.errorsCount, 1)
			logging.Warn("⚠️ Некорректное сообщение инвалидации: %v", err)
			return
		}
		if m.NodeID == n.nodeID {
			return
		}
		if err := handler(m.Key); err != nil {
			atomic.AddInt64(&n.errorsCount, 1)
			logging.Error("Ошибка обработки инвалидации %s: %v", m.Key, err)
		}
	})
	if err != nil {
		return fmt.Errorf("ошибка подписки на инвалидации: %w", err)
	}
	n.subscription = sub

	go func() {
		<-ctx.Done()
		n.unsubscribe()
	}()
	return nil
}

func (n *NATSInvalidator) unsubscribe() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subscription != nil {
		_ = n.subscription.Unsubscribe()
		n.subscription = nil
	}
}

// Close отписывается и закрывает соединение
func (n *NATSInvalidator) Close() error {
	n.unsubscribe()
	n.conn.Close()
	return nil
}

// Stats возвращает счётчики публикаций/приёмов
func (n *NATSInvalidator) Stats() map[string]int64 {
	return map[string]int64{
		"published": atomic.LoadInt64(&n.publishedCount),
		"received":  atomic.LoadInt64(&n.receivedCount),
		"errors":    atomic.LoadInt64(&n.errorsCount),
	}
}
