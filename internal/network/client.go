package network

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/protocol"
)

// Transport - отправка готовых кадров через конкретное соединение (WebSocket, KCP).
// WriteMessage вызывается только из одной горутины.
type Transport interface {
	WriteMessage(data []byte) error
	Close() error
	RemoteAddr() string
}

// Client - одно подключение. Исходящие сообщения идут через буферизованную
// очередь и пишутся отдельной горутиной.
type Client struct {
	id        string
	transport string
	conn      Transport

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	username string

	chunkOnce sync.Once
	chunkJobs chan protocol.ChunkRequest
	limiter   *rate.Limiter
}

// NewClient создаёт клиента и запускает горутину записи
func NewClient(id, transport string, conn Transport, buffer int, limiter *rate.Limiter) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	c := &Client{
		id:        id,
		transport: transport,
		conn:      conn,
		send:      make(chan []byte, buffer),
		done:      make(chan struct{}),
		chunkJobs: make(chan protocol.ChunkRequest, 4),
		limiter:   limiter,
	}
	go c.writeLoop()
	return c
}

// ID - идентификатор соединения
func (c *Client) ID() string { return c.id }

// Transport - имя транспорта ("ws", "kcp")
func (c *Client) Transport() string { return c.transport }

// RemoteAddr - адрес клиента
func (c *Client) RemoteAddr() string { return c.conn.RemoteAddr() }

// Username - имя вошедшего игрока или пустая строка
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Client) setUsername(name string) {
	c.mu.Lock()
	c.username = name
	c.mu.Unlock()
}

// Done закрывается при отключении
func (c *Client) Done() <-chan struct{} { return c.done }

// Send кодирует событие и ставит его в очередь
func (c *Client) Send(event string, data interface{}) bool {
	return c.SendSeq(event, data, nil)
}

// SendSeq - Send с номером запроса, на который это ответ
func (c *Client) SendSeq(event string, data interface{}, seq *uint64) bool {
	frame, err := protocol.Encode(event, data, seq)
	if err != nil {
		logging.Error("❌ Ошибка сериализации %s для %s: %v", event, c.id, err)
		return false
	}
	return c.SendRaw(frame)
}

// SendRaw ставит готовый кадр в очередь без блокировки.
// При переполненной очереди кадр отбрасывается.
func (c *Client) SendRaw(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		messagesOut.Inc()
		return true
	default:
		messagesDropped.Inc()
		logging.Debug("📭 Очередь клиента %s переполнена, сообщение отброшено", c.id)
		return false
	}
}

// sendBlocking ждёт места в очереди; для потока чанков, которые нельзя терять
func (c *Client) sendBlocking(ctx context.Context, frame []byte) bool {
	select {
	case c.send <- frame:
		messagesOut.Inc()
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close закрывает соединение; повторные вызовы безопасны
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.conn.Close(); err != nil {
			logging.Debug("🔌 Закрытие соединения %s: %v", c.id, err)
		}
	})
}

func (c *Client) writeLoop() {
	for {
		select {
		case frame := <-c.send:
			if err := c.conn.WriteMessage(frame); err != nil {
				logging.Debug("🔌 Ошибка записи в %s: %v", c.id, err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
