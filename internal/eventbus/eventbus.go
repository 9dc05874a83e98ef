package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Типы мировых событий, которые сервер публикует в шину
const (
	TypePlayerOnline  = "PlayerOnline"
	TypePlayerOffline = "PlayerOffline"
	TypePlayerDied    = "PlayerDied"
	TypeTreeCut       = "TreeCut"
	TypeRockBroken    = "RockBroken"
	TypeObjectRegrown = "ObjectRegrown"
	TypeBlockPlaced   = "BlockPlaced"
	TypeBlockBroken   = "BlockBroken"
	TypeItemPickedUp  = "ItemPickedUp"
	TypeTerrainDug    = "TerrainDug"
)

// Приоритеты: события ниже PriorityHigh отбрасываются при переполнении буфера
const (
	PriorityLow    = 1
	PriorityNormal = 3
	PriorityHigh   = 5
)

// Types перечисляет все типы событий мира
func Types() []string {
	return []string{
		TypePlayerOnline,
		TypePlayerOffline,
		TypePlayerDied,
		TypeTreeCut,
		TypeRockBroken,
		TypeObjectRegrown,
		TypeBlockPlaced,
		TypeBlockBroken,
		TypeItemPickedUp,
		TypeTerrainDug,
	}
}

// Envelope описывает универсальный контейнер события.
type Envelope struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	EventType     string            `json:"eventType"`
	Version       int               `json:"version"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Priority      int               `json:"priority"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEnvelope упаковывает payload в JSON и заполняет служебные поля
func NewEnvelope(source, eventType string, priority int, payload interface{}) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("eventbus: payload %s: %w", eventType, err)
		}
		raw = b
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   1,
		Priority:  priority,
		Payload:   raw,
	}, nil
}

// Decode разбирает payload события
func (ev *Envelope) Decode(dst interface{}) error {
	if len(ev.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(ev.Payload, dst)
}

// Filter позволяет подписаться только на нужные события.
type Filter struct {
	Types   []string // Если пусто — все типы.
	Sources []string // Если пусто — все источники.
}

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события.
type Handler func(ctx context.Context, ev *Envelope)

// Stats агрегированные метрики шины.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus определяет абстракцию шины событий.
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

//================ In-Memory implementation =================//

type memoryBus struct {
	mu          sync.RWMutex
	subscribers map[int]subscriber
	nextID      int

	published uint64
	consumed  uint64
	dropped   uint64

	buffer    chan *Envelope
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type subscriber struct {
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewMemoryBus создаёт in-memory Bus с указанным буфером.
// Обработчики вызываются последовательно из одной горутины в порядке публикации.
func NewMemoryBus(capacity int) EventBus {
	if capacity <= 0 {
		capacity = 1024
	}
	mb := &memoryBus{
		subscribers: make(map[int]subscriber),
		buffer:      make(chan *Envelope, capacity),
		closed:      make(chan struct{}),
	}
	mb.wg.Add(1)
	go mb.dispatchLoop()
	return mb
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	select {
	case <-mb.closed:
		return fmt.Errorf("eventbus: шина закрыта")
	default:
	}

	select {
	case mb.buffer <- ev:
		atomic.AddUint64(&mb.published, 1)
		return nil
	default:
	}

	// Буфер заполнен — низкий приоритет отбрасываем
	if ev.Priority < PriorityHigh {
		atomic.AddUint64(&mb.dropped, 1)
		return nil
	}
	select {
	case mb.buffer <- ev:
		atomic.AddUint64(&mb.published, 1)
		return nil
	case <-mb.closed:
		return fmt.Errorf("eventbus: шина закрыта")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	mb.mu.Lock()
	id := mb.nextID
	mb.nextID++
	cctx, cancel := context.WithCancel(ctx)
	mb.subscribers[id] = subscriber{filter: f, handler: h, ctx: cctx, cancel: cancel}
	mb.mu.Unlock()

	return &memSub{bus: mb, id: id}, nil
}

func (mb *memoryBus) Metrics() Stats {
	return Stats{
		Published: atomic.LoadUint64(&mb.published),
		Consumed:  atomic.LoadUint64(&mb.consumed),
		Dropped:   atomic.LoadUint64(&mb.dropped),
		InFlight:  len(mb.buffer),
	}
}

// Close останавливает доставку; события, уже лежащие в буфере, доставляются
func (mb *memoryBus) Close() error {
	mb.closeOnce.Do(func() {
		close(mb.closed)
		mb.wg.Wait()
	})
	return nil
}

// dispatchLoop рассылает события подписчикам.
func (mb *memoryBus) dispatchLoop() {
	defer mb.wg.Done()
	for {
		select {
		case ev := <-mb.buffer:
			mb.deliver(ev)
		case <-mb.closed:
			for {
				select {
				case ev := <-mb.buffer:
					mb.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (mb *memoryBus) deliver(ev *Envelope) {
	mb.mu.RLock()
	subs := make([]subscriber, 0, len(mb.subscribers))
	for _, sub := range mb.subscribers {
		subs = append(subs, sub)
	}
	mb.mu.RUnlock()

	for _, sub := range subs {
		if !matchFilter(ev, sub.filter) || sub.ctx.Err() != nil {
			continue
		}
		sub.handler(sub.ctx, ev)
		atomic.AddUint64(&mb.consumed, 1)
	}
}

func matchFilter(ev *Envelope, f Filter) bool {
	match := func(val string, arr []string) bool {
		if len(arr) == 0 {
			return true
		}
		for _, v := range arr {
			if v == val {
				return true
			}
		}
		return false
	}
	return match(ev.EventType, f.Types) && match(ev.Source, f.Sources)
}

type memSub struct {
	bus *memoryBus
	id  int
}

func (s *memSub) Unsubscribe() {
	s.bus.mu.Lock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		sub.cancel()
		delete(s.bus.subscribers, s.id)
	}
	s.bus.mu.Unlock()
}
