package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/annel0/mmo-world/internal/config"
	"github.com/annel0/mmo-world/internal/eventbus"
	"github.com/annel0/mmo-world/internal/logging"
)

// Webhook - внешний получатель мировых событий
type Webhook struct {
	ID           uint64     `json:"id"`
	Name         string     `json:"name"`
	URL          string     `json:"url" binding:"required"`
	Secret       string     `json:"secret,omitempty"`
	Events       []string   `json:"events"` // пусто или "*" — все события
	Active       bool       `json:"active"`
	Timeout      int        `json:"timeout"` // секунды
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	FailureCount int        `json:"failure_count"`
}

// WebhookEvent - тело POST-запроса к получателю
type WebhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Timestamp int64           `json:"timestamp"`
	ServerID  string          `json:"server_id"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// WebhookDispatcher пересылает события шины подписанным webhook'ам.
// Доставка идёт из одной горутины, очередь ограничена; при переполнении событие теряется.
type WebhookDispatcher struct {
	mu       sync.RWMutex
	webhooks map[uint64]*Webhook
	nextID   uint64

	queue      chan WebhookEvent
	httpClient *http.Client
	serverID   string
	retryDelay time.Duration

	sub       eventbus.Subscription
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWebhookDispatcher создаёт диспетчер и запускает воркер доставки
func NewWebhookDispatcher(serverID string) *WebhookDispatcher {
	d := &WebhookDispatcher{
		webhooks:   make(map[uint64]*Webhook),
		nextID:     1,
		queue:      make(chan WebhookEvent, 1000),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		serverID:   serverID,
		retryDelay: time.Second,
		done:       make(chan struct{}),
	}
	d.wg.Add(1)
	go d.eventWorker()
	return d
}

// AddFromConfig регистрирует webhook'и из файла конфигурации
func (d *WebhookDispatcher) AddFromConfig(hooks []config.WebhookConfig) {
	for _, h := range hooks {
		wh := d.AddWebhook(Webhook{
			Name:       h.Name,
			URL:        h.URL,
			Secret:     h.Secret,
			Events:     h.Events,
			Timeout:    int(h.Timeout.Seconds()),
			RetryCount: h.Retries,
		})
		logging.Info("🪝 Webhook %s → %s (%d типов событий)", wh.Name, wh.URL, len(wh.Events))
	}
}

// Attach подписывает диспетчер на все события шины
func (d *WebhookDispatcher) Attach(ctx context.Context, bus eventbus.EventBus) error {
	sub, err := bus.Subscribe(ctx, eventbus.Filter{}, func(_ context.Context, ev *eventbus.Envelope) {
		d.Enqueue(ev)
	})
	if err != nil {
		return fmt.Errorf("подписка webhook'ов на шину: %w", err)
	}
	d.mu.Lock()
	d.sub = sub
	d.mu.Unlock()
	return nil
}

// AddWebhook добавляет webhook и возвращает его копию с присвоенным ID
func (d *WebhookDispatcher) AddWebhook(wh Webhook) Webhook {
	d.mu.Lock()
	defer d.mu.Unlock()

	wh.ID = d.nextID
	d.nextID++
	wh.CreatedAt = time.Now()
	wh.Active = true
	if wh.Name == "" {
		wh.Name = fmt.Sprintf("webhook-%d", wh.ID)
	}
	if wh.Timeout <= 0 {
		wh.Timeout = 10
	}
	if wh.RetryCount < 0 {
		wh.RetryCount = 0
	}

	d.webhooks[wh.ID] = &wh
	return wh
}

// Webhooks возвращает копии всех webhook'ов по возрастанию ID
func (d *WebhookDispatcher) Webhooks() []Webhook {
	d.mu.RLock()
	out := make([]Webhook, 0, len(d.webhooks))
	for _, wh := range d.webhooks {
		out = append(out, *wh)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Webhook возвращает копию webhook'а по ID
func (d *WebhookDispatcher) Webhook(id uint64) (Webhook, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	wh, ok := d.webhooks[id]
	if !ok {
		return Webhook{}, false
	}
	return *wh, true
}

// DeleteWebhook удаляет webhook
func (d *WebhookDispatcher) DeleteWebhook(id uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.webhooks[id]; !ok {
		return false
	}
	delete(d.webhooks, id)
	return true
}

// Enqueue ставит событие шины в очередь доставки
func (d *WebhookDispatcher) Enqueue(ev *eventbus.Envelope) {
	event := WebhookEvent{
		ID:        ev.ID,
		EventType: ev.EventType,
		Timestamp: ev.Timestamp.Unix(),
		ServerID:  d.serverID,
		Source:    ev.Source,
		Data:      ev.Payload,
	}
	select {
	case <-d.done:
	case d.queue <- event:
	default:
		logging.Warn("⚠️ Очередь webhook'ов переполнена, событие %s пропущено", ev.EventType)
	}
}

// Close отписывается от шины и останавливает воркер; недоставленное теряется
func (d *WebhookDispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.RLock()
		sub := d.sub
		d.mu.RUnlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		close(d.done)
		d.wg.Wait()
	})
}

func (d *WebhookDispatcher) eventWorker() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.queue:
			d.processEvent(event)
		case <-d.done:
			return
		}
	}
}

func (d *WebhookDispatcher) processEvent(event WebhookEvent) {
	d.mu.RLock()
	targets := make([]Webhook, 0, len(d.webhooks))
	for _, wh := range d.webhooks {
		if wh.Active && subscribedTo(wh.Events, event.EventType) {
			targets = append(targets, *wh)
		}
	}
	d.mu.RUnlock()

	for _, wh := range targets {
		ok := d.sendToWebhook(wh, event)
		d.mu.Lock()
		if stored, exists := d.webhooks[wh.ID]; exists {
			now := time.Now()
			stored.LastUsed = &now
			if !ok {
				stored.FailureCount++
			}
		}
		d.mu.Unlock()
	}
}

func subscribedTo(events []string, eventType string) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

// sendToWebhook доставляет событие с повторами; true, если получатель ответил 2xx
func (d *WebhookDispatcher) sendToWebhook(wh Webhook, event WebhookEvent) bool {
	body, err := json.Marshal(event)
	if err != nil {
		logging.Error("❌ Ошибка сериализации события для webhook %s: %v", wh.Name, err)
		return false
	}

	for attempt := 0; attempt <= wh.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * d.retryDelay):
			case <-d.done:
				return false
			}
		}

		status, err := d.post(wh, event, body)
		if err == nil && status >= 200 && status < 300 {
			logging.Debug("🪝 %s → %s", event.EventType, wh.Name)
			return true
		}
		if err != nil {
			logging.Warn("⚠️ Попытка %d/%d для webhook %s: %v", attempt+1, wh.RetryCount+1, wh.Name, err)
		} else {
			logging.Warn("⚠️ Webhook %s вернул статус %d на попытке %d", wh.Name, status, attempt+1)
		}
	}
	return false
}

func (d *WebhookDispatcher) post(wh Webhook, event WebhookEvent, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(wh.Timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mmo-world/1.0")
	req.Header.Set("X-Event-Type", event.EventType)
	req.Header.Set("X-Server-ID", event.ServerID)
	if wh.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(body, wh.Secret))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// Sign - HMAC-SHA256 подпись тела в формате "sha256=<hex>"
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// EventTypes - типы событий, на которые можно подписать webhook
func EventTypes() []string {
	return eventbus.Types()
}
