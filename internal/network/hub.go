package network

import (
	"sort"
	"sync"

	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/protocol"
)

// Hub - все открытые соединения сервера
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub создаёт пустой хаб
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// Add регистрирует клиента
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c.ID()] = c
	h.mu.Unlock()
	activeClients.WithLabelValues(c.Transport()).Inc()
}

// Remove убирает клиента; false, если его уже нет
func (h *Hub) Remove(id string) bool {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if ok {
		activeClients.WithLabelValues(c.Transport()).Dec()
	}
	return ok
}

// Get ищет клиента по ID
func (h *Hub) Get(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

// Count - число открытых соединений
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IDs - идентификаторы всех соединений по возрастанию
func (h *Hub) IDs() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// SendTo отправляет событие одному соединению
func (h *Hub) SendTo(id, event string, data interface{}) bool {
	c, ok := h.Get(id)
	if !ok {
		return false
	}
	return c.Send(event, data)
}

// SendToMany кодирует событие один раз и рассылает по списку
func (h *Hub) SendToMany(ids []string, event string, data interface{}) int {
	if len(ids) == 0 {
		return 0
	}
	frame, err := protocol.Encode(event, data, nil)
	if err != nil {
		logging.Error("❌ Ошибка сериализации %s: %v", event, err)
		return 0
	}
	sent := 0
	for _, id := range ids {
		if c, ok := h.Get(id); ok && c.SendRaw(frame) {
			sent++
		}
	}
	return sent
}

// Broadcast рассылает событие всем, кроме exclude
func (h *Hub) Broadcast(event string, data interface{}, exclude string) int {
	frame, err := protocol.Encode(event, data, nil)
	if err != nil {
		logging.Error("❌ Ошибка сериализации %s: %v", event, err)
		return 0
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		if id != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.SendRaw(frame) {
			sent++
		}
	}
	return sent
}

// CloseAll закрывает все соединения (остановка сервера)
func (h *Hub) CloseAll() {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.Close()
	}
}
