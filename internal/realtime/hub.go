// Package realtime fans out row-level change events to WebSocket
// subscribers. Each connection subscribes to one table of one home.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dukerupert/orderlyflow/internal/metrics"
	"github.com/dukerupert/orderlyflow/internal/model"
)

// Message types sent to subscribers.
const (
	TypeSubscribed = "subscribed"
	TypeChange     = "change"
	TypeError      = "error"
)

// Message is the wire frame of the change feed.
type Message struct {
	Type   string             `json:"type"`
	Table  string             `json:"table"`
	HomeID string             `json:"home_id"`
	Event  *model.ChangeEvent `json:"event,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// Topic selects the events of one table belonging to one home.
type Topic struct {
	Table  string
	HomeID string
}

// Matches reports whether ev belongs to the topic.
func (t Topic) Matches(ev model.ChangeEvent) bool {
	return ev.Table == t.Table && ev.HomeID() == t.HomeID
}

// Hub maintains the set of active subscribers and publishes change events
// to the ones whose topic matches.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
		metrics: m,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.SubscriberAdded()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		h.metrics.SubscriberRemoved()
	}
}

// Publish sends ev to every subscriber of its (table, home) topic. A
// subscriber whose buffer is full misses the event.
func (h *Hub) Publish(ev model.ChangeEvent) {
	data, err := json.Marshal(Message{
		Type:   TypeChange,
		Table:  ev.Table,
		HomeID: ev.HomeID(),
		Event:  &ev,
	})
	if err != nil {
		h.logger.Error("marshal change event", "error", err)
		return
	}
	h.metrics.ChangeEventPublished(ev.Table, string(ev.EventType))

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.topic.Matches(ev) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("subscriber buffer full, dropping event", "table", ev.Table, "home_id", c.topic.HomeID)
		}
	}
}

// Revalidate drops every subscriber for which allowed(userID, homeID)
// reports false, after telling it why. It returns the number dropped.
// allowed is called without the hub lock held.
func (h *Hub) Revalidate(allowed func(userID, homeID string) bool) int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var revoked []*Client
	for _, c := range clients {
		if !allowed(c.userID, c.topic.HomeID) {
			revoked = append(revoked, c)
		}
	}
	if len(revoked) == 0 {
		return 0
	}

	notice, _ := json.Marshal(Message{Type: TypeError, Error: "access to home revoked"})
	n := 0
	h.mu.Lock()
	for _, c := range revoked {
		if _, ok := h.clients[c]; !ok {
			continue
		}
		select {
		case c.send <- notice:
		default:
		}
		delete(h.clients, c)
		close(c.send)
		n++
	}
	h.mu.Unlock()

	for i := 0; i < n; i++ {
		h.metrics.SubscriberRemoved()
	}
	for _, c := range revoked {
		h.logger.Info("subscription revoked", "user_id", c.userID, "table", c.topic.Table, "home_id", c.topic.HomeID)
	}
	return n
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
