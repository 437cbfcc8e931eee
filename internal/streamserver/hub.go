package streamserver

import (
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"webstream/pkg/errors"
	"webstream/pkg/metrics"
)

// Subscriber is one connected stream client
type Subscriber struct {
	ID          uint64
	RemoteAddr  string
	ConnectedAt time.Time

	events chan Event
}

// Events delivers published events. It is closed when the subscriber is
// removed or the hub shuts down.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// ClientInfo describes a subscriber for the clients endpoint
type ClientInfo struct {
	ID          uint64    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Hub fans published events out to subscribers. Each subscriber has a
// bounded queue; a subscriber whose queue is full misses the event instead
// of stalling the publisher.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uint64]*Subscriber
	nextID      uint64
	seq         uint64
	buffer      int
	closed      bool

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHub creates a hub with per-subscriber queues of the given size
func NewHub(buffer int, m *metrics.Metrics, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultConfig().ClientBuffer
	}
	return &Hub{
		subscribers: make(map[uint64]*Subscriber),
		buffer:      buffer,
		metrics:     m,
		logger:      logger.With("component", "stream-hub"),
	}
}

// Subscribe registers a new subscriber
func (h *Hub) Subscribe(remoteAddr string) (*Subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errors.NewError(errors.ErrorTypeUnavailable, "stream server is shutting down")
	}

	h.nextID++
	sub := &Subscriber{
		ID:          h.nextID,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now().UTC(),
		events:      make(chan Event, h.buffer),
	}
	h.subscribers[sub.ID] = sub
	h.metrics.SetServerClients(len(h.subscribers))

	h.logger.Info("Client connected", "client_id", sub.ID, "remote_addr", remoteAddr, "clients", len(h.subscribers))
	return sub, nil
}

// Unsubscribe removes a subscriber. Removing one twice is a no-op.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub.ID]; !ok {
		return
	}
	delete(h.subscribers, sub.ID)
	close(sub.events)
	h.metrics.SetServerClients(len(h.subscribers))

	h.logger.Info("Client disconnected", "client_id", sub.ID, "clients", len(h.subscribers))
}

// Publish sends a data event to every subscriber and returns the event
// with its assigned ID and the number of subscribers it was queued for.
func (h *Hub) Publish(eventType, data string) (Event, int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	ev := Event{
		ID:   strconv.FormatUint(h.seq, 10),
		Type: eventType,
		Data: data,
	}

	delivered, dropped := 0, 0
	for _, sub := range h.subscribers {
		select {
		case sub.events <- ev:
			delivered++
		default:
			dropped++
			h.logger.Warn("Client queue full, dropping event", "client_id", sub.ID, "event_id", ev.ID)
		}
	}
	h.metrics.RecordServerPublish(dropped)

	return ev, delivered
}

// Clients lists the connected subscribers in connection order
func (h *Hub) Clients() []ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]ClientInfo, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		clients = append(clients, ClientInfo{
			ID:          sub.ID,
			RemoteAddr:  sub.RemoteAddr,
			ConnectedAt: sub.ConnectedAt,
		})
	}
	slices.SortFunc(clients, func(a, b ClientInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return clients
}

// Count returns the number of connected subscribers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Closed reports whether Close has been called
func (h *Hub) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Close disconnects every subscriber and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subscribers {
		delete(h.subscribers, id)
		close(sub.events)
	}
	h.metrics.SetServerClients(0)
}
