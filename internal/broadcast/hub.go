// Package broadcast fans ingest events out to websocket observers.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"

	"procodus.dev/footfall/internal/footfall"
	"procodus.dev/footfall/pkg/metrics"
)

// EventSensorDataUpdate names the envelope of every new_data event.
const EventSensorDataUpdate = "sensorDataUpdate"

const broadcastBuffer = 256

// Envelope is the frame written to observers.
type Envelope struct {
	Data  any    `json:"data"`
	Event string `json:"event"`
}

// Hub tracks connected observers and broadcasts events to them. Observers
// that fall behind are dropped; there is no replay.
type Hub struct {
	logger     *slog.Logger
	metrics    *metrics.ServiceMetrics
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	stopOnce   sync.Once
}

// HubConfig holds the configuration for the Hub.
type HubConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.ServiceMetrics // Optional metrics
}

var _ footfall.Publisher = (*Hub)(nil)

// NewHub creates a new Hub instance. Call Run to start fan-out.
func NewHub(cfg *HubConfig) (*Hub, error) {
	if cfg == nil {
		return nil, errors.New("hub config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &Hub{
		logger:     cfg.Logger.With("component", "websocket-hub"),
		metrics:    cfg.Metrics,
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}, nil
}

// Run serves registrations and broadcasts until ctx is canceled, then closes
// every client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.stopOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			closed := h.closeAllClients()
			h.logger.Info("websocket hub stopped", "clients_closed", closed)
			return ctx.Err()

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.setClientGauge(total)
			h.logger.Info("websocket client connected", "client_id", client.id, "total_clients", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.setClientGauge(total)
			h.logger.Info("websocket client disconnected", "client_id", client.id, "total_clients", total)

		case frame := <-h.broadcast:
			h.broadcastToClients(frame)
		}
	}
}

// Publish queues e for every connected observer. It never blocks: when the
// fan-out queue is full the event is discarded.
func (h *Hub) Publish(e footfall.Event) {
	frame, err := json.Marshal(Envelope{Event: EventSensorDataUpdate, Data: e})
	if err != nil {
		h.logger.Error("failed to marshal event", "sensor_id", e.SensorID, "error", err)
		return
	}

	select {
	case h.broadcast <- frame:
	default:
		h.logger.Warn("broadcast queue full, dropping event", "sensor_id", e.SensorID)
	}
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcastToClients(frame []byte) {
	h.mu.Lock()
	var dropped []*Client
	for client := range h.clients {
		select {
		case client.send <- frame:
		default:
			dropped = append(dropped, client)
		}
	}
	for _, client := range dropped {
		close(client.send)
		delete(h.clients, client)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.BroadcastEvents.Inc()
		h.metrics.BroadcastDropped.Add(float64(len(dropped)))
	}
	if len(dropped) > 0 {
		h.setClientGauge(total)
		h.logger.Warn("dropped slow websocket clients", "dropped", len(dropped), "total_clients", total)
	}
}

func (h *Hub) closeAllClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.clients)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.setClientGauge(0)
	return n
}

func (h *Hub) setClientGauge(n int) {
	if h.metrics != nil {
		h.metrics.BroadcastClients.Set(float64(n))
	}
}

// join registers c unless the hub has stopped or ctx ends first.
func (h *Hub) join(ctx context.Context, c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// leave unregisters c; it is a no-op once the hub has stopped.
func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
