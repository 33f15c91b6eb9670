// Package monitor serves a live view of the controller: controller snapshots
// over WebSocket plus metrics in JSON and Prometheus form.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"essim_battery/internal/engine"
	"essim_battery/internal/infra"
)

const (
	writeTimeout = 5 * time.Second
	sendBuffer   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans controller snapshots out to WebSocket clients. New clients get the
// latest snapshot immediately.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}

	mu      sync.RWMutex
	last    []byte
	metrics *infra.Metrics
	archive RunArchive
}

// NewHub creates a hub. Call Run before serving clients.
func NewHub(metrics *infra.Metrics) *Hub {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		metrics:    metrics,
	}
}

// Run owns the client set until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for c := range h.clients {
				c.Close()
				delete(h.clients, c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			if last := h.Last(); last != nil {
				h.write(c, last)
			}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.Close()
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				h.write(c, msg)
			}
		}
	}
}

func (h *Hub) write(c *websocket.Conn, msg []byte) {
	_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
		delete(h.clients, c)
		c.Close()
	}
}

// Publish queues a snapshot for broadcast. It never blocks the controller:
// when the buffer is full the update is dropped, the next one supersedes it.
func (h *Hub) Publish(s engine.Snapshot) {
	b, err := json.Marshal(s)
	if err != nil {
		slog.Warn("Snapshot encode failed", slog.Any("error", err))
		return
	}
	h.mu.Lock()
	h.last = b
	h.mu.Unlock()

	select {
	case h.broadcast <- b:
	default:
	}
}

// Last returns the most recent encoded snapshot.
func (h *Hub) Last() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// ServeWS upgrades the request and registers the client. Incoming frames are
// read and discarded so close frames are noticed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				select {
				case h.unregister <- conn:
				case <-h.done:
				}
				return
			}
		}
	}()
}

// ServeSnapshot writes the latest snapshot as JSON.
func (h *Hub) ServeSnapshot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	last := h.Last()
	if last == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	_, _ = w.Write(last)
}

// ServeMetrics writes the metrics snapshot as JSON.
func (h *Hub) ServeMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.metrics.Snapshot())
}
