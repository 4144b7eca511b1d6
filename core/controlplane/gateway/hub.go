package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cordum/cjcard/core/analysis/pipeline"
	"github.com/cordum/cjcard/core/infra/logging"
	"github.com/gorilla/websocket"
)

const (
	clientBuffer = 64
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: isAllowedOrigin,
}

// Hub broadcasts pipeline stage events to websocket clients. It implements
// pipeline.Observer; events are dropped when the hub is saturated and clients
// that fall behind are disconnected.
type Hub struct {
	events chan pipeline.StageEvent

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan pipeline.StageEvent
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		events:  make(chan pipeline.StageEvent, buffer),
		clients: make(map[*websocket.Conn]chan pipeline.StageEvent),
	}
}

// Stage queues ev for broadcast without blocking the pipeline.
func (h *Hub) Stage(_ context.Context, ev pipeline.StageEvent) {
	select {
	case h.events <- ev:
	default:
	}
}

// Clients returns the number of connected stream clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run broadcasts queued events until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.events:
			h.broadcast(ev)
		}
	}
}

func (h *Hub) broadcast(ev pipeline.StageEvent) {
	var slow []*websocket.Conn
	h.mu.RLock()
	for conn, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			slow = append(slow, conn)
		}
	}
	h.mu.RUnlock()
	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, conn := range slow {
		delete(h.clients, conn)
	}
	h.mu.Unlock()
	for _, conn := range slow {
		logging.Warn("gateway", "evicting slow stream client", "remote", conn.RemoteAddr().String())
		if err := conn.Close(); err != nil {
			logging.Error("gateway", "ws client close failed", "error", err)
		}
	}
}

// ServeHTTP upgrades the request and streams events as JSON text frames.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("gateway", "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	logging.Info("gateway", "ws connected", "remote", r.RemoteAddr)

	ch := make(chan pipeline.StageEvent, clientBuffer)
	h.mu.Lock()
	h.clients[ws] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[ws]; ok {
			delete(h.clients, ws)
			close(ch)
		}
		h.mu.Unlock()
	}()

	// Drain client frames so close and ping control messages are processed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logging.Error("gateway", "encode stage event failed", "error", err)
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
