package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientSendSize = 64
)

// Hub streams status events to websocket clients. Each client has a
// bounded send buffer; events for a client whose buffer is full are
// dropped for that client only.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[string]chan []byte
	dropped map[string]int
}

// NewHub creates a Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger.With("component", "event_hub"),
		clients: make(map[string]chan []byte),
		dropped: make(map[string]int),
	}
}

// HandleEvent queues the event for every connected client.
func (h *Hub) HandleEvent(_ context.Context, event *StatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, send := range h.clients {
		select {
		case send <- data:
		default:
			h.dropped[id]++
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade to websocket", slog.String("error", err.Error()))
		return
	}

	clientID := uuid.NewString()
	send := h.register(clientID)
	h.logger.Debug("websocket client connected", slog.String("client_id", clientID))

	done := make(chan struct{})
	go h.readLoop(conn, done)
	h.writeLoop(conn, send, done)

	h.unregister(clientID)
	if err := conn.Close(); err != nil {
		h.logger.Debug("failed to close websocket connection", slog.String("error", err.Error()))
	}
	h.logger.Debug("websocket client disconnected", slog.String("client_id", clientID))
}

func (h *Hub) register(id string) chan []byte {
	send := make(chan []byte, clientSendSize)
	h.mu.Lock()
	h.clients[id] = send
	h.mu.Unlock()
	return send
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	dropped := h.dropped[id]
	delete(h.dropped, id)
	h.mu.Unlock()
	if dropped > 0 {
		h.logger.Warn("dropped events for slow websocket client",
			slog.String("client_id", id),
			slog.Int("dropped", dropped))
	}
}

// readLoop discards client messages and closes done once the peer goes away.
func (h *Hub) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case data := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ Handler = (*Hub)(nil)
