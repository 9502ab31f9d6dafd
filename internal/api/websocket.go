package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Smitty-01/ChainGaurd/internal/events"
	"github.com/Smitty-01/ChainGaurd/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// Hub maintains the set of active websocket clients and broadcasts alerts.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	done      chan struct{}
	closeOnce sync.Once
	mutex     sync.Mutex
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// NewHub creates a hub. Browsers connecting to /stream must come from one of
// allowedOrigins; an empty list or "*" accepts any origin.
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
		clients:   make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(allowedOrigins, origin)
			},
		},
		logger: logger,
	}
}

// Run fans queued messages out to every client until Close is called.
func (h *Hub) Run() {
	for {
		var message []byte
		select {
		case <-h.done:
			return
		case message = <-h.broadcast:
		}

		h.mutex.Lock()
		for client := range h.clients {
			_ = client.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("[WS] Write failed, dropping client", zap.Error(err))
				client.Close()
				delete(h.clients, client)
			}
		}
		metrics.ActiveWebSocketClients.Set(float64(len(h.clients)))
		h.mutex.Unlock()
	}
}

// Close stops Run and disconnects every client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
	metrics.ActiveWebSocketClients.Set(0)
}

// Subscribe handles incoming websocket connections
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("[WS] Upgrade failed", zap.Error(err))
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mutex.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(total))
	h.logger.Info("[WS] Client connected", zap.Int("clients", total))

	// Clients only listen; reading detects disconnects.
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			total := len(h.clients)
			h.mutex.Unlock()
			conn.Close()
			metrics.ActiveWebSocketClients.Set(float64(total))
			h.logger.Info("[WS] Client disconnected", zap.Int("clients", total))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn("[WS] Read error", zap.Error(err))
				}
				return
			}
		}
	}()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Broadcast queues raw data for every client. When the queue is full the
// message is dropped rather than blocking the caller.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("[WS] Broadcast queue full, dropping message")
	}
}

// BroadcastAlert is the events.Manager fan-out hook.
func (h *Hub) BroadcastAlert(alert events.Alert) {
	payload, err := json.Marshal(gin.H{"type": alert.AlertType, "alert": alert})
	if err != nil {
		h.logger.Error("[WS] Failed to encode alert", zap.Error(err))
		return
	}
	h.Broadcast(payload)
}
