package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Hub tracks open websocket connections per user and pushes JSON
// messages to all of a user's sockets. Dead connections are dropped on
// write failure.
type Hub struct {
	clients map[string]map[*websocket.Conn]bool
	mu      sync.Mutex
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*websocket.Conn]bool),
		logger:  logger,
	}
}

func (h *Hub) RegisterConnection(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*websocket.Conn]bool)
	}
	h.clients[userID][conn] = true
}

func (h *Hub) UnregisterConnection(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[userID]; ok {
		delete(conns, conn)
		conn.Close()
		if len(conns) == 0 {
			delete(h.clients, userID)
		}
	}
}

func (h *Hub) Push(userID string, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal ws message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients[userID] {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Warn("ws push failed",
				zap.String("user_id", userID),
				zap.Error(err))
			conn.Close()
			delete(h.clients[userID], conn)
		}
	}
}
