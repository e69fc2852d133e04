package server

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mrcode/glucocalc/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// streamEvent is the envelope pushed to websocket clients.
type streamEvent struct {
	Type    string `json:"type"` // "glucose" or "board"
	Payload any    `json:"payload"`
}

// streamClient pairs a connection with a write lock. The websocket
// package allows only one concurrent writer per connection, and
// broadcasts arrive from both the feed poller and handler goroutines.
type streamClient struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (sc *streamClient) writeJSON(v any) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return sc.ws.WriteJSON(v)
}

// Hub fans glucose and board updates out to per-user websocket
// connection sets.
type Hub struct {
	mu     sync.Mutex
	conns  map[string]map[*websocket.Conn]*streamClient
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[string]map[*websocket.Conn]*streamClient),
		logger: logger,
	}
}

func (h *Hub) register(userID string, ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]*streamClient)
	}
	h.conns[userID][ws] = &streamClient{ws: ws}
	streamClients.Inc()
}

func (h *Hub) unregister(userID string, ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[userID]; ok {
		if _, present := set[ws]; present {
			delete(set, ws)
			streamClients.Dec()
		}
		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}
}

// BroadcastGlucose pushes a new reading to the user's connections.
// Dead connections are dropped.
func (h *Hub) BroadcastGlucose(userID string, reading models.GlucoseReading) {
	h.broadcast(userID, streamEvent{Type: "glucose", Payload: reading})
}

// BroadcastBoard pushes a recomputed board state to the user's
// connections.
func (h *Hub) BroadcastBoard(userID string, board models.BoardState) {
	h.broadcast(userID, streamEvent{Type: "board", Payload: board})
}

func (h *Hub) broadcast(userID string, event streamEvent) {
	h.mu.Lock()
	clients := make([]*streamClient, 0, len(h.conns[userID]))
	for _, sc := range h.conns[userID] {
		clients = append(clients, sc)
	}
	h.mu.Unlock()

	for _, sc := range clients {
		if err := sc.writeJSON(event); err != nil {
			h.logger.Warn("websocket write failed, dropping client",
				"userId", userID, "error", err)
			_ = sc.ws.Close()
			h.unregister(userID, sc.ws)
		}
	}
}

// handleStream upgrades the connection and parks it in the hub until
// the client disconnects. Clients are write-only; inbound messages are
// read and discarded to service control frames.
func (s *Server) handleStream(c *gin.Context) {
	userID := c.DefaultQuery("userId", s.defaultUserID)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = ws.Close() }()

	s.hub.register(userID, ws)
	defer s.hub.unregister(userID, ws)
	s.logger.Info("stream client connected", "userId", userID)

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	s.logger.Info("stream client disconnected", "userId", userID)
}
