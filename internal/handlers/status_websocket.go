package handlers

import (
	"log"

	"studentquery/internal/services"

	"github.com/gofiber/contrib/websocket"
)

// StatusWebSocketHandler pushes answer-ready events to connected clients.
// Clients poll GET /api/query/:id for the answer itself; the socket only
// tells them when to poll.
type StatusWebSocketHandler struct {
	connections *services.ConnectionManager
}

// NewStatusWebSocketHandler creates a status websocket handler
func NewStatusWebSocketHandler(connections *services.ConnectionManager) *StatusWebSocketHandler {
	return &StatusWebSocketHandler{connections: connections}
}

// Handle manages one WebSocket connection at GET /ws/status
func (h *StatusWebSocketHandler) Handle(c *websocket.Conn) {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		c.WriteJSON(map[string]string{"error": "Authentication required"})
		c.Close()
		return
	}

	h.connections.Register(userID, c)
	defer func() {
		h.connections.Unregister(userID, c)
		c.Close()
	}()

	c.WriteJSON(map[string]string{"type": "connected"})

	// Read loop exists only to detect disconnects; inbound messages are
	// ignored.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			log.Printf("🔌 [WS] User %s disconnected: %v", userID, err)
			return
		}
	}
}
