package services

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// ConnectionManager tracks live WebSocket connections per user so answer
// notifications can be pushed without polling. A user may have several
// connections (multiple tabs); all of them receive each event.
type ConnectionManager struct {
	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]bool
}

// NewConnectionManager creates an empty connection registry
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		conns: make(map[string]map[*websocket.Conn]bool),
	}
}

// Register adds a connection for a user
func (cm *ConnectionManager) Register(userID string, conn *websocket.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.conns[userID] == nil {
		cm.conns[userID] = make(map[*websocket.Conn]bool)
	}
	cm.conns[userID][conn] = true
	log.Printf("🔌 [WS] User %s connected (%d active)", userID, len(cm.conns[userID]))
}

// Unregister removes a connection for a user
func (cm *ConnectionManager) Unregister(userID string, conn *websocket.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if set, ok := cm.conns[userID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(cm.conns, userID)
		}
	}
}

// SendToUser delivers a JSON event to all of a user's connections.
// Returns true if at least one connection received it.
func (cm *ConnectionManager) SendToUser(userID string, event interface{}) bool {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("⚠️ [WS] Failed to marshal event for user %s: %v", userID, err)
		return false
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	delivered := false
	for conn := range cm.conns[userID] {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("⚠️ [WS] Write to user %s failed: %v", userID, err)
			continue
		}
		delivered = true
	}
	return delivered
}

// ConnectedUsers returns the number of users with at least one connection
func (cm *ConnectionManager) ConnectedUsers() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}
