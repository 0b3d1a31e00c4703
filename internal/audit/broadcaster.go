package audit

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Broadcaster pushes appended events to subscribed WebSocket connections.
// It is best-effort: a slow or dead connection drops its message and is
// cleaned up when the client disconnects. The journal itself remains the
// source of truth.
type Broadcaster struct {
	mu          sync.RWMutex
	connections map[*websocket.Conn]bool
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		connections: make(map[*websocket.Conn]bool),
	}
}

// Subscribe registers a WebSocket connection for the live event feed.
func (b *Broadcaster) Subscribe(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connections[conn] = true
}

// Unsubscribe removes a WebSocket connection.
func (b *Broadcaster) Unsubscribe(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.connections, conn)
}

// Publish sends events to all subscribers. Called after the enclosing
// operation has committed; never before.
func (b *Broadcaster) Publish(events ...*Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.connections) == 0 {
		return
	}

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			slog.Error("failed to marshal audit event", "error", err)
			continue
		}
		for conn := range b.connections {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Warn("failed to send audit event to websocket client",
					"error", err,
					"kind", event.Kind,
				)
			}
		}
	}
}

// ConnectionCount returns the number of active subscribers.
func (b *Broadcaster) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.connections)
}
