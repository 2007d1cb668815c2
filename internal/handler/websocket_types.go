// internal/handler/websocket_types.go
package handler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client stream types
const (
	ClientTypeTelemetry = "telemetry"
	ClientTypeEvents    = "events"
)

// Client represents a WebSocket client
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	Type        string          `json:"type"` // telemetry, events
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`

	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed once the client has been unregistered
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ConnectionManager tracks WebSocket clients
type ConnectionManager struct {
	clients      map[string]*Client
	mutex        sync.RWMutex
	onRegister   func()
	onUnregister func()
}

// NewConnectionManager creates a new connection manager. The hooks run
// once per registered and unregistered client and may be nil.
func NewConnectionManager(onRegister, onUnregister func()) *ConnectionManager {
	return &ConnectionManager{
		clients:      make(map[string]*Client),
		onRegister:   onRegister,
		onUnregister: onUnregister,
	}
}

// Register adds a client
func (cm *ConnectionManager) Register(client *Client) {
	if client.done == nil {
		client.done = make(chan struct{})
	}

	cm.mutex.Lock()
	cm.clients[client.ID] = client
	cm.mutex.Unlock()

	if cm.onRegister != nil {
		cm.onRegister()
	}
}

// Unregister removes a client and signals its goroutines to stop.
// Unregistering an unknown client is a no-op.
func (cm *ConnectionManager) Unregister(client *Client) {
	cm.mutex.Lock()
	_, ok := cm.clients[client.ID]
	delete(cm.clients, client.ID)
	cm.mutex.Unlock()

	if !ok {
		return
	}
	client.shutdown()
	if cm.onUnregister != nil {
		cm.onUnregister()
	}
}

// ClientsByType returns the clients of one stream type
func (cm *ConnectionManager) ClientsByType(clientType string) []*Client {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var clients []*Client
	for _, client := range cm.clients {
		if client.Type == clientType {
			clients = append(clients, client)
		}
	}
	return clients
}

// CloseAll unregisters every client
func (cm *ConnectionManager) CloseAll() {
	cm.mutex.RLock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, client := range cm.clients {
		clients = append(clients, client)
	}
	cm.mutex.RUnlock()

	for _, client := range clients {
		cm.Unregister(client)
	}
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	stats := &ConnectionStats{
		TotalConnections: len(cm.clients),
		ByType:           make(map[string]int),
		Clients:          make([]*Client, 0, len(cm.clients)),
	}

	for _, client := range cm.clients {
		stats.ByType[client.Type]++
		stats.Clients = append(stats.Clients, client)
	}

	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ByType           map[string]int `json:"by_type"`
	Clients          []*Client      `json:"clients"`
}
