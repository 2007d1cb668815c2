// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"obd-service/internal/config"
	"obd-service/internal/monitor"
	"obd-service/internal/service"
	"obd-service/internal/utils"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// WebSocketHandler streams telemetry frames and adapter events
type WebSocketHandler struct {
	upgrader         websocket.Upgrader
	connections      *ConnectionManager
	telemetryService *service.TelemetryService
	refreshInterval  time.Duration
	logger           *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler and starts
// forwarding adapter events from bus to event clients.
func NewWebSocketHandler(
	telemetryService *service.TelemetryService,
	bus *EventBus,
	cfg *config.Config,
	metrics *monitor.Metrics,
	logger *zap.Logger,
) *WebSocketHandler {
	allowed := cfg.Security.AllowedOrigins
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(allowed) == 0 || origin == "" {
				return true
			}
			for _, o := range allowed {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}

	handler := &WebSocketHandler{
		upgrader:         upgrader,
		connections:      NewConnectionManager(metrics.StreamClientConnected, metrics.StreamClientDisconnected),
		telemetryService: telemetryService,
		refreshInterval:  cfg.Display.RefreshInterval,
		logger:           utils.NewServiceLogger(logger, "websocket-handler"),
	}
	if handler.refreshInterval <= 0 {
		handler.refreshInterval = 50 * time.Millisecond
	}

	events := bus.Subscribe(EventAdapterConnected, EventAdapterDisconnected, EventAdapterError)
	go handler.forwardEvents(events)

	return handler
}

// HandleTelemetryStream pushes a snapshot frame every refresh interval
func (h *WebSocketHandler) HandleTelemetryStream(c *gin.Context) {
	client, ok := h.accept(c, ClientTypeTelemetry)
	if !ok {
		return
	}

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
	go h.streamTelemetry(client)
}

// HandleEventStream pushes adapter connection events
func (h *WebSocketHandler) HandleEventStream(c *gin.Context) {
	client, ok := h.accept(c, ClientTypeEvents)
	if !ok {
		return
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "adapter_status",
		Data:      h.telemetryService.Status(),
		Timestamp: time.Now(),
	})

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

func (h *WebSocketHandler) accept(c *gin.Context, clientType string) (*Client, bool) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return nil, false
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		Type:        clientType,
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}

	h.connections.Register(client)
	h.logger.Info("WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("type", clientType),
		zap.String("remote_addr", client.RemoteAddr),
	)
	return client, true
}

// streamTelemetry sends frames until the client goes away
func (h *WebSocketHandler) streamTelemetry(client *Client) {
	ticker := time.NewTicker(h.refreshInterval)
	defer ticker.Stop()

	for {
		h.sendMessage(client, &WebSocketMessage{
			Type:      "telemetry",
			Data:      h.telemetryService.Snapshot(),
			Timestamp: time.Now(),
		})

		select {
		case <-client.Done():
			return
		case <-ticker.C:
		}
	}
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
	}()

	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "invalid message")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				h.connections.Unregister(client)
				return
			}

		case <-client.Done():
			client.Connection.SetWriteDeadline(time.Now().Add(writeTimeout))
			client.Connection.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.connections.Unregister(client)
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	case "status":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "adapter_status",
			Data:      h.telemetryService.Status(),
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
		h.sendError(client, "unknown message type: "+message.Type)
	}
}

// forwardEvents relays bus events to every event client
func (h *WebSocketHandler) forwardEvents(events <-chan Event) {
	for event := range events {
		h.broadcastToClients(h.connections.ClientsByType(ClientTypeEvents), &WebSocketMessage{
			Type:      "adapter_event",
			Data:      event,
			Timestamp: event.Timestamp,
		})
	}
}

// sendMessage queues a message, dropping it if the client is slow
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}
	h.enqueue(client, messageBytes)
}

func (h *WebSocketHandler) enqueue(client *Client, messageBytes []byte) {
	select {
	case <-client.Done():
	case client.Send <- messageBytes:
	default:
		h.logger.Debug("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type: "error",
		Data: map[string]interface{}{
			"error": errorMsg,
		},
		Timestamp: time.Now(),
	})
}

// broadcastToClients broadcasts message to specified clients
func (h *WebSocketHandler) broadcastToClients(clients []*Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	for _, client := range clients {
		h.enqueue(client, messageBytes)
	}
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}

// Close disconnects every client
func (h *WebSocketHandler) Close() {
	h.connections.CloseAll()
}
