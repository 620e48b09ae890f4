package server

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/beer-chess/game-server/pkg/messages"
)

// Connection is one websocket client. Closing a connection only removes it
// from the hub's broadcast groups; sessions and their clocks are unaffected.
type Connection struct {
	ID     uuid.UUID
	ws     *websocket.Conn // The underlying Websocket connection
	hub    *Hub
	send   chan []byte // Buffered channel of outbound messages.
	logger *zap.Logger
}

func NewConnection(ws *websocket.Conn, hub *Hub, logger *zap.Logger) *Connection {
	return &Connection{
		ID:     uuid.New(),
		ws:     ws,
		hub:    hub,
		send:   make(chan []byte, 256), // buffered for outgoing messages
		logger: logger,
	}
}

// ReadPump handles inbound messages from the client
func (c *Connection) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.ws.Close()
	}()

	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("read error", zap.Error(err))
			}
			break
		}

		// We only handle text
		if msgType != websocket.TextMessage {
			continue
		}

		var inbound messages.InboundMessage
		if err := json.Unmarshal(msg, &inbound); err != nil {
			c.logger.Error("failed to parse inbound JSON", zap.Error(err))
			continue
		}

		c.hub.inbound <- InboundHubMessage{
			Conn:    c,
			Message: inbound,
		}
	}
}

// WritePump handles outbound messages to the client
func (c *Connection) WritePump() {
	defer func() {
		c.ws.Close()
	}()

	for {
		message, ok := <-c.send
		if !ok {
			// Channel closed
			return
		}

		if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
			c.logger.Error("write error", zap.Error(err))
			return
		}
	}
}

// SendEvent wraps a payload in the outbound envelope and queues it. The
// send never blocks: a subscriber that cannot keep up loses messages
// instead of stalling game progression.
func (c *Connection) SendEvent(event string, payload interface{}) {
	data, err := json.Marshal(messages.OutboundMessage{Event: event, Payload: payload})
	if err != nil {
		c.logger.Error("error marshaling JSON", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping message",
			zap.String("connection_id", c.ID.String()),
			zap.String("event", event))
	}
}
