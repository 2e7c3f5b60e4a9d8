package websocket

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"dealroom/internal/domain/entity"
	"dealroom/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// Dispatcher handles one inbound event for a connection. A returned error is
// sent back to that connection only.
type Dispatcher interface {
	Dispatch(ctx context.Context, client *Client, msg *InboundMessage) error
}

// Client is one live connection of an authenticated user.
type Client struct {
	ID     string
	UserID string
	Role   entity.Role

	conn    *websocket.Conn
	send    chan []byte
	manager *Manager

	// guarded by manager.mutex
	channels map[string]struct{}
	closed   bool
}

// Run starts the write pump and processes inbound events one at a time until
// the connection drops. It blocks.
func (c *Client) Run(d Dispatcher) {
	go c.writePump()
	c.readPump(d)
}

// Send queues an event for this connection only.
func (c *Client) Send(eventType string, data interface{}) {
	payload, err := encode(eventType, data)
	if err != nil {
		log.Printf("Send Error: encoding %s event: %v", eventType, err)
		return
	}

	c.manager.mutex.RLock()
	ok := c.enqueueLocked(payload)
	c.manager.mutex.RUnlock()

	if !ok && !c.isClosed() {
		c.manager.Disconnect(c)
	}
}

func (c *Client) SendError(err error) {
	appErr := errors.From(err)
	if appErr.Code == errors.CodeInternal {
		log.Printf("Realtime Error for user %s: %v", c.UserID, err)
	}
	c.Send(EventError, ErrorPayload{Code: appErr.Code, Message: appErr.Message})
}

// IsSubscribed reports whether the connection has joined channel.
func (c *Client) IsSubscribed(channel string) bool {
	c.manager.mutex.RLock()
	defer c.manager.mutex.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

func (c *Client) isClosed() bool {
	c.manager.mutex.RLock()
	defer c.manager.mutex.RUnlock()
	return c.closed
}

func (c *Client) enqueueLocked(payload []byte) bool {
	if c.closed {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSendLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump(d Dispatcher) {
	defer func() {
		c.manager.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error for user %s: %v", c.UserID, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.SendError(errors.BadRequest("Malformed event", err))
			continue
		}

		if err := d.Dispatch(c.manager.ctx, c, &msg); err != nil {
			c.SendError(err)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WebSocket write error for user %s: %v", c.UserID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
