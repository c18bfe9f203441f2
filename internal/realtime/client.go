// Package realtime is the live channel: a WebSocket endpoint per presence
// namespace. Outbound frames come from the notification router through the
// presence registry; inbound frames become messages on the hub's inbox.
package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"delivery/internal/domain"
	"delivery/internal/logx"
	"delivery/internal/presence"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxMessageSize = 4096
	sendBuffer     = 64
)

// ErrSendBufferFull is returned by Emit when the client is not draining its
// queue. The frame is dropped.
var ErrSendBufferFull = errors.New("send buffer full")

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("connection closed")

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Client is one live connection. It implements presence.Conn.
type Client struct {
	id     string
	ns     presence.Namespace
	caller domain.Caller
	conn   *websocket.Conn
	send   chan []byte
	log    logx.Logger

	mu     sync.Mutex
	closed bool
}

var _ presence.Conn = (*Client)(nil)

func newClient(id string, ns presence.Namespace, caller domain.Caller, conn *websocket.Conn, log logx.Logger) *Client {
	return &Client{
		id:     id,
		ns:     ns,
		caller: caller,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		log:    log.With(logx.String("conn_id", id), logx.String("user_id", caller.UserID)),
	}
}

// ID implements presence.Conn.
func (c *Client) ID() string { return c.id }

// Emit queues a frame without blocking.
func (c *Client) Emit(event string, payload any) error {
	data, err := json.Marshal(outFrame{Event: event, Data: payload})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump decodes inbound frames until the socket fails.
func (c *Client) readPump(deliver func(Frame)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read failed", logx.Err(err))
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil || f.Event == "" {
			_ = c.Emit(EventError, errorData{Message: "malformed frame"})
			continue
		}
		deliver(f)
	}
}

// writePump owns all writes to the socket.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("websocket write failed", logx.Err(err))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
