package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/warboardhq/warboard/internal/v1/logging"
	"github.com/warboardhq/warboard/internal/v1/metrics"
	"github.com/warboardhq/warboard/internal/v1/room"
	"github.com/warboardhq/warboard/internal/v1/state"
)

const (
	// heartbeatTimeout is the read deadline. Clients send HEARTBEAT every
	// ~25s; a socket silent for this long is closed with 1001.
	heartbeatTimeout = 35 * time.Second

	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
	sendBufferSize = 256
)

// wsConnection is the subset of *websocket.Conn the client uses. Tests
// substitute a mock.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// eventLimiter is the per-socket window check. Satisfied by
// *ratelimit.Limiter.
type eventLimiter interface {
	AllowEvent(ctx context.Context, socketID, eventType string) bool
}

// Client is one websocket attached to a room. It implements room.Sender:
// the room actor pushes frames through Send, which never blocks; a full
// buffer or closed socket reports false and the room reaps it.
type Client struct {
	conn     wsConnection
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	closeMu  sync.Mutex
	closeMsg []byte

	room     *room.Room
	hub      *Hub
	clientID string // session username, shared across this user's sockets
	socketID string // unique per socket, keys the event rate windows
	limiter  eventLimiter
}

func newClient(conn wsConnection, r *room.Room, hub *Hub, clientID, socketID string, limiter eventLimiter) *Client {
	return &Client{
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		room:     r,
		hub:      hub,
		clientID: clientID,
		socketID: socketID,
		limiter:  limiter,
	}
}

// ClientID implements room.Sender.
func (c *Client) ClientID() string {
	return c.clientID
}

// Send implements room.Sender. Never blocks the room actor.
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		// Buffer full means the reader stopped draining; treat as dead.
		return false
	}
}

// Disconnect implements room.Sender.
func (c *Client) Disconnect() {
	c.once.Do(func() { close(c.done) })
}

// closeWith records the close frame to send, then disconnects.
func (c *Client) closeWith(code int, reason string) {
	c.closeMu.Lock()
	c.closeMsg = websocket.FormatCloseMessage(code, reason)
	c.closeMu.Unlock()
	c.Disconnect()
}

func (c *Client) sendEvent(ev state.Event) {
	data, err := ev.Marshal()
	if err != nil {
		return
	}
	c.Send(data)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Disconnect()
				return
			}
		case <-c.done:
			c.closeMu.Lock()
			msg := c.closeMsg
			c.closeMu.Unlock()
			if msg == nil {
				msg = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, msg)
			return
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.Disconnect()
		if c.hub != nil {
			c.hub.clientGone(c.room, c)
		}
		c.conn.Close()
		metrics.DecConnection()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	ctx := context.Background()

	for {
		c.conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				logging.Warn(ctx, "heartbeat timeout",
					zap.String("client_id", c.clientID), zap.String("room_id", c.room.ID()))
				c.closeWith(websocket.CloseGoingAway, "heartbeat timeout")
			}
			return
		}

		ev, err := state.ParseEvent(data)
		if err != nil {
			c.sendEvent(state.ErrorEvent("Invalid message"))
			continue
		}

		if !c.limiter.AllowEvent(ctx, c.socketID, string(ev.Type)) {
			c.sendEvent(state.ErrorEvent("rate limited"))
			continue
		}

		if !c.room.Submit(ev, c) {
			return
		}
	}
}
