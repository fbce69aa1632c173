package api

import (
	"context"
	"sync"
	"time"

	"github.com/ericfitz/sketchroom/auth"
	"github.com/ericfitz/sketchroom/internal/slogging"
	"github.com/ericfitz/sketchroom/internal/uuidgen"
	"github.com/ericfitz/sketchroom/protocol"
	"github.com/gorilla/websocket"
)

// Connection is one authenticated client. The read goroutine handles its
// inbound messages in order; the write goroutine drains send in order.
type Connection struct {
	ID       string
	Identity *auth.Identity

	ws   *websocket.Conn
	send chan []byte

	// closing is set once send has been closed
	closing     bool
	closeCode   int
	closeReason string
	closingMu   sync.RWMutex

	roomMu sync.Mutex
	room   *room

	ctx         context.Context
	cancel      context.CancelFunc
	connectedAt time.Time
	log         *slogging.ContextLogger
}

func newConnection(ws *websocket.Conn, identity *auth.Identity, queueSize int) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		ID:          uuidgen.ConnectionID(),
		Identity:    identity,
		ws:          ws,
		send:        make(chan []byte, queueSize),
		ctx:         ctx,
		cancel:      cancel,
		connectedAt: time.Now().UTC(),
	}
	c.log = slogging.Get().ForConnection(c.ID, c.userID())
	return c
}

// Sender returns the identity stamped on events this connection originates
func (c *Connection) Sender() protocol.Sender {
	s := protocol.Sender{ConnectionID: c.ID}
	if c.Identity != nil {
		s.UserID = c.Identity.Subject
		s.Name = c.Identity.DisplayName()
	}
	return s
}

func (c *Connection) userID() string {
	if c.Identity == nil {
		return ""
	}
	return c.Identity.Subject
}

// enqueue adds data to the send queue without blocking. It reports false
// when the queue is full or already closed.
func (c *Connection) enqueue(data []byte) bool {
	c.closingMu.RLock()
	defer c.closingMu.RUnlock()

	if c.closing {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) enqueueEnvelope(env *protocol.Envelope) bool {
	data, err := env.Encode()
	if err != nil {
		return false
	}
	return c.enqueue(data)
}

// closeSend closes the send queue; the write pump then sends a close frame
// with code and reason. Only the first call has any effect.
func (c *Connection) closeSend(code int, reason string) bool {
	c.closingMu.Lock()
	defer c.closingMu.Unlock()

	if c.closing {
		return false
	}
	c.closing = true
	c.closeCode = code
	c.closeReason = reason
	close(c.send)
	return true
}

func (c *Connection) isClosing() bool {
	c.closingMu.RLock()
	defer c.closingMu.RUnlock()
	return c.closing
}

func (c *Connection) closeStatus() (int, string) {
	c.closingMu.RLock()
	defer c.closingMu.RUnlock()
	return c.closeCode, c.closeReason
}

func (c *Connection) currentRoom() *room {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()
	return c.room
}

func (c *Connection) setRoom(r *room) {
	c.roomMu.Lock()
	c.room = r
	c.roomMu.Unlock()
}

// takeRoom clears and returns the current membership
func (c *Connection) takeRoom() *room {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()
	r := c.room
	c.room = nil
	return r
}
