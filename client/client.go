// Package client connects a canvas to a relay server. It keeps a
// canvas.Reconstructor in step with the room's event stream and pushes
// snapshots of the local image when drawing goes idle.
package client

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericfitz/sketchroom/canvas"
	"github.com/ericfitz/sketchroom/internal/slogging"
	"github.com/ericfitz/sketchroom/protocol"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

var (
	ErrClosed          = errors.New("client is closed")
	ErrUnauthenticated = errors.New("server rejected the credential")
	ErrNotJoined       = errors.New("client has not joined a room")
)

// Config holds connection and canvas settings
type Config struct {
	URL              string
	Token            string
	Width, Height    int
	Background       color.RGBA
	SendQueueSize    int
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	// SnapshotIdle is how long drawing must pause before the canvas is
	// pushed as a snapshot. Zero disables automatic pushes.
	SnapshotIdle time.Duration
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = 800
	}
	if c.Height <= 0 {
		c.Height = 600
	}
	if c.Background == (color.RGBA{}) {
		c.Background = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	return c
}

// Client is one member's connection to the relay
type Client struct {
	cfg    Config
	ws     *websocket.Conn
	canvas *canvas.Reconstructor

	send   chan *protocol.Envelope
	errs   chan *protocol.Envelope
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	// drawMu keeps outbound events in the order the reconstructor numbered them
	drawMu sync.Mutex

	mu          sync.Mutex
	pendingJoin string
	joinReply   chan *protocol.Envelope
	lastKnown   int64
	pushedRev   uint64

	closing   atomic.Bool
	closeOnce sync.Once
}

// Dial connects to the relay. The server checks the token during the
// handshake; a rejected token surfaces as ErrUnauthenticated from Join or
// Err once the server closes the socket.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.Token)
	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}

	ws, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to relay: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)

	c := &Client{
		cfg:    cfg,
		ws:     ws,
		canvas: canvas.NewReconstructor(cfg.Width, cfg.Height, cfg.Background),
		send:   make(chan *protocol.Envelope, cfg.SendQueueSize),
		errs:   make(chan *protocol.Envelope, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	g.Go(func() error { return c.readLoop() })
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		_ = c.ws.Close()
		return nil
	})
	if cfg.SnapshotIdle > 0 {
		g.Go(func() error { return c.snapshotLoop(gctx) })
	}

	go func() {
		err := g.Wait()
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	}()

	return c, nil
}

// Canvas returns the reconstructed canvas
func (c *Client) Canvas() *canvas.Reconstructor {
	return c.canvas
}

// Errors delivers error envelopes from the server. Errors are dropped when
// nobody reads the channel.
func (c *Client) Errors() <-chan *protocol.Envelope {
	return c.errs
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, nil after a clean Close
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// LastKnownVersion returns the highest snapshot version seen from the server
func (c *Client) LastKnownVersion() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastKnown
}

// Join enters roomID and waits for the server's acknowledgement. Any
// snapshot the server sends follows asynchronously.
func (c *Client) Join(ctx context.Context, roomID string) (*protocol.Envelope, error) {
	reply := make(chan *protocol.Envelope, 1)
	c.mu.Lock()
	c.pendingJoin = roomID
	c.joinReply = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.joinReply == reply {
			c.pendingJoin = ""
			c.joinReply = nil
		}
		c.mu.Unlock()
	}()

	if err := c.enqueue(ctx, &protocol.Envelope{Op: protocol.OpJoin, RoomID: roomID}); err != nil {
		return nil, err
	}

	select {
	case env := <-reply:
		if env.Op == protocol.OpError {
			return nil, fmt.Errorf("join %s: %s: %s", roomID, env.Code, env.Message)
		}
		return env, nil
	case <-c.done:
		return nil, c.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Leave exits the current room
func (c *Client) Leave(ctx context.Context) error {
	return c.enqueue(ctx, &protocol.Envelope{Op: protocol.OpLeave})
}

// Ping sends an application-level ping
func (c *Client) Ping(ctx context.Context, seq uint64) error {
	return c.enqueue(ctx, &protocol.Envelope{Op: protocol.OpPing, Seq: seq})
}

// Close sends a normal close frame and waits for the connection to wind down
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait)); err != nil {
			slogging.Get().Debug("Failed to send close frame: %v", err)
		}
		c.cancel()
	})
	<-c.done
	return c.Err()
}

func (c *Client) closedErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ErrClosed
}

func (c *Client) enqueue(ctx context.Context, env *protocol.Envelope) error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}
	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readLoop() error {
	defer c.cancel()
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case c.closing.Load():
				return nil
			case websocket.IsCloseError(err, protocol.CloseUnauthenticated):
				return ErrUnauthenticated
			case websocket.IsCloseError(err, websocket.CloseNormalClosure):
				return nil
			}
			return fmt.Errorf("relay connection lost: %w", err)
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			slogging.Get().Warn("Dropping undecodable frame: %v", err)
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env *protocol.Envelope) {
	logger := slogging.Get()

	switch env.Op {
	case protocol.OpJoined:
		c.canvas.Joined(env.RoomID)
		c.mu.Lock()
		c.lastKnown = env.CurrentVersion
		c.pushedRev = c.canvas.Revision()
		c.mu.Unlock()
		c.resolveJoin(env)

	case protocol.OpSnapshot:
		if err := c.canvas.ApplySnapshot(env.Blob, env.Version); err != nil {
			logger.Warn("Failed to apply snapshot room=%s version=%d: %v", env.RoomID, env.Version, err)
			return
		}
		c.mu.Lock()
		c.observeVersion(env.Version)
		c.pushedRev = c.canvas.Revision()
		c.mu.Unlock()

	case protocol.OpSnapshotAck:
		c.mu.Lock()
		c.observeVersion(env.CurrentVersion)
		if !env.WasStored() {
			// push again on the next idle tick with a newer version
			c.pushedRev = 0
		}
		c.mu.Unlock()
		if !env.WasStored() {
			logger.Debug("Snapshot version %d not stored, server has %d", env.Version, env.CurrentVersion)
		}

	case protocol.OpError:
		if c.resolveJoin(env) {
			return
		}
		select {
		case c.errs <- env:
		default:
			logger.Debug("Dropping server error code=%s: %s", env.Code, env.Message)
		}

	case protocol.OpPong:

	default:
		if err := c.canvas.ApplyRemote(env); err != nil {
			logger.Debug("Ignoring %s event: %v", env.Op, err)
		}
	}
}

// resolveJoin hands env to a waiting Join. Errors only resolve a join when
// they name the room being joined.
func (c *Client) resolveJoin(env *protocol.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.joinReply == nil {
		return false
	}
	if env.Op == protocol.OpError && env.RoomID != c.pendingJoin {
		return false
	}
	c.joinReply <- env
	c.pendingJoin = ""
	c.joinReply = nil
	return true
}

// observeVersion must be called with mu held
func (c *Client) observeVersion(v int64) {
	if v > c.lastKnown {
		c.lastKnown = v
	}
}

func (c *Client) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-c.send:
			frame, err := env.Encode()
			if err != nil {
				slogging.Get().Error("Failed to encode %s: %v", env.Op, err)
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !c.closing.Load() {
					slogging.Get().Debug("Failed to send %s: %v", env.Op, err)
				}
				// the reader reports why the connection failed, including
				// any close frame already in flight
				_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.WriteWait))
				return nil
			}
		}
	}
}
