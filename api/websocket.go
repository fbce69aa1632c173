package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericfitz/sketchroom/auth"
	"github.com/ericfitz/sketchroom/internal/slogging"
	"github.com/ericfitz/sketchroom/internal/telemetry"
	"github.com/ericfitz/sketchroom/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Close reasons sent with server-initiated close frames
const (
	closeReasonSlowConsumer    = "slow consumer"
	closeReasonGoingAway       = "going away"
	closeReasonUnauthenticated = "unauthenticated"
)

// HubConfig holds per-connection transport limits
type HubConfig struct {
	SendQueueSize    int
	MaxMessageBytes  int64
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
	MaxSnapshotBytes int
	AllowedOrigins   []string
	LogMessages      bool
}

// DefaultHubConfig returns the limits used when none are configured
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendQueueSize:    256,
		MaxMessageBytes:  12 << 20,
		PingInterval:     30 * time.Second,
		PongWait:         60 * time.Second,
		WriteWait:        10 * time.Second,
		MaxSnapshotBytes: 8 << 20,
	}
}

// SessionAuthenticator validates the credential presented at connect time
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Identity, error)
}

// Hub owns live connections and relays events between members of a room
type Hub struct {
	cfg       HubConfig
	registry  *Registry
	snapshots SnapshotStore
	authn     SessionAuthenticator
	metrics   *telemetry.RelayMetrics
	router    *MessageRouter
	upgrader  websocket.Upgrader

	mu           sync.RWMutex
	connections  map[*Connection]struct{}
	shuttingDown atomic.Bool
}

// NewHub creates a hub over registry and snapshots
func NewHub(cfg HubConfig, registry *Registry, snapshots SnapshotStore, authn SessionAuthenticator, metrics *telemetry.RelayMetrics) *Hub {
	if metrics == nil {
		metrics = telemetry.NewNoopRelayMetrics()
	}
	defaults := DefaultHubConfig()
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaults.SendQueueSize
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaults.MaxMessageBytes
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = cfg.PingInterval * 2
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaults.WriteWait
	}
	if cfg.MaxSnapshotBytes <= 0 {
		cfg.MaxSnapshotBytes = defaults.MaxSnapshotBytes
	}

	h := &Hub{
		cfg:         cfg,
		registry:    registry,
		snapshots:   snapshots,
		authn:       authn,
		metrics:     metrics,
		router:      NewMessageRouter(),
		connections: make(map[*Connection]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Registry returns the hub's room registry
func (h *Hub) Registry() *Registry {
	return h.registry
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser client
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// HandleWS authenticates and upgrades a WebSocket connection
func (h *Hub) HandleWS(c *gin.Context) {
	logger := slogging.Get().WithContext(c)

	if h.shuttingDown.Load() {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}

	identity, authErr := h.authn.Authenticate(c.Request.Context(), auth.ExtractToken(c.Request))

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written an HTTP error
		logger.Warn("Failed to upgrade connection: %v", err)
		return
	}

	if authErr != nil {
		h.metrics.RecordAuthFailure(c.Request.Context())
		logger.Info("Rejected WebSocket connection from %s: %v", c.ClientIP(), authErr)
		deadline := time.Now().Add(h.cfg.WriteWait)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(protocol.CloseUnauthenticated, closeReasonUnauthenticated), deadline)
		_ = ws.Close()
		return
	}

	conn := newConnection(ws, identity, h.cfg.SendQueueSize)
	h.register(conn)

	conn.log.Info("WebSocket connection opened from %s", c.ClientIP())

	go h.writePump(conn)
	go h.readPump(conn)
}

func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	h.connections[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.ConnectionOpened(c.ctx)
}

func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	_, ok := h.connections[c]
	delete(h.connections, c)
	h.mu.Unlock()
	if ok {
		h.metrics.ConnectionClosed(context.Background())
	}
}

// ConnectionCount returns the number of open connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// readPump handles inbound frames in arrival order, which gives each sender
// FIFO delivery to every recipient
func (h *Hub) readPump(c *Connection) {
	defer h.disconnect(c)

	c.ws.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.log.Debug("WebSocket read error: %v", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		h.metrics.RecordInboundMessage(c.ctx, len(data))
		h.router.RouteMessage(c.ctx, h, c, data)
	}
}

// writePump drains the send queue one frame per message. When the queue is
// closed it sends the recorded close status and closes the socket.
func (h *Hub) writePump(c *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if !ok || c.isClosing() {
				// queued frames are abandoned once the connection is closing
				code, reason := c.closeStatus()
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("WebSocket write error: %v", err)
				return
			}
			if h.cfg.LogMessages {
				slogging.LogWebSocketMessage(slogging.WSMessageOutbound, c.ID, c.userID(), peekOp(message), message,
					slogging.WebSocketLoggingConfig{Enabled: true, MaxMessageSize: 64 << 10})
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// disconnect removes the connection's membership before anything else is
// relayed on its behalf, then tears the connection down
func (h *Hub) disconnect(c *Connection) {
	c.cancel()
	if roomID := h.leaveRoom(c); roomID != "" {
		c.log.Debug("Left room %s on disconnect", roomID)
	}
	c.closeSend(websocket.CloseNormalClosure, "")
	h.unregister(c)
	c.log.Info("WebSocket connection closed after %s", time.Since(c.connectedAt).Round(time.Millisecond))
}

// leaveRoom drops c from its room and tells the remaining members
func (h *Hub) leaveRoom(c *Connection) string {
	roomID, remaining := h.registry.Leave(c)
	if roomID == "" {
		return ""
	}
	h.broadcast(protocol.NewPresence(protocol.OpMemberLeft, roomID, c.Sender()), remaining)
	return roomID
}

// dropSlowRecipient disconnects a recipient whose queue overflowed. Other
// members and the sender are unaffected.
func (h *Hub) dropSlowRecipient(c *Connection, cause error) {
	if !c.closeSend(websocket.ClosePolicyViolation, closeReasonSlowConsumer) {
		// already closing; its own disconnect cleans up
		return
	}
	c.log.Warn("Dropping connection: %v", cause)
	h.metrics.RecordSlowRecipient(c.ctx)
	h.leaveRoom(c)
}

// deliver queues one message to one connection
func (h *Hub) deliver(c *Connection, env *protocol.Envelope) {
	data, err := env.Encode()
	if err != nil {
		c.log.Error("Failed to encode %s: %v", env.Op, err)
		return
	}
	if !c.enqueue(data) {
		h.dropSlowRecipient(c, fmt.Errorf("%w: send queue full", ErrRecipientUnreachable))
	}
}

// broadcast encodes env once and queues it to every recipient independently
func (h *Hub) broadcast(env *protocol.Envelope, recipients []*Connection) {
	if len(recipients) == 0 {
		return
	}
	data, err := env.Encode()
	if err != nil {
		slogging.Get().Error("Failed to encode %s for broadcast: %v", env.Op, err)
		return
	}
	for _, r := range recipients {
		if !r.enqueue(data) {
			h.dropSlowRecipient(r, fmt.Errorf("%w: send queue full", ErrRecipientUnreachable))
		}
	}
}

// Join moves c into roomID and announces it to the other members
func (h *Hub) Join(ctx context.Context, c *Connection, roomID string) error {
	previous := h.registry.RoomOf(c)
	if previous != "" && previous != roomID {
		h.leaveRoom(c)
	}

	version, err := h.registry.Join(ctx, c, roomID)
	switch {
	case errors.Is(err, ErrRecipientUnreachable):
		h.dropSlowRecipient(c, err)
		return nil
	case errors.Is(err, ErrConnectionClosed):
		return nil
	case err != nil:
		return err
	}

	c.log.Info("Joined room %s at snapshot version %d", roomID, version)

	if previous != roomID {
		h.broadcast(protocol.NewPresence(protocol.OpMemberJoined, roomID, c.Sender()), h.registry.MembersOf(roomID, c))
	}
	return nil
}

// Leave removes c from its room
func (h *Hub) Leave(c *Connection) error {
	if roomID := h.leaveRoom(c); roomID != "" {
		c.log.Info("Left room %s", roomID)
	}
	return nil
}

// Relay forwards a drawing event from sender to every other member of its
// room. The payload is passed through untouched with the sender identity
// attached. clear-canvas also clears the cached snapshot before forwarding.
func (h *Hub) Relay(ctx context.Context, sender *Connection, env *protocol.Envelope) error {
	rm := sender.currentRoom()
	if rm == nil || env.RoomID != rm.id {
		h.metrics.RecordNotInRoom(ctx, string(env.Op))
		sender.log.Debug("Dropped %s: not in room %q", env.Op, env.RoomID)
		return fmt.Errorf("%w: %q", ErrNotInRoom, env.RoomID)
	}

	var (
		recipients []*Connection
		member     bool
	)
	if env.Op == protocol.OpClearCanvas {
		// Clear first so a later join cannot be served the old image
		if err := h.snapshots.Clear(ctx, rm.id); err != nil {
			slogging.Get().Warn("Failed to clear snapshot for room %s: %v", rm.id, err)
		}
		recipients, member = rm.beginClear(sender)
	} else {
		recipients, member = rm.membersExcept(sender)
	}
	if !member {
		// left concurrently
		h.metrics.RecordNotInRoom(ctx, string(env.Op))
		return fmt.Errorf("%w: %q", ErrNotInRoom, env.RoomID)
	}

	out := env.Forward(sender.Sender())
	out.RoomID = rm.id
	h.broadcast(out, recipients)
	h.metrics.RecordRelay(ctx, string(env.Op), len(recipients))
	return nil
}

// PushSnapshot stores a member's snapshot for future joiners and acknowledges
// it. Snapshots are never forwarded to current members.
func (h *Hub) PushSnapshot(ctx context.Context, sender *Connection, env *protocol.Envelope) error {
	logger := slogging.Get()

	rm := sender.currentRoom()
	if rm == nil || env.RoomID != rm.id {
		h.metrics.RecordNotInRoom(ctx, string(env.Op))
		return fmt.Errorf("%w: %q", ErrNotInRoom, env.RoomID)
	}
	if len(env.Blob) == 0 || env.Version <= 0 {
		return fmt.Errorf("%w: snapshot-push needs a blob and a positive version", ErrBadMessage)
	}
	if len(env.Blob) > h.cfg.MaxSnapshotBytes {
		h.metrics.RecordSnapshotWrite(ctx, telemetry.SnapshotTooLarge)
		return fmt.Errorf("%w: %d bytes, limit %d", ErrSnapshotTooLarge, len(env.Blob), h.cfg.MaxSnapshotBytes)
	}

	stored := false
	err := h.snapshots.Put(ctx, rm.id, env.Blob, env.Version)
	switch {
	case err == nil:
		stored = true
		h.metrics.RecordSnapshotWrite(ctx, telemetry.SnapshotStored)
	case errors.Is(err, ErrStaleSnapshotWrite):
		sender.log.Debug("Ignored stale snapshot: %v", err)
		h.metrics.RecordSnapshotWrite(ctx, telemetry.SnapshotStale)
	default:
		logger.Warn("Snapshot write for room %s failed: %v", rm.id, err)
		h.metrics.RecordSnapshotWrite(ctx, telemetry.SnapshotError)
	}

	current, verr := h.snapshots.Version(ctx, rm.id)
	if verr != nil {
		logger.Debug("Snapshot version read for room %s failed: %v", rm.id, verr)
		if stored {
			current = env.Version
		}
	}

	h.deliver(sender, protocol.NewSnapshotAck(rm.id, env.Version, stored, current))
	return nil
}

// Shutdown closes every connection with 1001 and waits for them to drain
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shuttingDown.Store(true)

	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	slogging.Get().Info("Closing %d WebSocket connections", len(conns))
	for _, c := range conns {
		c.closeSend(websocket.CloseGoingAway, closeReasonGoingAway)
	}

	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for h.ConnectionCount() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d connections still open: %w", h.ConnectionCount(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// RunSnapshotJanitor applies snapshot retention every interval until ctx is
// done. Snapshots of occupied rooms are never dropped: stores that expire
// entries themselves have those rooms' clocks restarted, and in-process
// stores skip them when evicting.
func (h *Hub) RunSnapshotJanitor(ctx context.Context, interval, retention time.Duration) {
	_, evicts := h.snapshots.(SnapshotEvictor)
	_, retains := h.snapshots.(SnapshotRetainer)
	if (!evicts && !retains) || interval <= 0 || retention <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sweepSnapshots(ctx, retention)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) sweepSnapshots(ctx context.Context, retention time.Duration) {
	if retainer, ok := h.snapshots.(SnapshotRetainer); ok {
		if err := retainer.Retain(ctx, h.registry.ActiveRooms()); err != nil {
			slogging.Get().Warn("Failed to retain snapshots of occupied rooms: %v", err)
		}
	}
	if evictor, ok := h.snapshots.(SnapshotEvictor); ok {
		if n := evictor.EvictIdle(time.Now().UTC().Add(-retention), h.registry.IsActive); n > 0 {
			slogging.Get().Info("Evicted %d idle room snapshots", n)
		}
	}
}
