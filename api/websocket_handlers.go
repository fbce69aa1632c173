package api

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/ericfitz/sketchroom/internal/slogging"
	"github.com/ericfitz/sketchroom/protocol"
)

// MessageHandler defines the interface for handling WebSocket messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, hub *Hub, conn *Connection, env *protocol.Envelope) error
	MessageType() protocol.Op
}

// MessageRouter handles routing of WebSocket messages to appropriate handlers
type MessageRouter struct {
	handlers map[protocol.Op]MessageHandler
}

// NewMessageRouter creates a new message router with default handlers
func NewMessageRouter() *MessageRouter {
	router := &MessageRouter{
		handlers: make(map[protocol.Op]MessageHandler),
	}

	router.RegisterHandler(&JoinHandler{})
	router.RegisterHandler(&LeaveHandler{})
	for _, op := range []protocol.Op{
		protocol.OpDraw, protocol.OpBeginPath, protocol.OpEndPath, protocol.OpShape, protocol.OpCursor,
	} {
		router.RegisterHandler(&RelayEventHandler{op: op})
	}
	router.RegisterHandler(&ClearCanvasHandler{})
	router.RegisterHandler(&SnapshotPushHandler{})
	router.RegisterHandler(&PingHandler{})

	return router
}

// RegisterHandler registers a message handler for a specific message type
func (r *MessageRouter) RegisterHandler(handler MessageHandler) {
	r.handlers[handler.MessageType()] = handler
}

// RouteMessage decodes one inbound frame and dispatches it. Every failure is
// reported to the sending connection only.
func (r *MessageRouter) RouteMessage(ctx context.Context, hub *Hub, conn *Connection, message []byte) {
	logger := slogging.Get()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("PANIC in RouteMessage - connection=%s user=%s error=%v stack=%s",
				conn.ID, conn.userID(), rec, debug.Stack())
			hub.deliver(conn, protocol.NewError(protocol.CodeInternal, "internal error", ""))
		}
	}()

	env, err := protocol.Decode(message)
	if err != nil {
		logger.Debug("Malformed message from connection %s: %v", conn.ID, err)
		hub.deliver(conn, protocol.NewError(protocol.CodeBadMessage, err.Error(), ""))
		return
	}

	if hub.cfg.LogMessages {
		slogging.LogWebSocketMessage(slogging.WSMessageInbound, conn.ID, conn.userID(), string(env.Op), message,
			slogging.WebSocketLoggingConfig{Enabled: true, MaxMessageSize: 64 << 10})
	}

	if env.Op.IsServerOnly() {
		logger.Warn("Connection %s sent server-only op '%s' - protocol violation", conn.ID, env.Op)
		hub.deliver(conn, protocol.NewError(protocol.CodeServerOnlyOp,
			fmt.Sprintf("op '%s' is server-only and cannot be sent by clients", env.Op), env.RoomID))
		return
	}

	handler, ok := r.handlers[env.Op]
	if !ok {
		logger.Debug("Unsupported op '%s' from connection %s", env.Op, conn.ID)
		hub.deliver(conn, protocol.NewError(protocol.CodeUnsupportedOp,
			fmt.Sprintf("op '%s' is not supported", env.Op), env.RoomID))
		return
	}

	if err := handler.HandleMessage(ctx, hub, conn, env); err != nil {
		hub.deliver(conn, protocol.NewError(errorCode(err), errorMessage(err), env.RoomID))
	}
}

// JoinHandler handles join requests
type JoinHandler struct{}

func (h *JoinHandler) MessageType() protocol.Op { return protocol.OpJoin }

func (h *JoinHandler) HandleMessage(ctx context.Context, hub *Hub, conn *Connection, env *protocol.Envelope) error {
	return hub.Join(ctx, conn, env.RoomID)
}

// LeaveHandler handles explicit leave requests
type LeaveHandler struct{}

func (h *LeaveHandler) MessageType() protocol.Op { return protocol.OpLeave }

func (h *LeaveHandler) HandleMessage(_ context.Context, hub *Hub, conn *Connection, _ *protocol.Envelope) error {
	return hub.Leave(conn)
}

// RelayEventHandler forwards one drawing event kind to the sender's room
type RelayEventHandler struct {
	op protocol.Op
}

func (h *RelayEventHandler) MessageType() protocol.Op { return h.op }

func (h *RelayEventHandler) HandleMessage(ctx context.Context, hub *Hub, conn *Connection, env *protocol.Envelope) error {
	return hub.Relay(ctx, conn, env)
}

// ClearCanvasHandler clears the room's cached snapshot and forwards the clear
type ClearCanvasHandler struct{}

func (h *ClearCanvasHandler) MessageType() protocol.Op { return protocol.OpClearCanvas }

func (h *ClearCanvasHandler) HandleMessage(ctx context.Context, hub *Hub, conn *Connection, env *protocol.Envelope) error {
	return hub.Relay(ctx, conn, env)
}

// SnapshotPushHandler stores pushed snapshots
type SnapshotPushHandler struct{}

func (h *SnapshotPushHandler) MessageType() protocol.Op { return protocol.OpSnapshotPush }

func (h *SnapshotPushHandler) HandleMessage(ctx context.Context, hub *Hub, conn *Connection, env *protocol.Envelope) error {
	return hub.PushSnapshot(ctx, conn, env)
}

// PingHandler answers application-level pings
type PingHandler struct{}

func (h *PingHandler) MessageType() protocol.Op { return protocol.OpPing }

func (h *PingHandler) HandleMessage(_ context.Context, hub *Hub, conn *Connection, env *protocol.Envelope) error {
	hub.deliver(conn, &protocol.Envelope{Op: protocol.OpPong, Seq: env.Seq})
	return nil
}

// peekOp extracts the op of an encoded frame for logging
func peekOp(frame []byte) string {
	var head struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return ""
	}
	return head.Op
}
