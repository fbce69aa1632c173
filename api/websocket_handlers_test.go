package api

import (
	"context"
	"testing"

	"github.com/ericfitz/sketchroom/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRouter_Errors(t *testing.T) {
	tests := []struct {
		name    string
		message string
		code    string
	}{
		{"malformed json", `{"op":`, protocol.CodeBadMessage},
		{"missing op", `{"roomId":"art1"}`, protocol.CodeBadMessage},
		{"server-only op", `{"op":"snapshot","roomId":"art1","blob":"AAAA","version":3}`, protocol.CodeServerOnlyOp},
		{"unknown op", `{"op":"teleport"}`, protocol.CodeUnsupportedOp},
		{"draw outside a room", `{"op":"draw","roomId":"art1","payload":{"strokeId":"s"}}`, protocol.CodeNotInRoom},
		{"bad room id", `{"op":"join","roomId":"a b"}`, protocol.CodeInvalidRoomID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newTestHub(t, HubConfig{}, nil)
			conn := newTestConn(t, "alice", 8)

			hub.router.RouteMessage(context.Background(), hub, conn, []byte(tt.message))

			msgs := drain(t, conn)
			require.Len(t, msgs, 1)
			assert.Equal(t, protocol.OpError, msgs[0].Op)
			assert.Equal(t, tt.code, msgs[0].Code)
			assert.NotEmpty(t, msgs[0].Message)
			assert.False(t, conn.isClosing(), "errors never close the connection")
		})
	}
}

func TestMessageRouter_JoinAndPing(t *testing.T) {
	hub := newTestHub(t, HubConfig{}, nil)
	conn := newTestConn(t, "alice", 8)
	ctx := context.Background()

	hub.router.RouteMessage(ctx, hub, conn, []byte(`{"op":"join","roomId":"art1"}`))
	hub.router.RouteMessage(ctx, hub, conn, []byte(`{"op":"ping","seq":9}`))

	msgs := drain(t, conn)
	require.Equal(t, []protocol.Op{protocol.OpJoined, protocol.OpPong}, ops(msgs))
	assert.Equal(t, "art1", msgs[0].RoomID)
	assert.Equal(t, uint64(9), msgs[1].Seq)

	hub.router.RouteMessage(ctx, hub, conn, []byte(`{"op":"leave"}`))
	assert.Empty(t, hub.Registry().RoomOf(conn))
}

type panickingHandler struct{}

func (panickingHandler) MessageType() protocol.Op { return protocol.OpCursor }

func (panickingHandler) HandleMessage(context.Context, *Hub, *Connection, *protocol.Envelope) error {
	panic("boom")
}

func TestMessageRouter_RecoversFromPanic(t *testing.T) {
	hub := newTestHub(t, HubConfig{}, nil)
	hub.router.RegisterHandler(panickingHandler{})
	conn := newTestConn(t, "alice", 8)

	assert.NotPanics(t, func() {
		hub.router.RouteMessage(context.Background(), hub, conn, []byte(`{"op":"cursor","roomId":"art1"}`))
	})

	msgs := drain(t, conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.CodeInternal, msgs[0].Code)
}

func TestErrorMessageHidesInternalCauses(t *testing.T) {
	assert.Equal(t, "internal error", errorMessage(context.DeadlineExceeded))
	assert.Equal(t, protocol.CodeRoomNotFound, errorCode(ErrRoomNotFound))
}
