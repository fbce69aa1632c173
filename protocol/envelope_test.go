package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantOp  Op
		wantErr bool
	}{
		{"join", `{"op":"join","roomId":"art1"}`, OpJoin, false},
		{"draw with payload", `{"op":"draw","roomId":"art1","seq":7,"payload":{"strokeId":"s1","from":{"x":1,"y":2},"to":{"x":3,"y":4}}}`, OpDraw, false},
		{"unknown op still decodes", `{"op":"teleport"}`, "teleport", false},
		{"missing op", `{"roomId":"art1"}`, "", true},
		{"not json", `join art1`, "", true},
		{"wrong type", `{"op":5}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOp, env.Op)
		})
	}
}

func TestOpClassification(t *testing.T) {
	for _, op := range []Op{OpDraw, OpBeginPath, OpEndPath, OpShape, OpCursor, OpClearCanvas} {
		assert.True(t, op.IsRelayed(), op)
		assert.False(t, op.IsServerOnly(), op)
	}
	for _, op := range []Op{OpJoined, OpSnapshot, OpSnapshotAck, OpMemberJoined, OpMemberLeft, OpError, OpPong} {
		assert.True(t, op.IsServerOnly(), op)
		assert.False(t, op.IsRelayed(), op)
	}
	for _, op := range []Op{OpJoin, OpLeave, OpSnapshotPush, OpPing} {
		assert.False(t, op.IsServerOnly(), op)
		assert.False(t, op.IsRelayed(), op)
	}
}

func TestForward_PreservesPayloadAndSeq(t *testing.T) {
	raw := `{"op":"draw","roomId":"art1","seq":3,"payload":{"strokeId":"s1","from":{"x":1.5,"y":2},"to":{"x":3,"y":4}}}`
	env, err := Decode([]byte(raw))
	require.NoError(t, err)

	forwarded := env.Forward(Sender{ConnectionID: "c-1", UserID: "alice", Name: "Alice"})
	assert.Nil(t, env.From, "original must not be mutated")

	data, err := forwarded.Encode()
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.JSONEq(t, `{"strokeId":"s1","from":{"x":1.5,"y":2},"to":{"x":3,"y":4}}`, string(decoded["payload"]))
	assert.JSONEq(t, `3`, string(decoded["seq"]))
	assert.JSONEq(t, `{"connectionId":"c-1","userId":"alice","name":"Alice"}`, string(decoded["from"]))
}

func TestSnapshotBlobIsBase64(t *testing.T) {
	data, err := NewSnapshot("art1", []byte{0x89, 'P', 'N', 'G'}, 4).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"snapshot","roomId":"art1","blob":"iVBORw==","version":4}`, string(data))

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, env.Blob)
}

func TestNewSnapshotAck_StoredFalseIsExplicit(t *testing.T) {
	data, err := NewSnapshotAck("art1", 2, false, 5).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"snapshot-ack","roomId":"art1","version":2,"stored":false,"currentVersion":5}`, string(data))

	env, err := Decode(data)
	require.NoError(t, err)
	assert.False(t, env.WasStored())
	assert.True(t, NewSnapshotAck("art1", 6, true, 6).WasStored())
}

func TestNewEventAndDecodePayload(t *testing.T) {
	env, err := NewEvent(OpShape, "art1", 9, ShapePayload{StrokeID: "sh1", Kind: ShapeEllipse, X: 1, Y: 2, W: 30, H: 40, Fill: true})
	require.NoError(t, err)

	var shape ShapePayload
	require.NoError(t, env.DecodePayload(&shape))
	assert.Equal(t, ShapeEllipse, shape.Kind)
	assert.True(t, shape.Fill)

	clear, err := NewEvent(OpClearCanvas, "art1", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, clear.Payload)
	assert.Error(t, clear.DecodePayload(&shape))
}

func TestNewJoinedAndError(t *testing.T) {
	joined := NewJoined("art1", 0, []Sender{{ConnectionID: "c-1", UserID: "alice"}})
	assert.True(t, joined.OK)
	assert.Len(t, joined.Members, 1)

	data, err := NewError(CodeNotInRoom, "join a room first", "art1").Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"error","roomId":"art1","code":"not_in_room","message":"join a room first"}`, string(data))
}
