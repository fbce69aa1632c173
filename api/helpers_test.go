package api

import (
	"context"
	"testing"

	"github.com/ericfitz/sketchroom/auth"
	"github.com/ericfitz/sketchroom/protocol"
	"github.com/stretchr/testify/require"
)

// newTestConn builds a connection with no socket; its queue is read
// directly by the test
func newTestConn(t *testing.T, subject string, queueSize int) *Connection {
	t.Helper()
	c := newConnection(nil, &auth.Identity{Subject: subject, Name: subject}, queueSize)
	t.Cleanup(c.cancel)
	return c
}

// drain returns every queued message without blocking
func drain(t *testing.T, c *Connection) []*protocol.Envelope {
	t.Helper()
	var out []*protocol.Envelope
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			env, err := protocol.Decode(data)
			require.NoError(t, err)
			out = append(out, env)
		default:
			return out
		}
	}
}

func ops(envs []*protocol.Envelope) []protocol.Op {
	out := make([]protocol.Op, len(envs))
	for i, e := range envs {
		out[i] = e.Op
	}
	return out
}

func newTestHub(t *testing.T, cfg HubConfig, store SnapshotStore) *Hub {
	t.Helper()
	if store == nil {
		store = NewMemorySnapshotStore()
	}
	registry := NewRegistry(store, nil, true, nil)
	return NewHub(cfg, registry, store, nil, nil)
}

func drawEvent(t *testing.T, roomID string, seq uint64) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEvent(protocol.OpDraw, roomID, seq, protocol.PathPayload{
		StrokeID: "s1",
		Color:    "#ff0000",
		Width:    4,
		From:     &protocol.Point{X: 1, Y: 1},
		To:       &protocol.Point{X: 10, Y: 10},
	})
	require.NoError(t, err)
	return env
}

// failingRoomStore always fails lookups
type failingRoomStore struct{}

func (failingRoomStore) Exists(context.Context, string) (bool, error) {
	return false, context.DeadlineExceeded
}
