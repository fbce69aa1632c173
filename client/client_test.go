package client

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ericfitz/sketchroom/api"
	"github.com/ericfitz/sketchroom/auth"
	"github.com/ericfitz/sketchroom/protocol"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "client-test-secret"

type relayServer struct {
	store *api.MemorySnapshotStore
	url   string
}

func newRelayServer(t *testing.T, autoCreate bool, rooms ...string) *relayServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	keys, err := auth.NewJWTKeyManager(auth.JWTConfig{SigningMethod: "HS256", Secret: testJWTSecret})
	require.NoError(t, err)

	store := api.NewMemorySnapshotStore()
	registry := api.NewRegistry(store, api.NewStaticRoomStore(rooms...), autoCreate, nil)
	hub := api.NewHub(api.DefaultHubConfig(), registry, store, auth.NewAuthenticator(keys, nil), nil)
	router := api.NewRouter(api.RouterConfig{ServiceName: "client-test"}, hub, api.NewHealthChecker(time.Second, hub))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &relayServer{
		store: store,
		url:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func signedToken(t *testing.T, subject, secret string) string {
	t.Helper()
	claims := auth.Claims{
		Name: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func (s *relayServer) connect(t *testing.T, subject string, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := Config{URL: s.url, Token: signedToken(t, subject, testJWTSecret), Width: 64, Height: 64}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (s *relayServer) joined(t *testing.T, subject, roomID string, mutate ...func(*Config)) *Client {
	t.Helper()
	c := s.connect(t, subject, mutate...)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Join(ctx, roomID)
	require.NoError(t, err)
	return c
}

func samePixels(a, b *Client) func() bool {
	return func() bool {
		return bytes.Equal(a.Canvas().Pixels(), b.Canvas().Pixels())
	}
}

func (s *relayServer) versionIs(roomID string, want int64) func() bool {
	return func() bool {
		v, err := s.store.Version(context.Background(), roomID)
		return err == nil && v == want
	}
}

func TestClient_StrokeReachesOtherMembers(t *testing.T) {
	s := newRelayServer(t, true)
	ctx := context.Background()
	alice := s.joined(t, "alice", "art1")
	bob := s.joined(t, "bob", "art1")
	blank := bob.Canvas().Pixels()

	require.NoError(t, alice.Stroke(ctx, "#ff0000", 3,
		protocol.Point{X: 4, Y: 4}, protocol.Point{X: 40, Y: 20}, protocol.Point{X: 60, Y: 60}))
	require.NoError(t, alice.PlaceShape(ctx, protocol.ShapePayload{Kind: protocol.ShapeRect, X: 5, Y: 40, W: 10, H: 10, Color: "#0000ff", Fill: true}))

	assert.Eventually(t, samePixels(alice, bob), 5*time.Second, 10*time.Millisecond)
	assert.NotEqual(t, blank, bob.Canvas().Pixels())
}

func TestClient_LateJoinerReceivesSnapshot(t *testing.T) {
	s := newRelayServer(t, true)
	ctx := context.Background()
	alice := s.joined(t, "alice", "art1")

	require.NoError(t, alice.Stroke(ctx, "#00aa00", 5, protocol.Point{X: 10, Y: 10}, protocol.Point{X: 50, Y: 30}))
	require.NoError(t, alice.PushSnapshot(ctx))
	require.Eventually(t, s.versionIs("art1", 1), 5*time.Second, 10*time.Millisecond)

	carol := s.joined(t, "carol", "art1")
	assert.Eventually(t, samePixels(alice, carol), 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return carol.LastKnownVersion() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.False(t, carol.Canvas().CanUndo(), "snapshot content is not the joiner's to undo")
}

func TestClient_StalePushAdoptsServerVersion(t *testing.T) {
	s := newRelayServer(t, true)
	ctx := context.Background()
	alice := s.joined(t, "alice", "art1")
	bob := s.joined(t, "bob", "art1")

	require.NoError(t, alice.PushSnapshot(ctx))
	require.NoError(t, alice.PushSnapshot(ctx))
	require.Eventually(t, s.versionIs("art1", 2), 5*time.Second, 10*time.Millisecond)

	// bob never saw a snapshot, so his push carries version 1
	require.NoError(t, bob.PushSnapshot(ctx))
	assert.Eventually(t, func() bool { return bob.LastKnownVersion() == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, s.versionIs("art1", 2)())
}

func TestClient_IdleSnapshotPush(t *testing.T) {
	s := newRelayServer(t, true)
	ctx := context.Background()
	alice := s.joined(t, "alice", "art1", func(c *Config) { c.SnapshotIdle = 20 * time.Millisecond })

	require.NoError(t, alice.Stroke(ctx, "#123456", 2, protocol.Point{X: 1, Y: 1}, protocol.Point{X: 30, Y: 30}))
	assert.Eventually(t, func() bool {
		snap, err := s.store.Get(ctx, "art1")
		if err != nil || snap == nil {
			return false
		}
		blob, err := alice.Canvas().EncodeSnapshot()
		return err == nil && bytes.Equal(blob, snap.Blob)
	}, 5*time.Second, 10*time.Millisecond)

	// nothing changed, so nothing more is pushed
	v, err := s.store.Version(ctx, "art1")
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.True(t, s.versionIs("art1", v)())
}

func TestClient_ClearPropagates(t *testing.T) {
	s := newRelayServer(t, true)
	ctx := context.Background()
	alice := s.joined(t, "alice", "art1")
	bob := s.joined(t, "bob", "art1")
	blank := alice.Canvas().Pixels()

	require.NoError(t, alice.Stroke(ctx, "#ff0000", 4, protocol.Point{X: 2, Y: 2}, protocol.Point{X: 60, Y: 2}))
	require.Eventually(t, samePixels(alice, bob), 5*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.Clear(ctx))
	assert.Eventually(t, func() bool { return bytes.Equal(blank, alice.Canvas().Pixels()) }, 5*time.Second, 10*time.Millisecond)
}

func TestClient_UndoIsLocal(t *testing.T) {
	s := newRelayServer(t, true)
	ctx := context.Background()
	alice := s.joined(t, "alice", "art1")
	bob := s.joined(t, "bob", "art1")
	blank := alice.Canvas().Pixels()

	require.NoError(t, alice.Stroke(ctx, "#ff0000", 4, protocol.Point{X: 2, Y: 2}, protocol.Point{X: 60, Y: 60}))
	require.Eventually(t, samePixels(alice, bob), 5*time.Second, 10*time.Millisecond)
	drawn := bob.Canvas().Pixels()

	require.True(t, alice.Undo())
	assert.Equal(t, blank, alice.Canvas().Pixels())
	assert.False(t, bob.Undo(), "bob has nothing of his own to undo")
	assert.Equal(t, drawn, bob.Canvas().Pixels())
}

func TestClient_CursorPresence(t *testing.T) {
	s := newRelayServer(t, true)
	ctx := context.Background()
	alice := s.joined(t, "alice", "art1")
	bob := s.joined(t, "bob", "art1")

	require.NoError(t, alice.MoveCursor(ctx, 12, 34))
	require.Eventually(t, func() bool { return len(bob.Canvas().Cursors()) == 1 }, 5*time.Second, 10*time.Millisecond)
	for _, cur := range bob.Canvas().Cursors() {
		assert.Equal(t, "alice", cur.Name)
		assert.Equal(t, 12.0, cur.X)
	}

	require.NoError(t, alice.Close())
	assert.Eventually(t, func() bool { return len(bob.Canvas().Cursors()) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestClient_JoinUnknownRoom(t *testing.T) {
	s := newRelayServer(t, false, "art1")
	c := s.connect(t, "alice")

	_, err := c.Join(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), protocol.CodeRoomNotFound)

	ack, err := c.Join(context.Background(), "art1")
	require.NoError(t, err)
	assert.Equal(t, "art1", ack.RoomID)
	assert.Equal(t, "art1", c.Canvas().RoomID())
}

func TestClient_RejectedToken(t *testing.T) {
	s := newRelayServer(t, true)
	c, err := Dial(context.Background(), Config{URL: s.url, Token: signedToken(t, "mallory", "wrong-secret")})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.Join(ctx, "art1")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestClient_CloseEndsSession(t *testing.T) {
	s := newRelayServer(t, true)
	c := s.joined(t, "alice", "art1")

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}
	assert.Error(t, c.Ping(context.Background(), 1))
}

func TestClient_PushRequiresJoin(t *testing.T) {
	s := newRelayServer(t, true)
	c := s.connect(t, "alice")
	assert.ErrorIs(t, c.PushSnapshot(context.Background()), ErrNotJoined)
	assert.Error(t, c.BeginStroke(context.Background(), protocol.Point{}, "#000000", 1))
}
