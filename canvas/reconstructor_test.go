package canvas

import (
	"image/color"
	"testing"

	"github.com/ericfitz/sketchroom/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syncedReconstructor(t *testing.T) *Reconstructor {
	t.Helper()
	r := NewReconstructor(64, 64, white)
	r.Joined("art1")
	return r
}

func remoteEvent(t *testing.T, from string, seq uint64, op protocol.Op, payload any) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEvent(op, "art1", seq, payload)
	require.NoError(t, err)
	env.From = &protocol.Sender{ConnectionID: from, UserID: from, Name: from}
	return env
}

func pt(x, y float64) *protocol.Point {
	return &protocol.Point{X: x, Y: y}
}

func drawLocalStroke(t *testing.T, r *Reconstructor, color string, points ...protocol.Point) {
	t.Helper()
	_, err := r.BeginStroke(points[0], color, 3)
	require.NoError(t, err)
	for _, p := range points[1:] {
		_, err = r.ExtendStroke(p)
		require.NoError(t, err)
	}
	_, err = r.EndStroke()
	require.NoError(t, err)
}

func TestReconstructor_RequiresJoin(t *testing.T) {
	r := NewReconstructor(16, 16, white)
	assert.Equal(t, StateUninitialized, r.State())

	_, err := r.BeginStroke(protocol.Point{X: 1, Y: 1}, "#000000", 1)
	assert.ErrorIs(t, err, ErrNotSynced)
	assert.ErrorIs(t, r.ApplyRemote(remoteEvent(t, "c-2", 1, protocol.OpClearCanvas, nil)), ErrNotSynced)

	r.Joined("art1")
	assert.Equal(t, StateSynced, r.State())
	assert.Equal(t, "art1", r.RoomID())
}

func TestReconstructor_LocalStrokeEvents(t *testing.T) {
	r := syncedReconstructor(t)

	begin, err := r.BeginStroke(protocol.Point{X: 5, Y: 5}, "#ff0000", 2)
	require.NoError(t, err)
	assert.Equal(t, protocol.OpBeginPath, begin.Op)
	assert.Equal(t, "art1", begin.RoomID)
	assert.Equal(t, uint64(1), begin.Seq)

	_, err = r.BeginStroke(protocol.Point{X: 1, Y: 1}, "#ff0000", 2)
	assert.ErrorIs(t, err, ErrStrokeInProgress)

	draw, err := r.ExtendStroke(protocol.Point{X: 20, Y: 5})
	require.NoError(t, err)
	var p protocol.PathPayload
	require.NoError(t, draw.DecodePayload(&p))
	assert.Equal(t, protocol.Point{X: 5, Y: 5}, *p.From)
	assert.Equal(t, protocol.Point{X: 20, Y: 5}, *p.To)
	assert.Equal(t, "#ff0000", p.Color)

	end, err := r.EndStroke()
	require.NoError(t, err)
	assert.Equal(t, protocol.OpEndPath, end.Op)
	assert.Equal(t, uint64(3), end.Seq)

	_, err = r.ExtendStroke(protocol.Point{X: 1, Y: 1})
	assert.ErrorIs(t, err, ErrNoStroke)
	_, err = r.EndStroke()
	assert.ErrorIs(t, err, ErrNoStroke)

	_, err = r.BeginStroke(protocol.Point{X: 1, Y: 1}, "crimson", 2)
	assert.Error(t, err)
}

func TestReconstructor_UndoRedoIsBitExact(t *testing.T) {
	r := syncedReconstructor(t)

	// remote work before the local strokes is never undone
	require.NoError(t, r.ApplyRemote(remoteEvent(t, "c-2", 1, protocol.OpShape,
		protocol.ShapePayload{StrokeID: "s1", Kind: protocol.ShapeRect, X: 40, Y: 40, W: 10, H: 10, Color: "#00ff00", Fill: true})))
	baseline := r.Pixels()

	drawLocalStroke(t, r, "#ff0000", protocol.Point{X: 2, Y: 2}, protocol.Point{X: 30, Y: 30}, protocol.Point{X: 60, Y: 2})
	drawLocalStroke(t, r, "#0000ff", protocol.Point{X: 2, Y: 60}, protocol.Point{X: 60, Y: 60})
	_, err := r.PlaceShape(protocol.ShapePayload{Kind: protocol.ShapeEllipse, X: 10, Y: 10, W: 30, H: 20, Color: "#ffff00"})
	require.NoError(t, err)
	drawn := r.Pixels()
	require.NotEqual(t, baseline, drawn)

	for i := 0; i < 3; i++ {
		require.True(t, r.Undo())
	}
	assert.False(t, r.Undo())
	assert.Equal(t, baseline, r.Pixels())

	for i := 0; i < 3; i++ {
		require.True(t, r.Redo())
	}
	assert.False(t, r.Redo())
	assert.Equal(t, drawn, r.Pixels())
}

func TestReconstructor_InterleavedStrokesKeepPaintOrder(t *testing.T) {
	r := syncedReconstructor(t)
	blue := color.RGBA{B: 0xff, A: 0xff}

	require.NoError(t, r.ApplyRemote(remoteEvent(t, "c-2", 1, protocol.OpBeginPath,
		protocol.PathPayload{StrokeID: "r1", Color: "#ff0000", Width: 4, Point: pt(20, 20)})))
	require.NoError(t, r.ApplyRemote(remoteEvent(t, "c-2", 2, protocol.OpDraw,
		protocol.PathPayload{StrokeID: "r1", From: pt(20, 20), To: pt(30, 20)})))

	// the local stroke crosses the remote one after its first segments
	drawLocalStroke(t, r, "#0000ff", protocol.Point{X: 20, Y: 10}, protocol.Point{X: 20, Y: 30})

	require.NoError(t, r.ApplyRemote(remoteEvent(t, "c-2", 3, protocol.OpDraw,
		protocol.PathPayload{StrokeID: "r1", From: pt(30, 20), To: pt(50, 20)})))
	require.NoError(t, r.ApplyRemote(remoteEvent(t, "c-2", 4, protocol.OpEndPath,
		protocol.PathPayload{StrokeID: "r1"})))

	live := r.Pixels()
	assert.Equal(t, blue, r.canvas.Image().RGBAAt(20, 20), "local stroke painted over the remote start")

	require.True(t, r.Undo())
	assert.Equal(t, red, r.canvas.Image().RGBAAt(20, 20))
	assert.Equal(t, white, r.canvas.Image().RGBAAt(20, 12))

	require.True(t, r.Redo())
	assert.Equal(t, live, r.Pixels())

	require.NoError(t, r.SetBackground("#ffffff"))
	assert.Equal(t, live, r.Pixels())
	r.Resize(64, 64)
	assert.Equal(t, live, r.Pixels())
}

func TestReconstructor_RedrawMatchesLiveWhileStrokesOpen(t *testing.T) {
	r := syncedReconstructor(t)

	// remote shape lands between segments of both an open remote stroke and
	// an open local stroke
	require.NoError(t, r.ApplyRemote(remoteEvent(t, "c-2", 1, protocol.OpBeginPath,
		protocol.PathPayload{StrokeID: "r1", Color: "#ff0000", Width: 6, Point: pt(10, 40)})))
	_, err := r.BeginStroke(protocol.Point{X: 40, Y: 10}, "#0000ff", 6)
	require.NoError(t, err)
	require.NoError(t, r.ApplyRemote(remoteEvent(t, "c-3", 1, protocol.OpShape,
		protocol.ShapePayload{StrokeID: "s1", Kind: protocol.ShapeRect, X: 5, Y: 5, W: 50, H: 50, Color: "#00ff00", Fill: true})))
	require.NoError(t, r.ApplyRemote(remoteEvent(t, "c-2", 2, protocol.OpDraw,
		protocol.PathPayload{StrokeID: "r1", From: pt(10, 40), To: pt(30, 40)})))
	_, err = r.ExtendStroke(protocol.Point{X: 40, Y: 30})
	require.NoError(t, err)

	live := r.Pixels()
	require.NoError(t, r.SetBackground("#ffffff"))
	assert.Equal(t, live, r.Pixels())

	_, err = r.EndStroke()
	require.NoError(t, err)
	require.True(t, r.Undo())
	require.True(t, r.Redo())
	assert.Equal(t, live, r.Pixels())
}

func TestReconstructor_NewActionDiscardsRedo(t *testing.T) {
	r := syncedReconstructor(t)
	blank := r.Pixels()

	drawLocalStroke(t, r, "#ff0000", protocol.Point{X: 2, Y: 2}, protocol.Point{X: 60, Y: 60})
	require.True(t, r.Undo())
	assert.True(t, r.CanRedo())

	drawLocalStroke(t, r, "#0000ff", protocol.Point{X: 2, Y: 60}, protocol.Point{X: 60, Y: 2})
	assert.False(t, r.CanRedo())
	afterSecond := r.Pixels()

	require.True(t, r.Undo())
	assert.False(t, r.CanUndo())
	assert.Equal(t, blank, r.Pixels())
	require.True(t, r.Redo())
	assert.Equal(t, afterSecond, r.Pixels())
}

func TestReconstructor_UndoKeepsLaterRemoteWork(t *testing.T) {
	r := syncedReconstructor(t)

	drawLocalStroke(t, r, "#ff0000", protocol.Point{X: 2, Y: 32}, protocol.Point{X: 60, Y: 32})
	require.NoError(t, r.ApplyRemote(remoteEvent(t, "c-2", 1, protocol.OpShape,
		protocol.ShapePayload{StrokeID: "s1", Kind: protocol.ShapeRect, X: 0, Y: 0, W: 8, H: 8, Color: "#00ff00", Fill: true})))

	require.True(t, r.Undo())
	img := r.canvas.Image()
	assert.Equal(t, white, img.RGBAAt(30, 32), "local stroke is gone")
	assert.Equal(t, uint8(0xff), img.RGBAAt(4, 4).G, "remote shape remains")
}

func TestReconstructor_RemoteStroke(t *testing.T) {
	r := syncedReconstructor(t)

	require.NoError(t, r.ApplyRemote(remoteEvent(t, "c-2", 1, protocol.OpBeginPath,
		protocol.PathPayload{StrokeID: "k1", Color: "#ff0000", Width: 2, Point: pt(10, 10)})))
	require.NoError(t, r.ApplyRemote(remoteEvent(t, "c-2", 2, protocol.OpDraw,
		protocol.PathPayload{StrokeID: "k1", Color: "#ff0000", Width: 2, From: pt(10, 10), To: pt(40, 10)})))
	assert.Equal(t, red, r.canvas.Image().RGBAAt(25, 10))
	incremental := r.Pixels()

	require.NoError(t, r.ApplyRemote(remoteEvent(t, "c-2", 3, protocol.OpEndPath, protocol.PathPayload{StrokeID: "k1"})))
	r.mu.Lock()
	r.redraw()
	r.mu.Unlock()
	assert.Equal(t, incremental, r.Pixels(), "repaint matches incremental painting")

	// a draw without a begin-path still renders, e.g. after a late join
	require.NoError(t, r.ApplyRemote(remoteEvent(t, "c-3", 7, protocol.OpDraw,
		protocol.PathPayload{StrokeID: "k9", Width: 2, From: pt(10, 50), To: pt(40, 50)})))
	assert.Equal(t, DefaultColor, r.canvas.Image().RGBAAt(25, 50))

	assert.Error(t, r.ApplyRemote(remoteEvent(t, "c-2", 4, protocol.OpDraw, protocol.PathPayload{StrokeID: "k1"})))
	assert.ErrorIs(t, r.ApplyRemote(remoteEvent(t, "c-2", 5, protocol.OpSnapshotAck, nil)), ErrUnsupportedEvent)
}

func TestReconstructor_RemoteClear(t *testing.T) {
	r := syncedReconstructor(t)
	blank := r.Pixels()

	drawLocalStroke(t, r, "#ff0000", protocol.Point{X: 2, Y: 2}, protocol.Point{X: 60, Y: 60})
	require.NoError(t, r.ApplyRemote(remoteEvent(t, "c-2", 1, protocol.OpClearCanvas, nil)))

	assert.Equal(t, blank, r.Pixels())
	assert.False(t, r.CanUndo(), "clear forgets history")
}

func TestReconstructor_CursorsAndMemberLeft(t *testing.T) {
	r := syncedReconstructor(t)

	require.NoError(t, r.ApplyRemote(remoteEvent(t, "c-2", 1, protocol.OpCursor, protocol.CursorPayload{X: 3, Y: 4})))
	require.NoError(t, r.ApplyRemote(remoteEvent(t, "c-2", 2, protocol.OpBeginPath,
		protocol.PathPayload{StrokeID: "k1", Color: "#ff0000", Width: 2, Point: pt(10, 10)})))
	assert.Equal(t, Cursor{Name: "c-2", X: 3, Y: 4}, r.Cursors()["c-2"])

	left := protocol.NewPresence(protocol.OpMemberLeft, "art1", protocol.Sender{ConnectionID: "c-2", UserID: "c-2"})
	require.NoError(t, r.ApplyRemote(left))

	assert.Empty(t, r.Cursors())
	assert.Equal(t, red, r.canvas.Image().RGBAAt(10, 10), "cut-off stroke stays")
	r.mu.Lock()
	assert.Empty(t, r.remoteStrokes)
	r.mu.Unlock()
}

func TestReconstructor_CountsSequenceGaps(t *testing.T) {
	r := syncedReconstructor(t)

	for _, seq := range []uint64{1, 2, 5, 6} {
		require.NoError(t, r.ApplyRemote(remoteEvent(t, "c-2", seq, protocol.OpCursor, protocol.CursorPayload{})))
	}
	require.NoError(t, r.ApplyRemote(remoteEvent(t, "c-3", 4, protocol.OpCursor, protocol.CursorPayload{})))

	assert.Equal(t, uint64(2), r.Gaps())
}

func TestReconstructor_SnapshotRoundTrip(t *testing.T) {
	author := syncedReconstructor(t)
	drawLocalStroke(t, author, "#ff0000", protocol.Point{X: 2, Y: 2}, protocol.Point{X: 60, Y: 40})
	blob, err := author.EncodeSnapshot()
	require.NoError(t, err)

	joiner := syncedReconstructor(t)
	require.NoError(t, joiner.ApplySnapshot(blob, 7))
	assert.Equal(t, author.Pixels(), joiner.Pixels())
	assert.Equal(t, int64(7), joiner.BaselineVersion())

	// the snapshot is the undo floor
	assert.False(t, joiner.CanUndo())

	assert.Error(t, joiner.ApplySnapshot([]byte("junk"), 8))
	assert.Equal(t, int64(7), joiner.BaselineVersion())
}

func TestReconstructor_ResizeAndBackground(t *testing.T) {
	r := syncedReconstructor(t)
	drawLocalStroke(t, r, "#ff0000", protocol.Point{X: 10, Y: 10}, protocol.Point{X: 20, Y: 10})

	r.Resize(128, 32)
	assert.Equal(t, 128, r.Bounds().Dx())
	assert.Equal(t, 32, r.Bounds().Dy())
	assert.Equal(t, red, r.canvas.Image().RGBAAt(15, 10), "operations survive a resize")

	require.NoError(t, r.SetBackground("#000000"))
	assert.Equal(t, DefaultColor, r.canvas.Image().RGBAAt(100, 30))
	assert.Equal(t, red, r.canvas.Image().RGBAAt(15, 10))
	assert.Error(t, r.SetBackground("nope"))
}

func TestReconstructor_RevisionAdvances(t *testing.T) {
	r := syncedReconstructor(t)
	before := r.Revision()

	_, err := r.MoveCursor(1, 1)
	require.NoError(t, err)
	assert.Equal(t, before, r.Revision(), "cursor moves do not change the image")

	drawLocalStroke(t, r, "#ff0000", protocol.Point{X: 1, Y: 1}, protocol.Point{X: 5, Y: 5})
	assert.Greater(t, r.Revision(), before)
}
