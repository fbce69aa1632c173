package canvas

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/ericfitz/sketchroom/internal/uuidgen"
	"github.com/ericfitz/sketchroom/protocol"
)

var (
	ErrNotSynced        = errors.New("canvas is not synced to a room")
	ErrNoStroke         = errors.New("no stroke in progress")
	ErrStrokeInProgress = errors.New("a stroke is already in progress")
	ErrUnsupportedEvent = errors.New("unsupported event")
)

// State is the reconstructor's sync state
type State int

const (
	StateUninitialized State = iota
	StateSynced
)

// Cursor is a remote member's last reported pointer position
type Cursor struct {
	Name string
	X, Y float64
}

// Owners of paint steps that are not OpLog entries
const (
	ownerRemote  = -1
	ownerPending = -2 // the local stroke still being drawn
)

// paintStep is one painted piece, a stroke segment or a shape, recorded in
// the order it reached the canvas. owner is the OpLog index of the local
// operation it belongs to so that undo can skip it.
type paintStep struct {
	owner int
	seg   Segment
	width float64
	color color.RGBA
	shape *protocol.ShapePayload
}

func (s *paintStep) paint(c *Canvas) {
	if s.shape != nil {
		c.Shape(*s.shape)
		return
	}
	c.Segment(s.seg.From, s.seg.To, s.width, s.color)
}

type strokeKey struct {
	author   string
	strokeID string
}

// Reconstructor maintains a client's view of a room's canvas. The image is
// always the baseline snapshot plus every paint step in arrival order, with
// steps of undone local operations skipped.
type Reconstructor struct {
	mu sync.Mutex

	state  State
	roomID string
	canvas *Canvas

	baseline        image.Image
	baselineVersion int64
	timeline        []paintStep
	log             OpLog

	localStroke   *Operation
	remoteStrokes map[strokeKey]*Operation

	cursors map[string]Cursor
	lastSeq map[string]uint64
	gaps    uint64

	seq      uint64
	revision uint64
}

// NewReconstructor creates an unsynced canvas of the given size
func NewReconstructor(width, height int, background color.RGBA) *Reconstructor {
	return &Reconstructor{
		canvas:        New(width, height, background),
		remoteStrokes: make(map[strokeKey]*Operation),
		cursors:       make(map[string]Cursor),
		lastSeq:       make(map[string]uint64),
	}
}

// Joined starts a session in roomID on a blank canvas. A snapshot, when the
// room has one, follows through ApplySnapshot.
func (r *Reconstructor) Joined(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = StateSynced
	r.roomID = roomID
	r.baselineVersion = 0
	r.cursors = make(map[string]Cursor)
	r.lastSeq = make(map[string]uint64)
	r.gaps = 0
	r.resetDrawing(nil)
}

// ApplySnapshot replaces the baseline with a decoded snapshot
func (r *Reconstructor) ApplySnapshot(blob []byte, version int64) error {
	img, err := DecodePNG(blob)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateSynced {
		return ErrNotSynced
	}
	r.baselineVersion = version
	r.resetDrawing(img)
	return nil
}

// resetDrawing discards every operation and repaints from baseline
func (r *Reconstructor) resetDrawing(baseline image.Image) {
	r.baseline = baseline
	r.timeline = nil
	r.log.Reset()
	r.localStroke = nil
	r.remoteStrokes = make(map[strokeKey]*Operation)
	r.redraw()
}

// redraw repaints everything from the baseline
func (r *Reconstructor) redraw() {
	r.canvas.Reset()
	r.canvas.DrawImage(r.baseline)

	for i := range r.timeline {
		step := &r.timeline[i]
		if step.owner < 0 || r.log.IsActive(step.owner) {
			step.paint(r.canvas)
		}
	}
	r.revision++
}

// ApplyRemote paints an event relayed from another member
func (r *Reconstructor) ApplyRemote(env *protocol.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateSynced {
		return ErrNotSynced
	}

	var sender protocol.Sender
	if env.From != nil {
		sender = *env.From
	}
	r.trackSeq(sender.ConnectionID, env.Seq)

	switch env.Op {
	case protocol.OpBeginPath:
		var p protocol.PathPayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		if p.Point == nil {
			return errors.New("begin-path without a point")
		}
		key := strokeKey{sender.ConnectionID, p.StrokeID}
		op := r.remoteStroke(key, p)
		r.paintSegment(op, ownerRemote, Segment{From: *p.Point, To: *p.Point})

	case protocol.OpDraw:
		var p protocol.PathPayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		if p.From == nil || p.To == nil {
			return errors.New("draw without a segment")
		}
		key := strokeKey{sender.ConnectionID, p.StrokeID}
		op := r.remoteStroke(key, p)
		r.paintSegment(op, ownerRemote, Segment{From: *p.From, To: *p.To})

	case protocol.OpEndPath:
		var p protocol.PathPayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		// its segments are already in the timeline
		delete(r.remoteStrokes, strokeKey{sender.ConnectionID, p.StrokeID})

	case protocol.OpShape:
		var s protocol.ShapePayload
		if err := env.DecodePayload(&s); err != nil {
			return err
		}
		r.record(paintStep{owner: ownerRemote, shape: &s})

	case protocol.OpCursor:
		var p protocol.CursorPayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		r.cursors[sender.ConnectionID] = Cursor{Name: sender.Name, X: p.X, Y: p.Y}

	case protocol.OpClearCanvas:
		r.resetDrawing(nil)

	case protocol.OpMemberLeft:
		delete(r.cursors, sender.ConnectionID)
		delete(r.lastSeq, sender.ConnectionID)
		// strokes cut off mid-draw stay on the canvas
		for key := range r.remoteStrokes {
			if key.author == sender.ConnectionID {
				delete(r.remoteStrokes, key)
			}
		}

	case protocol.OpMemberJoined:

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedEvent, env.Op)
	}

	r.revision++
	return nil
}

// remoteStroke returns the in-progress stroke for key, starting one when a
// member joined after the stroke began
func (r *Reconstructor) remoteStroke(key strokeKey, p protocol.PathPayload) *Operation {
	op, ok := r.remoteStrokes[key]
	if !ok {
		op = &Operation{Kind: OpStroke, Author: key.author, StrokeID: key.strokeID}
		r.remoteStrokes[key] = op
	}
	if op.Color == "" {
		op.Color = p.Color
	}
	if op.Width == 0 {
		op.Width = p.Width
	}
	return op
}

// paintSegment extends a stroke and paints just the new piece
func (r *Reconstructor) paintSegment(op *Operation, owner int, seg Segment) {
	op.Segments = append(op.Segments, seg)
	r.record(paintStep{owner: owner, seg: seg, width: op.Width, color: colorOrDefault(op.Color)})
}

// record paints a step and appends it to the timeline
func (r *Reconstructor) record(step paintStep) {
	step.paint(r.canvas)
	r.timeline = append(r.timeline, step)
}

// trackSeq counts events missing from a sender's sequence. Events are never
// reordered or held back.
func (r *Reconstructor) trackSeq(sender string, seq uint64) {
	if sender == "" || seq == 0 {
		return
	}
	last := r.lastSeq[sender]
	if last != 0 && seq > last+1 {
		r.gaps += seq - last - 1
	}
	if seq > last {
		r.lastSeq[sender] = seq
	}
}

func (r *Reconstructor) event(op protocol.Op, payload any) (*protocol.Envelope, error) {
	r.seq++
	return protocol.NewEvent(op, r.roomID, r.seq, payload)
}

// BeginStroke starts a local stroke at p
func (r *Reconstructor) BeginStroke(p protocol.Point, hexColor string, width float64) (*protocol.Envelope, error) {
	if _, err := ParseColor(hexColor); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateSynced {
		return nil, ErrNotSynced
	}
	if r.localStroke != nil {
		return nil, ErrStrokeInProgress
	}

	r.localStroke = &Operation{
		Kind:     OpStroke,
		StrokeID: uuidgen.StrokeID(),
		Color:    hexColor,
		Width:    width,
	}
	r.paintSegment(r.localStroke, ownerPending, Segment{From: p, To: p})
	r.revision++

	point := p
	return r.event(protocol.OpBeginPath, protocol.PathPayload{
		StrokeID: r.localStroke.StrokeID,
		Color:    hexColor,
		Width:    width,
		Point:    &point,
	})
}

// ExtendStroke continues the local stroke to p
func (r *Reconstructor) ExtendStroke(p protocol.Point) (*protocol.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stroke := r.localStroke
	if stroke == nil {
		return nil, ErrNoStroke
	}
	from, _ := stroke.lastPoint()
	to := p
	r.paintSegment(stroke, ownerPending, Segment{From: from, To: to})
	r.revision++

	return r.event(protocol.OpDraw, protocol.PathPayload{
		StrokeID: stroke.StrokeID,
		Color:    stroke.Color,
		Width:    stroke.Width,
		From:     &from,
		To:       &to,
	})
}

// EndStroke completes the local stroke and records it for undo
func (r *Reconstructor) EndStroke() (*protocol.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stroke := r.localStroke
	if stroke == nil {
		return nil, ErrNoStroke
	}
	r.localStroke = nil
	idx := r.commitLocal(*stroke)
	for i := range r.timeline {
		if r.timeline[i].owner == ownerPending {
			r.timeline[i].owner = idx
		}
	}

	return r.event(protocol.OpEndPath, protocol.PathPayload{StrokeID: stroke.StrokeID})
}

// PlaceShape paints a shape and records it for undo
func (r *Reconstructor) PlaceShape(s protocol.ShapePayload) (*protocol.Envelope, error) {
	if _, err := ParseColor(s.Color); err != nil {
		return nil, err
	}
	switch s.Kind {
	case protocol.ShapeRect, protocol.ShapeEllipse, protocol.ShapeLine:
	default:
		return nil, fmt.Errorf("unknown shape kind %q", s.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateSynced {
		return nil, ErrNotSynced
	}
	if s.StrokeID == "" {
		s.StrokeID = uuidgen.StrokeID()
	}
	idx := r.commitLocal(Operation{Kind: OpShape, StrokeID: s.StrokeID, Shape: s})
	shape := s
	r.record(paintStep{owner: idx, shape: &shape})

	return r.event(protocol.OpShape, s)
}

// commitLocal appends a completed local operation and returns its log
// index. Steps of undone entries are dropped first since the log discards
// them.
func (r *Reconstructor) commitLocal(op Operation) int {
	if r.log.CanRedo() {
		cursor := r.log.Cursor()
		kept := r.timeline[:0]
		for _, step := range r.timeline {
			if step.owner < cursor {
				kept = append(kept, step)
			}
		}
		r.timeline = kept
	}
	r.revision++
	return r.log.Append(op)
}

// MoveCursor reports the local pointer position
func (r *Reconstructor) MoveCursor(x, y float64) (*protocol.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateSynced {
		return nil, ErrNotSynced
	}
	return r.event(protocol.OpCursor, protocol.CursorPayload{X: x, Y: y})
}

// Clear blanks the canvas for everyone and forgets all history
func (r *Reconstructor) Clear() (*protocol.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateSynced {
		return nil, ErrNotSynced
	}
	r.resetDrawing(nil)
	return r.event(protocol.OpClearCanvas, nil)
}

// Undo hides the most recent local operation. Remote operations are never
// undone.
func (r *Reconstructor) Undo() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.log.Undo() {
		return false
	}
	r.redraw()
	return true
}

// Redo restores the most recently undone local operation
func (r *Reconstructor) Redo() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.log.Redo() {
		return false
	}
	r.redraw()
	return true
}

// Resize changes the canvas dimensions and repaints
func (r *Reconstructor) Resize(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.canvas = New(width, height, r.canvas.Background())
	r.redraw()
}

// SetBackground changes the background color and repaints
func (r *Reconstructor) SetBackground(hexColor string) error {
	col, err := ParseColor(hexColor)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.canvas.background = col
	r.redraw()
	return nil
}

// EncodeSnapshot encodes the current canvas for a snapshot push
func (r *Reconstructor) EncodeSnapshot() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canvas.EncodePNG()
}

// Pixels returns a copy of the current raster bytes
func (r *Reconstructor) Pixels() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canvas.Pixels()
}

// Bounds returns the canvas size
func (r *Reconstructor) Bounds() image.Rectangle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canvas.Bounds()
}

// State returns the sync state
func (r *Reconstructor) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RoomID returns the room of the current session
func (r *Reconstructor) RoomID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomID
}

// BaselineVersion returns the version of the applied snapshot, 0 if none
func (r *Reconstructor) BaselineVersion() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.baselineVersion
}

// Revision increases on every change to the image
func (r *Reconstructor) Revision() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revision
}

// Gaps returns how many remote events were missing from sender sequences
func (r *Reconstructor) Gaps() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gaps
}

// Cursors returns a copy of the remote cursors keyed by connection id
func (r *Reconstructor) Cursors() map[string]Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Cursor, len(r.cursors))
	for k, v := range r.cursors {
		out[k] = v
	}
	return out
}

// CanUndo reports whether a local operation can be undone
func (r *Reconstructor) CanUndo() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.CanUndo()
}

// CanRedo reports whether an undone local operation can be restored
func (r *Reconstructor) CanRedo() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.CanRedo()
}
