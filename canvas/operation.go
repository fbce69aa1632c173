package canvas

import (
	"github.com/ericfitz/sketchroom/protocol"
)

// OpKind distinguishes completed drawing units
type OpKind int

const (
	OpStroke OpKind = iota
	OpShape
)

// Operation is one completed unit of drawing: a freehand stroke or a placed
// shape
type Operation struct {
	Kind     OpKind
	Author   string
	StrokeID string
	Color    string
	Width    float64
	Segments []Segment
	Shape    protocol.ShapePayload
}

// Segment is one painted piece of a stroke. A stroke starts with a
// zero-length segment, the dot under the pen.
type Segment struct {
	From, To protocol.Point
}

// lastPoint returns where the pen is, or false for an empty stroke
func (op *Operation) lastPoint() (protocol.Point, bool) {
	if len(op.Segments) == 0 {
		return protocol.Point{}, false
	}
	return op.Segments[len(op.Segments)-1].To, true
}

// OpLog is the local author's operation log. Entries live in one slice; the
// cursor splits active entries [0, cursor) from undone ones [cursor, len).
type OpLog struct {
	entries []Operation
	cursor  int
}

// Append records a new operation and discards anything undone
func (l *OpLog) Append(op Operation) int {
	l.entries = append(l.entries[:l.cursor], op)
	l.cursor = len(l.entries)
	return l.cursor - 1
}

// Undo deactivates the most recent active entry
func (l *OpLog) Undo() bool {
	if l.cursor == 0 {
		return false
	}
	l.cursor--
	return true
}

// Redo reactivates the most recently undone entry
func (l *OpLog) Redo() bool {
	if l.cursor == len(l.entries) {
		return false
	}
	l.cursor++
	return true
}

// CanUndo reports whether there is an active entry
func (l *OpLog) CanUndo() bool { return l.cursor > 0 }

// CanRedo reports whether there is an undone entry
func (l *OpLog) CanRedo() bool { return l.cursor < len(l.entries) }

// Cursor returns the number of active entries
func (l *OpLog) Cursor() int { return l.cursor }

// Len returns the number of entries, undone ones included
func (l *OpLog) Len() int { return len(l.entries) }

// IsActive reports whether entry i is part of the drawing
func (l *OpLog) IsActive(i int) bool { return i >= 0 && i < l.cursor }

// Entry returns entry i
func (l *OpLog) Entry(i int) *Operation { return &l.entries[i] }

// Active returns the active prefix
func (l *OpLog) Active() []Operation { return l.entries[:l.cursor] }

// Reset empties the log
func (l *OpLog) Reset() {
	l.entries = nil
	l.cursor = 0
}
