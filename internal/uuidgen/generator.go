package uuidgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind names what an identifier is for
type Kind string

const (
	// KindConnection ids appear in every relayed event and in logs; v7 keeps
	// them sortable by connect time
	KindConnection Kind = "connection"
	// KindStroke ids are minted by clients for strokes and shapes
	KindStroke Kind = "stroke"
)

// NewFor generates an identifier for kind. Connections use UUIDv7, every
// other kind UUIDv4.
func NewFor(kind Kind) (uuid.UUID, error) {
	switch kind {
	case KindConnection:
		return uuid.NewV7()
	default:
		return uuid.NewRandom()
	}
}

// MustNewFor is like NewFor but panics on error. Generation only fails when
// the system random source does.
func MustNewFor(kind Kind) uuid.UUID {
	id, err := NewFor(kind)
	if err != nil {
		panic(fmt.Sprintf("failed to generate UUID for %s: %v", kind, err))
	}
	return id
}

// ConnectionID returns a new connection id
func ConnectionID() string {
	return MustNewFor(KindConnection).String()
}

// StrokeID returns a new stroke id
func StrokeID() string {
	return MustNewFor(KindStroke).String()
}
