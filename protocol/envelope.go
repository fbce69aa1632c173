// Package protocol defines the JSON wire schema shared by the relay server
// and canvas clients.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Op identifies the kind of a wire message
type Op string

const (
	// Client to server
	OpJoin         Op = "join"
	OpLeave        Op = "leave"
	OpSnapshotPush Op = "snapshot-push"
	OpPing         Op = "ping"

	// Relayed drawing events, same schema in both directions
	OpDraw        Op = "draw"
	OpBeginPath   Op = "begin-path"
	OpEndPath     Op = "end-path"
	OpShape       Op = "shape"
	OpCursor      Op = "cursor"
	OpClearCanvas Op = "clear-canvas"

	// Server to client
	OpJoined       Op = "joined"
	OpSnapshot     Op = "snapshot"
	OpSnapshotAck  Op = "snapshot-ack"
	OpMemberJoined Op = "member-joined"
	OpMemberLeft   Op = "member-left"
	OpError        Op = "error"
	OpPong         Op = "pong"
)

// IsRelayed reports whether op is forwarded to the other members of a room
func (o Op) IsRelayed() bool {
	switch o {
	case OpDraw, OpBeginPath, OpEndPath, OpShape, OpCursor, OpClearCanvas:
		return true
	}
	return false
}

// IsServerOnly reports whether op may only be sent by the server
func (o Op) IsServerOnly() bool {
	switch o {
	case OpJoined, OpSnapshot, OpSnapshotAck, OpMemberJoined, OpMemberLeft, OpError, OpPong:
		return true
	}
	return false
}

// Error codes carried in error envelopes
const (
	CodeUnauthenticated  = "unauthenticated"
	CodeNotInRoom        = "not_in_room"
	CodeRoomNotFound     = "room_not_found"
	CodeInvalidRoomID    = "invalid_room_id"
	CodeRoomLookupFailed = "room_lookup_failed"
	CodeSnapshotTooLarge = "snapshot_too_large"
	CodeBadMessage       = "bad_message"
	CodeUnsupportedOp    = "unsupported_op"
	CodeServerOnlyOp     = "server_only_op"
	CodeInternal         = "internal_error"
)

// WebSocket close codes used by the relay
const (
	// CloseUnauthenticated is sent when the handshake credential is rejected
	CloseUnauthenticated = 4401
)

// Sender identifies the originator of a relayed event
type Sender struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Name         string `json:"name,omitempty"`
}

// Envelope is the single message shape used on the wire. Fields irrelevant
// to an op are omitted.
type Envelope struct {
	Op      Op              `json:"op"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     uint64          `json:"seq,omitempty"` // per sending connection
	Blob    []byte          `json:"blob,omitempty"`
	Version int64           `json:"version,omitempty"`
	From    *Sender         `json:"from,omitempty"`

	OK             bool     `json:"ok,omitempty"`
	Code           string   `json:"code,omitempty"`
	Message        string   `json:"message,omitempty"`
	CurrentVersion int64    `json:"currentVersion,omitempty"`
	Stored         *bool    `json:"stored,omitempty"`
	Members        []Sender `json:"members,omitempty"`
}

// Decode parses one wire frame
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	if env.Op == "" {
		return nil, fmt.Errorf("invalid message: missing op")
	}
	return &env, nil
}

// Encode serializes the envelope
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodePayload unmarshals the payload into v
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", e.Op)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", e.Op, err)
	}
	return nil
}

// Forward returns a copy of e stamped with the sender identity. The payload
// bytes are shared, not re-encoded.
func (e *Envelope) Forward(from Sender) *Envelope {
	out := *e
	out.From = &from
	return &out
}

// NewEvent builds a drawing event envelope with a JSON payload
func NewEvent(op Op, roomID string, seq uint64, payload any) (*Envelope, error) {
	env := &Envelope{Op: op, RoomID: roomID, Seq: seq}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encode payload: %w", op, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// NewError builds an error envelope
func NewError(code, message, roomID string) *Envelope {
	return &Envelope{Op: OpError, Code: code, Message: message, RoomID: roomID}
}

// NewJoined builds the join acknowledgement
func NewJoined(roomID string, version int64, members []Sender) *Envelope {
	return &Envelope{Op: OpJoined, OK: true, RoomID: roomID, CurrentVersion: version, Members: members}
}

// NewPresence builds a member-joined or member-left notice about member
func NewPresence(op Op, roomID string, member Sender) *Envelope {
	return &Envelope{Op: op, RoomID: roomID, From: &member}
}

// NewSnapshot builds the catch-up snapshot sent to a joiner
func NewSnapshot(roomID string, blob []byte, version int64) *Envelope {
	return &Envelope{Op: OpSnapshot, RoomID: roomID, Blob: blob, Version: version}
}

// NewSnapshotAck builds the reply to a snapshot push
func NewSnapshotAck(roomID string, version int64, stored bool, current int64) *Envelope {
	return &Envelope{
		Op:             OpSnapshotAck,
		RoomID:         roomID,
		Version:        version,
		Stored:         &stored,
		CurrentVersion: current,
	}
}

// WasStored reports the stored flag of a snapshot-ack
func (e *Envelope) WasStored() bool {
	return e.Stored != nil && *e.Stored
}
