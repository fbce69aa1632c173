package api

import (
	"errors"

	"github.com/ericfitz/sketchroom/protocol"
)

// Relay errors. Each affects only the connection it is reported to.
var (
	ErrNotInRoom            = errors.New("connection is not a member of the addressed room")
	ErrStaleSnapshotWrite   = errors.New("snapshot version is not newer than the stored version")
	ErrRecipientUnreachable = errors.New("recipient unreachable")
	ErrRoomNotFound         = errors.New("room not found")
	ErrInvalidRoomID        = errors.New("invalid room id")
	ErrRoomLookupFailed     = errors.New("room lookup failed")
	ErrSnapshotTooLarge     = errors.New("snapshot exceeds size limit")
	ErrBadMessage           = errors.New("malformed message")
	ErrConnectionClosed     = errors.New("connection closed")
)

// errorCode maps an error returned by a message handler to its wire code
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotInRoom):
		return protocol.CodeNotInRoom
	case errors.Is(err, ErrRoomNotFound):
		return protocol.CodeRoomNotFound
	case errors.Is(err, ErrInvalidRoomID):
		return protocol.CodeInvalidRoomID
	case errors.Is(err, ErrRoomLookupFailed):
		return protocol.CodeRoomLookupFailed
	case errors.Is(err, ErrSnapshotTooLarge):
		return protocol.CodeSnapshotTooLarge
	case errors.Is(err, ErrBadMessage):
		return protocol.CodeBadMessage
	default:
		return protocol.CodeInternal
	}
}

// errorMessage returns the client-facing text for err. Internal causes are
// not leaked.
func errorMessage(err error) string {
	if errorCode(err) == protocol.CodeInternal {
		return "internal error"
	}
	return err.Error()
}
