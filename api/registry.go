package api

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/ericfitz/sketchroom/internal/slogging"
	"github.com/ericfitz/sketchroom/internal/telemetry"
	"github.com/ericfitz/sketchroom/protocol"
)

const maxRoomIDLength = 128

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// ValidRoomID reports whether id is an acceptable room identifier
func ValidRoomID(id string) bool {
	return id != "" && len(id) <= maxRoomIDLength && roomIDPattern.MatchString(id)
}

// room holds the membership of one collaboration space. All fields are
// guarded by mu.
type room struct {
	id      string
	mu      sync.Mutex
	members map[*Connection]struct{}
	// clearEpoch advances on every clear-canvas so a join racing a clear can
	// discard a snapshot it read before the clear
	clearEpoch uint64
	// closed is set when the last member leaves; a closed room is never reused
	closed bool
}

func newRoom(id string) *room {
	return &room{id: id, members: make(map[*Connection]struct{})}
}

// membersExcept copies the member set minus exclude. ok is false when
// exclude is set but no longer a member.
func (r *room) membersExcept(exclude *Connection) (members []*Connection, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membersExceptLocked(exclude)
}

func (r *room) membersExceptLocked(exclude *Connection) ([]*Connection, bool) {
	if exclude != nil {
		if _, member := r.members[exclude]; !member {
			return nil, false
		}
	}
	members := make([]*Connection, 0, len(r.members))
	for c := range r.members {
		if c != exclude {
			members = append(members, c)
		}
	}
	return members, true
}

// beginClear advances the clear epoch and returns the recipients of the
// clear event, in one critical section
func (r *room) beginClear(sender *Connection) ([]*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, member := r.members[sender]; !member {
		return nil, false
	}
	r.clearEpoch++
	return r.membersExceptLocked(sender)
}

func (r *room) sendersLocked() []protocol.Sender {
	senders := make([]protocol.Sender, 0, len(r.members))
	for c := range r.members {
		senders = append(senders, c.Sender())
	}
	return senders
}

// RegistryStats is a point-in-time count for health and metrics
type RegistryStats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

// Registry maps room ids to member connections. Its own lock guards only the
// room map; membership changes take the affected room's lock.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room

	snapshots  SnapshotStore
	roomStore  RoomStore
	autoCreate bool
	metrics    *telemetry.RelayMetrics
}

// NewRegistry creates a registry. When autoCreate is false, rooms must exist
// in roomStore before they can be joined.
func NewRegistry(snapshots SnapshotStore, roomStore RoomStore, autoCreate bool, metrics *telemetry.RelayMetrics) *Registry {
	if metrics == nil {
		metrics = telemetry.NewNoopRelayMetrics()
	}
	return &Registry{
		rooms:      make(map[string]*room),
		snapshots:  snapshots,
		roomStore:  roomStore,
		autoCreate: autoCreate,
		metrics:    metrics,
	}
}

// getOrCreate returns the open room for id, replacing a closed one
func (r *Registry) getOrCreate(id string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[id]; ok {
		rm.mu.Lock()
		closed := rm.closed
		rm.mu.Unlock()
		if !closed {
			return rm
		}
		// its last member left but removeRoom has not run yet
		r.metrics.RoomRemoved(context.Background())
	}

	rm := newRoom(id)
	r.rooms[id] = rm
	r.metrics.RoomCreated(context.Background())
	return rm
}

// Join makes c a member of roomID and returns the room's snapshot version.
// The joined acknowledgement and, when one exists, the cached snapshot are
// queued to c before c becomes visible to any fan-out, so the snapshot
// always precedes relayed events. Any previous membership is dropped first.
func (r *Registry) Join(ctx context.Context, c *Connection, roomID string) (int64, error) {
	if !ValidRoomID(roomID) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
	}

	if !r.autoCreate {
		exists, err := r.roomStore.Exists(ctx, roomID)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrRoomLookupFailed, err)
		}
		if !exists {
			return 0, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
		}
	}

	if prev := c.currentRoom(); prev != nil && prev.id != roomID {
		r.Leave(c)
	}

	for {
		rm := r.getOrCreate(roomID)

		rm.mu.Lock()
		epoch, closed := rm.clearEpoch, rm.closed
		rm.mu.Unlock()
		if closed {
			continue
		}

		// Cache I/O happens outside the room lock
		snapshot, version := r.loadSnapshot(ctx, roomID)
		var snapshotFrame []byte
		if snapshot != nil {
			frame, err := protocol.NewSnapshot(roomID, snapshot.Blob, snapshot.Version).Encode()
			if err == nil {
				snapshotFrame = frame
			}
		}

		rm.mu.Lock()
		if rm.closed {
			rm.mu.Unlock()
			continue
		}
		if c.isClosing() {
			empty := len(rm.members) == 0
			if empty {
				rm.closed = true
			}
			rm.mu.Unlock()
			if empty {
				r.removeRoom(rm)
			}
			return 0, ErrConnectionClosed
		}
		if rm.clearEpoch != epoch {
			// cleared while we were reading; the snapshot is stale
			snapshotFrame = nil
		}

		rm.members[c] = struct{}{}
		c.setRoom(rm)

		queued := c.enqueueEnvelope(protocol.NewJoined(roomID, version, rm.sendersLocked()))
		if queued && snapshotFrame != nil {
			queued = c.enqueue(snapshotFrame)
		}
		rm.mu.Unlock()

		if !queued {
			return version, fmt.Errorf("%w: join acknowledgement for %s", ErrRecipientUnreachable, c.ID)
		}
		return version, nil
	}
}

// loadSnapshot fetches the cached snapshot and the room's version. Cache
// failures degrade to no catch-up snapshot.
func (r *Registry) loadSnapshot(ctx context.Context, roomID string) (*Snapshot, int64) {
	logger := slogging.Get()

	snapshot, err := r.snapshots.Get(ctx, roomID)
	if err != nil {
		logger.Warn("Snapshot cache read failed for room %s, joiner gets no catch-up: %v", roomID, err)
		return nil, 0
	}
	if snapshot != nil {
		return snapshot, snapshot.Version
	}

	// No image, but a cleared room still has a version floor
	version, err := r.snapshots.Version(ctx, roomID)
	if err != nil {
		logger.Warn("Snapshot version read failed for room %s: %v", roomID, err)
		return nil, 0
	}
	return nil, version
}

// Leave removes c from its room and returns the room id and the members that
// remain. It is a no-op returning "" when c is in no room. Rooms are removed
// from the registry once empty; their cached snapshot is kept per the cache's
// retention policy.
func (r *Registry) Leave(c *Connection) (string, []*Connection) {
	rm := c.takeRoom()
	if rm == nil {
		return "", nil
	}

	rm.mu.Lock()
	delete(rm.members, c)
	remaining, _ := rm.membersExceptLocked(nil)
	empty := len(rm.members) == 0
	if empty {
		rm.closed = true
	}
	rm.mu.Unlock()

	if empty {
		r.removeRoom(rm)
	}

	return rm.id, remaining
}

// removeRoom drops a closed room from the map
func (r *Registry) removeRoom(rm *room) {
	r.mu.Lock()
	removed := r.rooms[rm.id] == rm
	if removed {
		delete(r.rooms, rm.id)
	}
	r.mu.Unlock()
	if removed {
		r.metrics.RoomRemoved(context.Background())
	}
}

// MembersOf returns the members of roomID other than exclude, as of one
// instant. Dispatch to the returned connections happens after the room lock
// is released.
func (r *Registry) MembersOf(roomID string, exclude *Connection) []*Connection {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	members := make([]*Connection, 0, len(rm.members))
	for c := range rm.members {
		if c != exclude {
			members = append(members, c)
		}
	}
	return members
}

// RoomOf returns the id of the room c belongs to, or ""
func (r *Registry) RoomOf(c *Connection) string {
	if rm := c.currentRoom(); rm != nil {
		return rm.id
	}
	return ""
}

// IsActive reports whether roomID currently has members
func (r *Registry) IsActive(roomID string) bool {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return !rm.closed && len(rm.members) > 0
}

// ActiveRooms returns the ids of rooms that currently have members
func (r *Registry) ActiveRooms() []string {
	r.mu.RLock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	ids := make([]string, 0, len(rooms))
	for _, rm := range rooms {
		rm.mu.Lock()
		if !rm.closed && len(rm.members) > 0 {
			ids = append(ids, rm.id)
		}
		rm.mu.Unlock()
	}
	return ids
}

// Stats counts rooms and room members
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{Rooms: len(r.rooms)}
	for _, rm := range r.rooms {
		rm.mu.Lock()
		stats.Connections += len(rm.members)
		rm.mu.Unlock()
	}
	return stats
}
