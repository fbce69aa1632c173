package api

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Snapshot is an opaque encoded canvas image with its room-scoped version
type Snapshot struct {
	RoomID   string
	Blob     []byte
	Version  int64
	StoredAt time.Time
}

// SnapshotStore caches the latest snapshot per room
type SnapshotStore interface {
	// Put stores blob if version is strictly greater than the room's current
	// version, otherwise it returns ErrStaleSnapshotWrite and changes nothing
	Put(ctx context.Context, roomID string, blob []byte, version int64) error
	// Get returns the current snapshot, or nil when none is stored
	Get(ctx context.Context, roomID string) (*Snapshot, error)
	// Clear drops the image but keeps the version so an older write that
	// arrives late cannot bring it back
	Clear(ctx context.Context, roomID string) error
	// Version returns the highest version ever stored for the room
	Version(ctx context.Context, roomID string) (int64, error)
}

// SnapshotEvictor is implemented by stores that expire entries in-process
type SnapshotEvictor interface {
	// EvictIdle removes entries untouched since before cutoff whose room is
	// not active, returning the number removed
	EvictIdle(cutoff time.Time, active func(roomID string) bool) int
}

// SnapshotRetainer is implemented by stores whose entries expire on their
// own. Retain restarts the retention clock of rooms that still have members.
type SnapshotRetainer interface {
	Retain(ctx context.Context, roomIDs []string) error
}

type snapshotEntry struct {
	mu        sync.Mutex
	blob      []byte
	version   int64
	storedAt  time.Time
	touchedAt time.Time
	// evicted is set under mu once the entry has left the map; holders of a
	// stale pointer must look the room up again
	evicted bool
}

// MemorySnapshotStore keeps snapshots in process memory. Each room's entry
// has its own lock; the map lock is held only to find or create entries.
type MemorySnapshotStore struct {
	mu      sync.Mutex
	entries map[string]*snapshotEntry
	now     func() time.Time

	// afterLookup runs between finding an entry and locking it (tests only)
	afterLookup func(roomID string)
}

// NewMemorySnapshotStore creates an empty in-memory store
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{
		entries: make(map[string]*snapshotEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemorySnapshotStore) entry(roomID string, create bool) *snapshotEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[roomID]
	if !ok && create {
		e = &snapshotEntry{}
		s.entries[roomID] = e
	}
	return e
}

// lockEntry returns the room's entry locked, or nil when there is none and
// create is false. An entry evicted between lookup and locking is retried.
func (s *MemorySnapshotStore) lockEntry(roomID string, create bool) *snapshotEntry {
	for {
		e := s.entry(roomID, create)
		if e == nil {
			return nil
		}
		if s.afterLookup != nil {
			s.afterLookup(roomID)
		}
		e.mu.Lock()
		if !e.evicted {
			return e
		}
		e.mu.Unlock()
	}
}

// Put stores the snapshot under the monotonic version guard
func (s *MemorySnapshotStore) Put(_ context.Context, roomID string, blob []byte, version int64) error {
	e := s.lockEntry(roomID, true)
	defer e.mu.Unlock()

	now := s.now()
	e.touchedAt = now
	if version <= e.version {
		return fmt.Errorf("%w: room %s has version %d, got %d", ErrStaleSnapshotWrite, roomID, e.version, version)
	}

	// Callers may reuse their buffer
	e.blob = append([]byte(nil), blob...)
	e.version = version
	e.storedAt = now
	return nil
}

// Get returns the room's current snapshot or nil
func (s *MemorySnapshotStore) Get(_ context.Context, roomID string) (*Snapshot, error) {
	e := s.lockEntry(roomID, false)
	if e == nil {
		return nil, nil
	}
	defer e.mu.Unlock()

	e.touchedAt = s.now()
	if e.blob == nil {
		return nil, nil
	}
	return &Snapshot{RoomID: roomID, Blob: e.blob, Version: e.version, StoredAt: e.storedAt}, nil
}

// Clear drops the image and keeps the version floor
func (s *MemorySnapshotStore) Clear(_ context.Context, roomID string) error {
	e := s.lockEntry(roomID, false)
	if e == nil {
		return nil
	}
	defer e.mu.Unlock()

	e.blob = nil
	e.touchedAt = s.now()
	return nil
}

// Version returns the room's version floor
func (s *MemorySnapshotStore) Version(_ context.Context, roomID string) (int64, error) {
	e := s.lockEntry(roomID, false)
	if e == nil {
		return 0, nil
	}
	defer e.mu.Unlock()
	return e.version, nil
}

// EvictIdle removes entries of inactive rooms not touched since cutoff
func (s *MemorySnapshotStore) EvictIdle(cutoff time.Time, active func(roomID string) bool) int {
	s.mu.Lock()
	candidates := make(map[string]*snapshotEntry, len(s.entries))
	for id, e := range s.entries {
		candidates[id] = e
	}
	s.mu.Unlock()

	evicted := 0
	for id, e := range candidates {
		if active != nil && active(id) {
			continue
		}

		// entry lock before map lock; nothing takes them in the other order
		e.mu.Lock()
		if e.touchedAt.Before(cutoff) {
			s.mu.Lock()
			if s.entries[id] == e {
				delete(s.entries, id)
				e.evicted = true
				evicted++
			}
			s.mu.Unlock()
		}
		e.mu.Unlock()
	}
	return evicted
}

// Len returns the number of rooms with an entry, including cleared ones
func (s *MemorySnapshotStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
