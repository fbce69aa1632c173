package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ericfitz/sketchroom/internal/db"
	"github.com/ericfitz/sketchroom/internal/slogging"
	"github.com/redis/go-redis/v9"
)

// putSnapshotScript writes the snapshot only when ARGV[1] is strictly newer
// than the stored version. Returns 1 when stored, 0 when stale.
var putSnapshotScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'version') or '0')
if tonumber(ARGV[1]) <= cur then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'blob', ARGV[2], 'ts', ARGV[3])
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

// RedisSnapshotStore keeps snapshots in a Redis hash per room so several
// relay processes can share them. Entries expire after retention without
// reads or writes; the hub's janitor calls Retain for occupied rooms.
type RedisSnapshotStore struct {
	client    redis.UniversalClient
	builder   *db.RedisKeyBuilder
	retention time.Duration
}

// NewRedisSnapshotStore creates a Redis-backed snapshot store
func NewRedisSnapshotStore(client redis.UniversalClient, retention time.Duration) *RedisSnapshotStore {
	return &RedisSnapshotStore{
		client:    client,
		builder:   db.NewRedisKeyBuilder(),
		retention: retention,
	}
}

// Put stores the snapshot atomically under the version guard
func (s *RedisSnapshotStore) Put(ctx context.Context, roomID string, blob []byte, version int64) error {
	key := s.builder.SnapshotKey(roomID)
	stored, err := putSnapshotScript.Run(ctx, s.client, []string{key},
		version, blob, time.Now().UTC().UnixMilli(), s.retention.Milliseconds()).Int()
	if err != nil {
		slogging.Get().Error("Failed to store snapshot for room %s: %v", roomID, err)
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	if stored == 0 {
		return fmt.Errorf("%w: room %s, version %d", ErrStaleSnapshotWrite, roomID, version)
	}

	slogging.Get().Debug("Stored snapshot for room %s version %d (%d bytes)", roomID, version, len(blob))
	return nil
}

// Get returns the current snapshot or nil on a miss
func (s *RedisSnapshotStore) Get(ctx context.Context, roomID string) (*Snapshot, error) {
	key := s.builder.SnapshotKey(roomID)

	values, err := s.client.HMGet(ctx, key, "version", "blob", "ts").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	// a cleared room still holds its version floor
	s.touch(ctx, key)
	if len(values) != 3 || values[1] == nil {
		return nil, nil
	}

	version, err := parseRedisInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("corrupt snapshot version for room %s: %w", roomID, err)
	}
	blob, ok := values[1].(string)
	if !ok {
		return nil, fmt.Errorf("corrupt snapshot blob for room %s", roomID)
	}
	storedAt := time.Time{}
	if ms, err := parseRedisInt(values[2]); err == nil && ms > 0 {
		storedAt = time.UnixMilli(ms).UTC()
	}

	return &Snapshot{RoomID: roomID, Blob: []byte(blob), Version: version, StoredAt: storedAt}, nil
}

// Clear drops the image and keeps the version floor
func (s *RedisSnapshotStore) Clear(ctx context.Context, roomID string) error {
	key := s.builder.SnapshotKey(roomID)
	if err := s.client.HDel(ctx, key, "blob", "ts").Err(); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	s.touch(ctx, key)
	return nil
}

// Version returns the version floor, 0 when the room has none
func (s *RedisSnapshotStore) Version(ctx context.Context, roomID string) (int64, error) {
	raw, err := s.client.HGet(ctx, s.builder.SnapshotKey(roomID), "version").Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot version: %w", err)
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Retain restarts the retention clock of every listed room in one round trip.
// Rooms without a key are unaffected.
func (s *RedisSnapshotStore) Retain(ctx context.Context, roomIDs []string) error {
	if s.retention <= 0 || len(roomIDs) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range roomIDs {
			pipe.PExpire(ctx, s.builder.SnapshotKey(id), s.retention)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to retain snapshots: %w", err)
	}
	return nil
}

// touch restarts the retention clock
func (s *RedisSnapshotStore) touch(ctx context.Context, key string) {
	if s.retention <= 0 {
		return
	}
	if err := s.client.PExpire(ctx, key, s.retention).Err(); err != nil {
		slogging.Get().Debug("Failed to refresh snapshot TTL for %s: %v", key, err)
	}
}

func parseRedisInt(v any) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	case int64:
		return t, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
