package db

import "fmt"

// RedisKeyBuilder provides methods to build Redis keys following the defined patterns
type RedisKeyBuilder struct{}

// NewRedisKeyBuilder creates a new Redis key builder
func NewRedisKeyBuilder() *RedisKeyBuilder {
	return &RedisKeyBuilder{}
}

// SnapshotKey builds the hash key holding a room's cached canvas
func (b *RedisKeyBuilder) SnapshotKey(roomID string) string {
	return fmt.Sprintf("canvas:snapshot:%s", roomID)
}

// BlacklistTokenKey builds a token blacklist key from a token digest
func (b *RedisKeyBuilder) BlacklistTokenKey(digest string) string {
	return fmt.Sprintf("blacklist:token:%s", digest)
}
