package api

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfitz/sketchroom/internal/slogging"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoomStore answers whether a room may be joined when rooms are not
// created on first join
type RoomStore interface {
	Exists(ctx context.Context, roomID string) (bool, error)
}

// StaticRoomStore is a fixed set of joinable rooms
type StaticRoomStore map[string]struct{}

// NewStaticRoomStore creates a store containing ids
func NewStaticRoomStore(ids ...string) StaticRoomStore {
	s := make(StaticRoomStore, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Exists reports whether roomID is in the set
func (s StaticRoomStore) Exists(_ context.Context, roomID string) (bool, error) {
	_, ok := s[roomID]
	return ok, nil
}

// Room is a provisioned room row
type Room struct {
	ID          string    `gorm:"primaryKey;size:128"`
	DisplayName string    `gorm:"size:256"`
	AccessCode  string    `gorm:"size:64"`
	CreatedAt   time.Time `gorm:"not null"`
}

// TableName pins the table name across dialects
func (Room) TableName() string {
	return "rooms"
}

// GormRoomStore implements RoomStore over the rooms table
type GormRoomStore struct {
	db     *gorm.DB
	logger *slogging.Logger
}

// NewGormRoomStore creates a new GORM-backed room store
func NewGormRoomStore(db *gorm.DB) *GormRoomStore {
	return &GormRoomStore{
		db:     db,
		logger: slogging.Get(),
	}
}

// Exists reports whether the room has been provisioned
func (s *GormRoomStore) Exists(ctx context.Context, roomID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Room{}).
		Where(map[string]any{"id": roomID}).
		Count(&count).Error
	if err != nil {
		s.logger.Error("Failed to look up room %s: %v", roomID, err)
		return false, fmt.Errorf("failed to look up room: %w", err)
	}
	return count > 0, nil
}

// Ensure provisions a room, leaving an existing row untouched
func (s *GormRoomStore) Ensure(ctx context.Context, roomID, displayName string) error {
	if !ValidRoomID(roomID) {
		return fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
	}

	row := Room{ID: roomID, DisplayName: displayName, CreatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to provision room %s: %w", roomID, err)
	}

	s.logger.Debug("Provisioned room %s", roomID)
	return nil
}

// List returns all provisioned rooms ordered by id
func (s *GormRoomStore) List(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := s.db.WithContext(ctx).Order("id").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}
