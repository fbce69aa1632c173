package api

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ericfitz/sketchroom/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
)

func newSQLiteRoomStore(t *testing.T) *GormRoomStore {
	t.Helper()
	gdb, err := db.NewGormDB(db.GormConfig{Type: db.DatabaseTypeSQLite, SQLitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gdb.Close() })
	require.NoError(t, gdb.AutoMigrate(&Room{}))
	return NewGormRoomStore(gdb.DB())
}

func TestStaticRoomStore(t *testing.T) {
	store := NewStaticRoomStore("art1", "lobby")

	ok, err := store.Exists(context.Background(), "art1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGormRoomStore_EnsureAndExists(t *testing.T) {
	store := newSQLiteRoomStore(t)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "art1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Ensure(ctx, "art1", "Art class"))
	// provisioning twice keeps the first row
	require.NoError(t, store.Ensure(ctx, "art1", "Renamed"))
	require.NoError(t, store.Ensure(ctx, "lobby", ""))

	ok, err = store.Exists(ctx, "art1")
	require.NoError(t, err)
	assert.True(t, ok)

	rooms, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "art1", rooms[0].ID)
	assert.Equal(t, "Art class", rooms[0].DisplayName)
	assert.Equal(t, "lobby", rooms[1].ID)
}

func TestGormRoomStore_EnsureRejectsInvalidID(t *testing.T) {
	store := newSQLiteRoomStore(t)
	err := store.Ensure(context.Background(), "bad room!", "")
	assert.ErrorIs(t, err, ErrInvalidRoomID)
}

func TestGormRoomStore_QueryError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = sqlDB.Close() }()

	gdb, err := db.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}))
	require.NoError(t, err)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `rooms`").
		WillReturnError(errors.New("connection reset"))

	store := NewGormRoomStore(gdb)
	ok, err := store.Exists(context.Background(), "art1")
	require.Error(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRoomStore_ExistsQuery(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = sqlDB.Close() }()

	gdb, err := db.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}))
	require.NoError(t, err)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `rooms` WHERE `id` = \\?").
		WithArgs("art1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	ok, err := NewGormRoomStore(gdb).Exists(context.Background(), "art1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
