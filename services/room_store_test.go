package services

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"sketchparty/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *RoomStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Room{}, &models.RoomPlayer{}))
	return NewRoomStore(db)
}

func TestRoomStore_CreateRoom(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	result, err := store.CreateRoom("Host")
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{6}$`), result.RoomCode)
	assert.NotEmpty(t, result.HostSecret)
	assert.True(t, result.HostPlayer.IsHost)
	assert.Equal(t, "Host", result.HostPlayer.Nickname)

	// The room must never exist without its host row.
	room, err := store.GetRoom(result.RoomCode)
	require.NoError(t, err)
	require.Len(t, room.Players, 1)
	assert.Equal(t, result.HostPlayer.ID, room.Players[0].ID)
}

func TestRoomStore_GetRoom_NotFound(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, err := store.GetRoom("NOSUCH")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomStore_JoinRoom(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	created, err := store.CreateRoom("Host")
	require.NoError(t, err)

	playerID, err := store.JoinRoom(created.RoomCode, "Player Two", "")
	require.NoError(t, err)
	require.NotEmpty(t, playerID)

	room, err := store.GetRoom(created.RoomCode)
	require.NoError(t, err)
	assert.Len(t, room.Players, 2)
}

func TestRoomStore_JoinRoom_LowercaseCode(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	created, err := store.CreateRoom("Host")
	require.NoError(t, err)

	_, err = store.JoinRoom(strings.ToLower(created.RoomCode), "Player Two", "")
	require.NoError(t, err)

	room, err := store.GetRoom(created.RoomCode)
	require.NoError(t, err)
	assert.Len(t, room.Players, 2)
}

func TestRoomStore_JoinRoom_RejoinUpdatesNickname(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	created, err := store.CreateRoom("Host")
	require.NoError(t, err)

	playerID, err := store.JoinRoom(created.RoomCode, "Old Name", "")
	require.NoError(t, err)

	rejoinedID, err := store.JoinRoom(created.RoomCode, "New Name", playerID)
	require.NoError(t, err)
	assert.Equal(t, playerID, rejoinedID)

	player, err := store.GetPlayer(created.RoomCode, playerID)
	require.NoError(t, err)
	assert.Equal(t, "New Name", player.Nickname)

	room, err := store.GetRoom(created.RoomCode)
	require.NoError(t, err)
	assert.Len(t, room.Players, 2)
}

func TestRoomStore_JoinRoom_UnknownRoom(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, err := store.JoinRoom("NOSUCH", "Player", "")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomStore_LeaveRoom(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	created, err := store.CreateRoom("Host")
	require.NoError(t, err)
	playerID, err := store.JoinRoom(created.RoomCode, "Player Two", "")
	require.NoError(t, err)

	require.NoError(t, store.LeaveRoom(created.RoomCode, playerID))

	_, err = store.GetPlayer(created.RoomCode, playerID)
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestRoomStore_GetHostSecret(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	created, err := store.CreateRoom("Host")
	require.NoError(t, err)

	secret, err := store.GetHostSecret(created.RoomCode)
	require.NoError(t, err)
	assert.Equal(t, created.HostSecret, secret)

	_, err = store.GetHostSecret("NOSUCH")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}
