package memory

import (
	"context"
	"testing"

	"meetsignal/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoom(t *testing.T, repo *RoomRepository, code domain.RoomCode, createdBy domain.UserID, maxParticipants int) *domain.Room {
	t.Helper()

	room := &domain.Room{
		ID:              domain.RoomID("room-" + string(code)),
		Code:            code,
		Name:            "test room",
		Status:          domain.RoomStatusActive,
		CreatedBy:       createdBy,
		MaxParticipants: maxParticipants,
	}
	require.NoError(t, repo.CreateRoom(context.Background(), room))
	return room
}

func TestCreateRoomDuplicateCode(t *testing.T) {
	repo := NewRoomRepository().(*RoomRepository)
	newTestRoom(t, repo, "ABC234", "", 0)

	err := repo.CreateRoom(context.Background(), &domain.Room{
		ID:     "room-other",
		Code:   "ABC234",
		Status: domain.RoomStatusActive,
	})
	assert.ErrorIs(t, err, domain.ErrRoomExists)
}

func TestJoinRoomAssignsRoles(t *testing.T) {
	repo := NewRoomRepository().(*RoomRepository)
	newTestRoom(t, repo, "ABC234", "owner-1", 0)
	ctx := context.Background()

	guest, err := repo.JoinRoom(ctx, "ABC234", "conn-1", "Bob", "user-2")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleGuest, guest.Role)

	host, err := repo.JoinRoom(ctx, "ABC234", "conn-2", "Alice", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleHost, host.Role)
}

func TestJoinRoomFirstArrivalHostsOwnerlessRoom(t *testing.T) {
	repo := NewRoomRepository().(*RoomRepository)
	newTestRoom(t, repo, "ABC234", "", 0)
	ctx := context.Background()

	first, err := repo.JoinRoom(ctx, "ABC234", "conn-1", "Alice", "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleHost, first.Role)

	second, err := repo.JoinRoom(ctx, "ABC234", "conn-2", "Bob", "user-2")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleGuest, second.Role)
}

func TestJoinRoomRejections(t *testing.T) {
	repo := NewRoomRepository().(*RoomRepository)
	room := newTestRoom(t, repo, "ABC234", "", 2)
	ctx := context.Background()

	_, err := repo.JoinRoom(ctx, "NOPE42", "conn-1", "Alice", "user-1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	_, err = repo.JoinRoom(ctx, "ABC234", "conn-1", "Alice", "user-1")
	require.NoError(t, err)

	_, err = repo.JoinRoom(ctx, "ABC234", "conn-1", "Alice", "user-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyJoined)

	_, err = repo.JoinRoom(ctx, "ABC234", "conn-2", "Bob", "user-2")
	require.NoError(t, err)

	_, err = repo.JoinRoom(ctx, "ABC234", "conn-3", "Carol", "user-3")
	assert.ErrorIs(t, err, domain.ErrRoomFull)

	require.NoError(t, repo.EndRoom(ctx, room.ID, "conn-1"))
	_, err = repo.JoinRoom(ctx, "ABC234", "conn-4", "Dave", "user-4")
	assert.ErrorIs(t, err, domain.ErrRoomClosed)
}

func TestLeaveRoomRemovesParticipant(t *testing.T) {
	repo := NewRoomRepository().(*RoomRepository)
	room := newTestRoom(t, repo, "ABC234", "", 0)
	ctx := context.Background()

	_, err := repo.JoinRoom(ctx, "ABC234", "conn-1", "Alice", "user-1")
	require.NoError(t, err)

	require.NoError(t, repo.LeaveRoom(ctx, "ABC234", "conn-1"))

	participants, err := repo.GetRoomParticipants(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, participants)

	err = repo.LeaveRoom(ctx, "ABC234", "conn-1")
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
}

func TestUpdateParticipantMergesMediaState(t *testing.T) {
	repo := NewRoomRepository().(*RoomRepository)
	room := newTestRoom(t, repo, "ABC234", "", 0)
	ctx := context.Background()

	_, err := repo.JoinRoom(ctx, "ABC234", "conn-1", "Alice", "user-1")
	require.NoError(t, err)

	err = repo.UpdateParticipant(ctx, "ABC234", "conn-1", domain.MediaStateUpdate{
		AudioEnabled: domain.Bool(false),
		HandRaised:   domain.Bool(true),
	})
	require.NoError(t, err)

	participants, err := repo.GetRoomParticipants(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.False(t, participants[0].Media.AudioEnabled)
	assert.True(t, participants[0].Media.HandRaised)
	assert.False(t, participants[0].Media.ScreenSharing)

	err = repo.UpdateParticipant(ctx, "ABC234", "conn-2", domain.MediaStateUpdate{})
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
}

func TestEndRoomClearsRoster(t *testing.T) {
	repo := NewRoomRepository().(*RoomRepository)
	room := newTestRoom(t, repo, "ABC234", "", 0)
	ctx := context.Background()

	_, err := repo.JoinRoom(ctx, "ABC234", "conn-1", "Alice", "user-1")
	require.NoError(t, err)

	require.NoError(t, repo.EndRoom(ctx, room.ID, "conn-1"))

	got, err := repo.GetRoomByCode(ctx, "ABC234")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusEnded, got.Status)
	assert.NotNil(t, got.EndedAt)
	assert.Equal(t, domain.ConnectionID("conn-1"), got.EndedBy)

	participants, err := repo.GetRoomParticipants(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, participants)

	// Ending an already-ended room is a no-op.
	require.NoError(t, repo.EndRoom(ctx, room.ID, "conn-9"))
	got, err = repo.GetRoomByCode(ctx, "ABC234")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionID("conn-1"), got.EndedBy)
}

func TestGetRoomReturnsCopies(t *testing.T) {
	repo := NewRoomRepository().(*RoomRepository)
	newTestRoom(t, repo, "ABC234", "", 0)
	ctx := context.Background()

	got, err := repo.GetRoomByCode(ctx, "ABC234")
	require.NoError(t, err)
	got.Status = domain.RoomStatusEnded

	again, err := repo.GetRoomByCode(ctx, "ABC234")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusActive, again.Status)
}
