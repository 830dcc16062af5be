package services

import (
	"context"
	"testing"

	"meetsignal/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRoomRepository struct {
	mock.Mock
}

func (m *mockRoomRepository) CreateRoom(ctx context.Context, room *domain.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

func (m *mockRoomRepository) GetRoomByCode(ctx context.Context, code domain.RoomCode) (*domain.Room, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Room), args.Error(1)
}

func (m *mockRoomRepository) JoinRoom(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID, displayName string, userID domain.UserID) (*domain.Participant, error) {
	args := m.Called(ctx, code, connID, displayName, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Participant), args.Error(1)
}

func (m *mockRoomRepository) LeaveRoom(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID) error {
	args := m.Called(ctx, code, connID)
	return args.Error(0)
}

func (m *mockRoomRepository) GetRoomParticipants(ctx context.Context, roomID domain.RoomID) ([]*domain.Participant, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Participant), args.Error(1)
}

func (m *mockRoomRepository) UpdateParticipant(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID, update domain.MediaStateUpdate) error {
	args := m.Called(ctx, code, connID, update)
	return args.Error(0)
}

func (m *mockRoomRepository) EndRoom(ctx context.Context, roomID domain.RoomID, endedBy domain.ConnectionID) error {
	args := m.Called(ctx, roomID, endedBy)
	return args.Error(0)
}

func TestCreateRoomGeneratesIDAndCode(t *testing.T) {
	repo := new(mockRoomRepository)
	svc := NewRoomService(repo, 50)

	repo.On("CreateRoom", mock.Anything, mock.MatchedBy(func(room *domain.Room) bool {
		return room.ID != "" && len(room.Code) == 6 &&
			room.Status == domain.RoomStatusActive &&
			room.MaxParticipants == 50
	})).Return(nil)

	room, err := svc.CreateRoom(context.Background(), "standup", "user-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "standup", room.Name)
	assert.Equal(t, domain.UserID("user-1"), room.CreatedBy)
	repo.AssertExpectations(t)
}

func TestCreateRoomHonorsExplicitCap(t *testing.T) {
	repo := new(mockRoomRepository)
	svc := NewRoomService(repo, 50)

	repo.On("CreateRoom", mock.Anything, mock.MatchedBy(func(room *domain.Room) bool {
		return room.MaxParticipants == 4
	})).Return(nil)

	_, err := svc.CreateRoom(context.Background(), "huddle", "user-1", 4)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestFindHostReturnsHostParticipant(t *testing.T) {
	repo := new(mockRoomRepository)
	svc := NewRoomService(repo, 0)

	room := &domain.Room{ID: "room-1", Code: "ABC234", Status: domain.RoomStatusActive}
	repo.On("GetRoomByCode", mock.Anything, domain.RoomCode("ABC234")).Return(room, nil)
	repo.On("GetRoomParticipants", mock.Anything, domain.RoomID("room-1")).Return([]*domain.Participant{
		{ID: "conn-1", Role: domain.RoleGuest},
		{ID: "conn-2", Role: domain.RoleHost},
	}, nil)

	host, err := svc.FindHost(context.Background(), "ABC234")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionID("conn-2"), host.ID)
}

func TestFindHostNoneInRoom(t *testing.T) {
	repo := new(mockRoomRepository)
	svc := NewRoomService(repo, 0)

	room := &domain.Room{ID: "room-1", Code: "ABC234", Status: domain.RoomStatusActive}
	repo.On("GetRoomByCode", mock.Anything, domain.RoomCode("ABC234")).Return(room, nil)
	repo.On("GetRoomParticipants", mock.Anything, domain.RoomID("room-1")).Return([]*domain.Participant{
		{ID: "conn-1", Role: domain.RoleGuest},
	}, nil)

	_, err := svc.FindHost(context.Background(), "ABC234")
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
}

func TestFindHostRoomMissing(t *testing.T) {
	repo := new(mockRoomRepository)
	svc := NewRoomService(repo, 0)

	repo.On("GetRoomByCode", mock.Anything, domain.RoomCode("NOPE42")).Return(nil, domain.ErrRoomNotFound)

	_, err := svc.FindHost(context.Background(), "NOPE42")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}
