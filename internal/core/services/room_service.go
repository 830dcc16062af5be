package services

import (
	"context"
	"fmt"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
	"meetsignal/pkg/utils"
)

type roomService struct {
	roomRepo        ports.RoomRepository
	maxParticipants int
}

// NewRoomService wraps a RoomRepository with the membership rules the
// orchestrator relies on: role assignment, room-size cap and host lookup.
func NewRoomService(roomRepo ports.RoomRepository, maxParticipants int) ports.RoomService {
	return &roomService{
		roomRepo:        roomRepo,
		maxParticipants: maxParticipants,
	}
}

func (s *roomService) CreateRoom(ctx context.Context, name string, createdBy domain.UserID, maxParticipants int) (*domain.Room, error) {
	if maxParticipants == 0 {
		maxParticipants = s.maxParticipants
	}

	room := &domain.Room{
		ID:              domain.RoomID(utils.GenerateRoomID()),
		Code:            domain.RoomCode(utils.GenerateRoomCode()),
		Name:            name,
		Status:          domain.RoomStatusActive,
		CreatedBy:       createdBy,
		CreatedAt:       time.Now(),
		MaxParticipants: maxParticipants,
	}

	if err := s.roomRepo.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	return room, nil
}

func (s *roomService) GetRoomByCode(ctx context.Context, code domain.RoomCode) (*domain.Room, error) {
	return s.roomRepo.GetRoomByCode(ctx, code)
}

func (s *roomService) JoinRoom(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID, displayName string, userID domain.UserID) (*domain.Participant, error) {
	return s.roomRepo.JoinRoom(ctx, code, connID, displayName, userID)
}

func (s *roomService) LeaveRoom(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID) error {
	return s.roomRepo.LeaveRoom(ctx, code, connID)
}

func (s *roomService) GetRoomParticipants(ctx context.Context, roomID domain.RoomID) ([]*domain.Participant, error) {
	return s.roomRepo.GetRoomParticipants(ctx, roomID)
}

// FindHost returns the room's host participant, or ErrParticipantNotFound
// when no participant currently holds the host role.
func (s *roomService) FindHost(ctx context.Context, code domain.RoomCode) (*domain.Participant, error) {
	room, err := s.roomRepo.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	participants, err := s.roomRepo.GetRoomParticipants(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	for _, p := range participants {
		if p.IsHost() {
			return p, nil
		}
	}
	return nil, domain.ErrParticipantNotFound
}

func (s *roomService) UpdateParticipant(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID, update domain.MediaStateUpdate) error {
	return s.roomRepo.UpdateParticipant(ctx, code, connID, update)
}

func (s *roomService) EndRoom(ctx context.Context, roomID domain.RoomID, endedBy domain.ConnectionID) error {
	return s.roomRepo.EndRoom(ctx, roomID, endedBy)
}
