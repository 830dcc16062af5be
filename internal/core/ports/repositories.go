package ports

import (
	"context"

	"meetsignal/internal/core/domain"
)

// RoomRepository is the membership registry: the authoritative store of
// rooms, their participant rosters and per-participant media state. The
// orchestrator never caches its answers across messages.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room *domain.Room) error
	GetRoomByCode(ctx context.Context, code domain.RoomCode) (*domain.Room, error)
	JoinRoom(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID, displayName string, userID domain.UserID) (*domain.Participant, error)
	LeaveRoom(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID) error
	GetRoomParticipants(ctx context.Context, roomID domain.RoomID) ([]*domain.Participant, error)
	UpdateParticipant(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID, update domain.MediaStateUpdate) error
	EndRoom(ctx context.Context, roomID domain.RoomID, endedBy domain.ConnectionID) error
}
