package ports

import (
	"context"
	"time"

	"meetsignal/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

type RoomService interface {
	CreateRoom(ctx context.Context, name string, createdBy domain.UserID, maxParticipants int) (*domain.Room, error)
	GetRoomByCode(ctx context.Context, code domain.RoomCode) (*domain.Room, error)
	JoinRoom(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID, displayName string, userID domain.UserID) (*domain.Participant, error)
	LeaveRoom(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID) error
	GetRoomParticipants(ctx context.Context, roomID domain.RoomID) ([]*domain.Participant, error)
	FindHost(ctx context.Context, code domain.RoomCode) (*domain.Participant, error)
	UpdateParticipant(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID, update domain.MediaStateUpdate) error
	EndRoom(ctx context.Context, roomID domain.RoomID, endedBy domain.ConnectionID) error
}

// TurnService issues and verifies time-boxed relay credentials and renders
// the client-facing ICE server list with credentials injected.
type TurnService interface {
	Issue(userID string) (*domain.RelayCredential, error)
	Verify(identity, secret string) bool
	ICEServers(userID string) ([]webrtc.ICEServer, *domain.RelayCredential, error)
	TTL() time.Duration
}
