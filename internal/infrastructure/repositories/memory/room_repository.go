package memory

import (
	"context"
	"sync"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
)

// RoomRepository is the in-memory membership registry. It is the default
// backend for single-node deployments and the backend the signaling tests
// run against.
type RoomRepository struct {
	mu           sync.RWMutex
	roomsByID    map[domain.RoomID]*domain.Room
	roomsByCode  map[domain.RoomCode]domain.RoomID
	participants map[domain.RoomID]map[domain.ConnectionID]*domain.Participant
}

func NewRoomRepository() ports.RoomRepository {
	return &RoomRepository{
		roomsByID:    make(map[domain.RoomID]*domain.Room),
		roomsByCode:  make(map[domain.RoomCode]domain.RoomID),
		participants: make(map[domain.RoomID]map[domain.ConnectionID]*domain.Participant),
	}
}

func (r *RoomRepository) CreateRoom(ctx context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.roomsByCode[room.Code]; exists {
		return domain.ErrRoomExists
	}

	stored := *room
	r.roomsByID[room.ID] = &stored
	r.roomsByCode[room.Code] = room.ID
	r.participants[room.ID] = make(map[domain.ConnectionID]*domain.Participant)
	return nil
}

func (r *RoomRepository) GetRoomByCode(ctx context.Context, code domain.RoomCode) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, err := r.roomByCodeLocked(code)
	if err != nil {
		return nil, err
	}
	copied := *room
	return &copied, nil
}

// JoinRoom admits a connection into a room and decides its role: the room
// creator is the host, and in rooms created without an owner the first
// arrival into an empty roster takes the role instead.
func (r *RoomRepository) JoinRoom(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID, displayName string, userID domain.UserID) (*domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.roomByCodeLocked(code)
	if err != nil {
		return nil, err
	}
	if !room.IsActive() {
		return nil, domain.ErrRoomClosed
	}

	roster := r.participants[room.ID]
	if _, exists := roster[connID]; exists {
		return nil, domain.ErrAlreadyJoined
	}
	if room.MaxParticipants > 0 && len(roster) >= room.MaxParticipants {
		return nil, domain.ErrRoomFull
	}

	role := domain.RoleGuest
	switch {
	case room.CreatedBy != "" && userID == room.CreatedBy:
		role = domain.RoleHost
	case room.CreatedBy == "" && len(roster) == 0:
		role = domain.RoleHost
	}

	participant := &domain.Participant{
		ID:          connID,
		UserID:      userID,
		DisplayName: displayName,
		Role:        role,
		Media:       domain.MediaState{AudioEnabled: true, VideoEnabled: true},
		JoinedAt:    time.Now(),
	}
	roster[connID] = participant

	copied := *participant
	return &copied, nil
}

func (r *RoomRepository) LeaveRoom(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.roomByCodeLocked(code)
	if err != nil {
		return err
	}

	roster := r.participants[room.ID]
	if _, exists := roster[connID]; !exists {
		return domain.ErrParticipantNotFound
	}
	delete(roster, connID)
	return nil
}

func (r *RoomRepository) GetRoomParticipants(ctx context.Context, roomID domain.RoomID) ([]*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roster, exists := r.participants[roomID]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}

	participants := make([]*domain.Participant, 0, len(roster))
	for _, p := range roster {
		copied := *p
		participants = append(participants, &copied)
	}
	return participants, nil
}

func (r *RoomRepository) UpdateParticipant(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID, update domain.MediaStateUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.roomByCodeLocked(code)
	if err != nil {
		return err
	}

	participant, exists := r.participants[room.ID][connID]
	if !exists {
		return domain.ErrParticipantNotFound
	}
	update.Apply(&participant.Media)
	return nil
}

func (r *RoomRepository) EndRoom(ctx context.Context, roomID domain.RoomID, endedBy domain.ConnectionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.roomsByID[roomID]
	if !exists {
		return domain.ErrRoomNotFound
	}
	if room.Status == domain.RoomStatusEnded {
		return nil
	}

	now := time.Now()
	room.Status = domain.RoomStatusEnded
	room.EndedAt = &now
	room.EndedBy = endedBy
	r.participants[roomID] = make(map[domain.ConnectionID]*domain.Participant)
	return nil
}

func (r *RoomRepository) roomByCodeLocked(code domain.RoomCode) (*domain.Room, error) {
	id, exists := r.roomsByCode[code]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	return r.roomsByID[id], nil
}
