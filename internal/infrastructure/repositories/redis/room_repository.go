package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const (
	roomKeyPrefix   = "meetsignal:room:"
	codeKeyPrefix   = "meetsignal:room_code:"
	rosterKeyPrefix = "meetsignal:roster:"

	// Ended rooms and their indexes are kept around briefly for late
	// lookups, then expire.
	endedRoomTTL = 24 * time.Hour
)

// RoomRepository is the Redis-backed membership registry, used when several
// signaling nodes need to agree on room state.
type RoomRepository struct {
	client *redis.Client
}

func NewRoomRepository(client *redis.Client) ports.RoomRepository {
	return &RoomRepository{client: client}
}

func roomKey(id domain.RoomID) string     { return roomKeyPrefix + string(id) }
func codeKey(code domain.RoomCode) string { return codeKeyPrefix + string(code) }
func rosterKey(id domain.RoomID) string   { return rosterKeyPrefix + string(id) }

func (r *RoomRepository) CreateRoom(ctx context.Context, room *domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	ok, err := r.client.SetNX(ctx, codeKey(room.Code), string(room.ID), 0).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve room code: %w", err)
	}
	if !ok {
		return domain.ErrRoomExists
	}

	if err := r.client.Set(ctx, roomKey(room.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store room: %w", err)
	}
	return nil
}

func (r *RoomRepository) GetRoomByCode(ctx context.Context, code domain.RoomCode) (*domain.Room, error) {
	id, err := r.client.Get(ctx, codeKey(code)).Result()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve room code: %w", err)
	}
	return r.getRoom(ctx, domain.RoomID(id))
}

func (r *RoomRepository) getRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	data, err := r.client.Get(ctx, roomKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room: %w", err)
	}

	var room domain.Room
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return &room, nil
}

func (r *RoomRepository) JoinRoom(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID, displayName string, userID domain.UserID) (*domain.Participant, error) {
	room, err := r.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !room.IsActive() {
		return nil, domain.ErrRoomClosed
	}

	roster := rosterKey(room.ID)

	size, err := r.client.HLen(ctx, roster).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to size roster: %w", err)
	}
	if room.MaxParticipants > 0 && int(size) >= room.MaxParticipants {
		return nil, domain.ErrRoomFull
	}

	role := domain.RoleGuest
	switch {
	case room.CreatedBy != "" && userID == room.CreatedBy:
		role = domain.RoleHost
	case room.CreatedBy == "" && size == 0:
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
	data, err := json.Marshal(participant)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal participant: %w", err)
	}

	added, err := r.client.HSetNX(ctx, roster, string(connID), data).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to store participant: %w", err)
	}
	if !added {
		return nil, domain.ErrAlreadyJoined
	}
	return participant, nil
}

func (r *RoomRepository) LeaveRoom(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID) error {
	room, err := r.GetRoomByCode(ctx, code)
	if err != nil {
		return err
	}

	removed, err := r.client.HDel(ctx, rosterKey(room.ID), string(connID)).Result()
	if err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	if removed == 0 {
		return domain.ErrParticipantNotFound
	}
	return nil
}

func (r *RoomRepository) GetRoomParticipants(ctx context.Context, roomID domain.RoomID) ([]*domain.Participant, error) {
	if _, err := r.getRoom(ctx, roomID); err != nil {
		return nil, err
	}

	entries, err := r.client.HGetAll(ctx, rosterKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load roster: %w", err)
	}

	participants := make([]*domain.Participant, 0, len(entries))
	for _, raw := range entries {
		var p domain.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal participant: %w", err)
		}
		participants = append(participants, &p)
	}
	return participants, nil
}

func (r *RoomRepository) UpdateParticipant(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID, update domain.MediaStateUpdate) error {
	room, err := r.GetRoomByCode(ctx, code)
	if err != nil {
		return err
	}

	roster := rosterKey(room.ID)
	raw, err := r.client.HGet(ctx, roster, string(connID)).Result()
	if err == redis.Nil {
		return domain.ErrParticipantNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load participant: %w", err)
	}

	var participant domain.Participant
	if err := json.Unmarshal([]byte(raw), &participant); err != nil {
		return fmt.Errorf("failed to unmarshal participant: %w", err)
	}
	update.Apply(&participant.Media)

	data, err := json.Marshal(&participant)
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}
	if err := r.client.HSet(ctx, roster, string(connID), data).Err(); err != nil {
		return fmt.Errorf("failed to store participant: %w", err)
	}
	return nil
}

func (r *RoomRepository) EndRoom(ctx context.Context, roomID domain.RoomID, endedBy domain.ConnectionID) error {
	room, err := r.getRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status == domain.RoomStatusEnded {
		return nil
	}

	now := time.Now()
	room.Status = domain.RoomStatusEnded
	room.EndedAt = &now
	room.EndedBy = endedBy

	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, roomKey(roomID), data, endedRoomTTL)
	pipe.Expire(ctx, codeKey(room.Code), endedRoomTTL)
	pipe.Del(ctx, rosterKey(roomID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to end room: %w", err)
	}
	return nil
}
