package domain

import "time"

type RoomID string
type RoomCode string

type RoomStatus string

const (
	RoomStatusActive RoomStatus = "active"
	RoomStatusEnded  RoomStatus = "ended"
)

type Room struct {
	ID              RoomID
	Code            RoomCode
	Name            string
	Status          RoomStatus
	CreatedBy       UserID
	CreatedAt       time.Time
	EndedAt         *time.Time
	EndedBy         ConnectionID
	MaxParticipants int // 0 means unlimited
}

// IsActive reports whether the room still accepts joins.
func (r *Room) IsActive() bool {
	return r.Status == RoomStatusActive
}
