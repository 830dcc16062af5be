package domain

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomClosed          = errors.New("room is closed")
	ErrRoomFull            = errors.New("room is full")
	ErrRoomExists          = errors.New("room already exists")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrAlreadyJoined       = errors.New("participant already in room")
)
