package signal

import (
	"encoding/json"

	"meetsignal/internal/core/domain"
)

// Envelope is the symmetric wire shape for every message in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// maxChatMessageLength caps relayed chat text; everything past it is cut off
// before broadcast.
const maxChatMessageLength = 2000

// Inbound message types.
const (
	MsgJoin               = "join"
	MsgLeave              = "leave"
	MsgRequestJoin        = "request-join"
	MsgApproveJoin        = "approve-join"
	MsgDenyJoin           = "deny-join"
	MsgOffer              = "offer"
	MsgAnswer             = "answer"
	MsgICECandidate       = "ice-candidate"
	MsgMute               = "mute"
	MsgUnmute             = "unmute"
	MsgVideoOn            = "video-on"
	MsgVideoOff           = "video-off"
	MsgScreenShareStart   = "screen-share-start"
	MsgScreenShareStop    = "screen-share-stop"
	MsgScreenShareRequest = "screen-share-request"
	MsgApproveScreenShare = "approve-screen-share"
	MsgDenyScreenShare    = "deny-screen-share"
	MsgChat               = "chat"
	MsgReaction           = "reaction"
	MsgRaiseHand          = "raise-hand"
	MsgLowerHand          = "lower-hand"
	MsgPing               = "ping"
	MsgPong               = "pong"
	MsgHostMute           = "host-mute-participant"
	MsgHostUnmute         = "host-unmute-participant"
	MsgHostRemove         = "host-remove-participant"
	MsgHostSpotlight      = "host-spotlight-participant"
	MsgHostClearSpotlight = "host-clear-spotlight"
	MsgEndMeeting         = "end-meeting"
)

// Outbound event types.
const (
	EventConnected          = "connected"
	EventJoined             = "joined"
	EventParticipantJoined  = "participant-joined"
	EventParticipantLeft    = "participant-left"
	EventJoinRequest        = "join-request"
	EventJoinApproved       = "join-approved"
	EventJoinDenied         = "join-denied"
	EventMediaUpdate        = "participant-media-update"
	EventScreenShareRequest = "screen-share-request"
	EventScreenShareOK      = "screen-share-approved"
	EventScreenShareDenied  = "screen-share-denied"
	EventHostMutedYou       = "host-muted-you"
	EventHostUnmuteRequest  = "host-unmute-request"
	EventRemovedByHost      = "removed-by-host"
	EventSpotlightChanged   = "spotlight-changed"
	EventMeetingEnded       = "meeting-ended"
	EventChatMessage        = "chat-message"
	EventReaction           = "reaction"
	EventHandRaised         = "hand-raised"
	EventHandLowered        = "hand-lowered"
	EventPing               = "ping"
	EventPong               = "pong"
	EventError              = "error"
)

type joinPayload struct {
	RoomCode    domain.RoomCode `json:"roomCode"`
	UserID      domain.UserID   `json:"userId,omitempty"`
	DisplayName string          `json:"displayName"`
}

type admissionPayload struct {
	RequestingParticipantID domain.ConnectionID `json:"requestingParticipantId"`
}

type targetPayload struct {
	TargetParticipantID domain.ConnectionID `json:"targetParticipantId"`
}

type chatPayload struct {
	Message string `json:"message"`
}

type reactionPayload struct {
	Reaction string `json:"reaction"`
}

// rosterEntry is the participant shape clients see in joined replies and
// participant-joined broadcasts.
type rosterEntry struct {
	ID              domain.ConnectionID `json:"id"`
	Name            string              `json:"name"`
	IsHost          bool                `json:"isHost"`
	IsMuted         bool                `json:"isMuted"`
	IsVideoOff      bool                `json:"isVideoOff"`
	IsSharingScreen bool                `json:"isSharingScreen"`
	HandRaised      bool                `json:"handRaised"`
}

func toRosterEntry(p *domain.Participant) rosterEntry {
	return rosterEntry{
		ID:              p.ID,
		Name:            p.DisplayName,
		IsHost:          p.IsHost(),
		IsMuted:         !p.Media.AudioEnabled,
		IsVideoOff:      !p.Media.VideoEnabled,
		IsSharingScreen: p.Media.ScreenSharing,
		HandRaised:      p.Media.HandRaised,
	}
}
