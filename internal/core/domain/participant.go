package domain

import "time"

// ConnectionID identifies one live signaling connection. The registry keys
// participants by the connection that joined them, so a participant id on the
// wire is always a connection id.
type ConnectionID string

type UserID string

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

type MediaState struct {
	AudioEnabled  bool
	VideoEnabled  bool
	ScreenSharing bool
	HandRaised    bool
}

type Participant struct {
	ID          ConnectionID
	UserID      UserID
	DisplayName string
	Role        Role
	Media       MediaState
	JoinedAt    time.Time
}

func (p *Participant) IsHost() bool {
	return p.Role == RoleHost
}

// MediaStateUpdate is a partial media-state mutation. Nil fields are left
// untouched.
type MediaStateUpdate struct {
	AudioEnabled  *bool
	VideoEnabled  *bool
	ScreenSharing *bool
	HandRaised    *bool
}

// Apply merges the update into a media state.
func (u MediaStateUpdate) Apply(m *MediaState) {
	if u.AudioEnabled != nil {
		m.AudioEnabled = *u.AudioEnabled
	}
	if u.VideoEnabled != nil {
		m.VideoEnabled = *u.VideoEnabled
	}
	if u.ScreenSharing != nil {
		m.ScreenSharing = *u.ScreenSharing
	}
	if u.HandRaised != nil {
		m.HandRaised = *u.HandRaised
	}
}

// Bool is a convenience for building MediaStateUpdate literals.
func Bool(v bool) *bool {
	return &v
}
