package domain

import "time"

// RelayCredential is a time-boxed TURN REST credential. Identity embeds the
// expiry so the relay can verify it without server-side state.
type RelayCredential struct {
	Identity  string
	Secret    string
	TTL       time.Duration
	ExpiresAt time.Time
}

func (c *RelayCredential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
