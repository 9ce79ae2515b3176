package model

import "time"

// MuteEntry records a time-bounded suppression of a user's broadcasts.
// Expired entries may linger in storage; callers must check Expired at use time.
type MuteEntry struct {
	Username  string    `json:"username"`
	MutedBy   string    `json:"muted_by"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the mute has lapsed at the given instant.
func (m *MuteEntry) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}
