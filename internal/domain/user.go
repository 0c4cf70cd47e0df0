// Package domain contains core domain types for the SV Explore application.
package domain

import (
	"time"
)

// UserStatus is the coarse activity state shown in the admin view.
type UserStatus string

const (
	// StatusActive marks a visitor that opened or resumed a chat recently.
	StatusActive UserStatus = "Active"
	// StatusIdle marks a visitor that logged out or went quiet.
	StatusIdle UserStatus = "Idle"
)

// User is one visitor row keyed by a surrogate id and addressed by its session token.
type User struct {
	UserID                int64      `json:"user_id"`
	Username              string     `json:"username"`
	SessionID             string     `json:"session_id"`
	Status                UserStatus `json:"status"`
	LastActive            time.Time  `json:"last_active"`
	ExplorationsCompleted int        `json:"explorations_completed"`
	Logged                bool       `json:"logged"`
}

// IsActive reports whether the visitor is currently logged in.
func (u *User) IsActive() bool {
	return u.Logged
}

// IdleFor returns how long the visitor has been inactive.
// Returns 0 if last_active lies in the future.
func (u *User) IdleFor(now time.Time) time.Duration {
	d := now.Sub(u.LastActive)
	if d < 0 {
		return 0
	}
	return d
}
