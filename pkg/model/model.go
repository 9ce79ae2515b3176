// Package model defines the core domain types for chatline.
package model

import (
	"errors"
	"fmt"
	"time"
)

// Role represents a user's permission level.
type Role int

const (
	RoleUser  Role = iota // Default role, can chat and manage rooms
	RoleAdmin             // Full control: kick, ban, temp-ban, mute, unmute
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Identity is the role-tagged result of a successful authentication.
// It is immutable for the lifetime of a session.
type Identity struct {
	Username string
	Role     Role
}

// User represents a registered user account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Admin represents an administrator account. Admins live in their own
// credential namespace, separate from regular users.
type Admin struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

const MaxUsernameLength = 32

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters, underscores, or hyphens")
var ErrInvalidRole = errors.New("invalid role: must be user (0) or admin (1)")

// ValidateUsername checks that a username is 1-32 ASCII alphanumeric, underscore,
// or hyphen characters. Returns nil on success or a descriptive error.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}

// Permission represents a specific action that can be checked against a role.
type Permission int

const (
	PermKickUser Permission = iota
	PermBanUser
	PermMuteUser
)
