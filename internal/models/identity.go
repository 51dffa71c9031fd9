package models

import (
	"time"
	"unicode"
)

// Role distinguishes the two kinds of participants.
type Role string

const (
	RoleClient  Role = "client"
	RoleAnalyst Role = "analyst"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleAnalyst
}

// Identity is the caller resolved by the session layer.
type Identity struct {
	Nickname string `json:"nickname"`
	Role     Role   `json:"user_type"`
}

// Presence records an online participant.
type Presence struct {
	Nickname string    `json:"nickname"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at,omitempty"` // analysts only
}

// ValidNickname reports whether name is a non-empty run of letters and digits.
func ValidNickname(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
