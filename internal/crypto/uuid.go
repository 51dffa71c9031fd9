package crypto

import (
	"github.com/google/uuid"
)

// NewSessionID generates an unguessable session identifier from a random
// (v4) UUID.
func NewSessionID() string {
	return uuid.Must(uuid.NewRandom()).String()
}
