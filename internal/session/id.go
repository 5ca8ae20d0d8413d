package session

import "github.com/google/uuid"

// IDGenerator mints session identifiers.
type IDGenerator func() string

// NewID returns a random UUIDv4.
func NewID() string {
	return uuid.NewString()
}
