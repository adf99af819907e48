package util

import "github.com/google/uuid"

// NewID returns a random UUID string. UUIDs double as valid vector-store
// point IDs, so the same ID addresses a message in both stores.
func NewID() string {
	return uuid.NewString()
}
