package core

import "github.com/google/uuid"

// NewID returns a random identifier for ledger runs.
func NewID() string {
	return uuid.NewString()
}
