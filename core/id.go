package core

import "github.com/google/uuid"

// NewID returns a new random identifier for sessions, conflicts and patterns.
func NewID() string { return uuid.NewString() }
