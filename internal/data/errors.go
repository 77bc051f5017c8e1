package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrEventNotFound is returned when the collaborator events table has no such event.
	ErrEventNotFound = errors.New("event not found")
)
