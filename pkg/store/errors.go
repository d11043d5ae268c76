package store

import (
	"errors"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when a uniqueness constraint is violated.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrConflict is returned when a conditional update loses the race,
	// e.g. consuming an already-used code or revoking a revoked token.
	ErrConflict = errors.New("conditional update failed")
)
