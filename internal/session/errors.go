package session

import "errors"

var (
	// ErrNotFound is returned when the requested conversation or message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRole is returned when a message carries an unknown role.
	ErrInvalidRole = errors.New("invalid role")
)
