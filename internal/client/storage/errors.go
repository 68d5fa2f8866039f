package storage

import "errors"

// Common client storage errors
var (
	// ErrProfileNotFound indicates that nobody is logged in on this client
	ErrProfileNotFound = errors.New("profile not found")
)
