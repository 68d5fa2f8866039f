package storage

import "errors"

// Common storage errors
var (
	// ErrUserNotFound indicates that user was not found in storage
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates that user with this email already exists
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrMessageNotFound indicates that message was not found
	ErrMessageNotFound = errors.New("message not found")

	// ErrMessageAlreadyExists indicates a duplicate message id
	ErrMessageAlreadyExists = errors.New("message already exists")

	// ErrReactionNotFound indicates that reaction was not found
	ErrReactionNotFound = errors.New("reaction not found")
)
