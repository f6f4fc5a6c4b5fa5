package data

import "errors"

var (
	ErrNotFound      = errors.New("download not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrAlreadyExists = errors.New("destination already exists")
	ErrBadStatus     = errors.New("invalid status")
	ErrConflict      = errors.New("conflicting update")

	// Fetch failure classes. Network errors are retried before they surface.
	ErrNetwork  = errors.New("network error")
	ErrProtocol = errors.New("protocol error")
	ErrIO       = errors.New("io error")
)
