package domain

import "errors"

// Sentinel errors for common cases
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrCircuitOpen      = errors.New("circuit open")
	ErrCancelled        = errors.New("cancelled")
)
