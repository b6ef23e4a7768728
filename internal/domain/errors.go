package domain

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrJobActive is returned when a render job is created while another
	// job is queued or running.
	ErrJobActive = errors.New("a render job is already queued or running")
)
