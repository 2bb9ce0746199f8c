package domain

import "errors"

var (
	// ErrNotFound is returned by stores for a missing card, deck or
	// configuration.
	ErrNotFound = errors.New("not found")
	// ErrRevlogConflict is returned by stores when a revlog row with the
	// same timestamp already exists.
	ErrRevlogConflict = errors.New("revlog timestamp already taken")
)
