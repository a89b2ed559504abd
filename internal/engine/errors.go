package engine

import "errors"

var (
	// ErrOutOfOrder indicates a snapshot dated at or before the last ingested one.
	ErrOutOfOrder = errors.New("engine: snapshot out of order")
	// ErrMalformed indicates a snapshot that fails basic sanity checks.
	ErrMalformed = errors.New("engine: malformed snapshot")
	// ErrNotFound indicates a query for a symbol or date never observed.
	ErrNotFound = errors.New("engine: not found")
)
