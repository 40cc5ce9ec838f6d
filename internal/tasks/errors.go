package tasks

import "errors"

var (
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
	// ErrInvalidKey is returned when a task key has no piece id.
	ErrInvalidKey = errors.New("task key requires a piece id")
	// ErrInvalidTransition is returned for status pairs outside the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid status transition")
)
