package engine

import "errors"

var (
	// ErrNotFound is returned when a chain, request or level does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when an operation is attempted against a
	// request whose status does not permit it.
	ErrInvalidState = errors.New("invalid state")

	// ErrValidation is returned for malformed chain definitions.
	ErrValidation = errors.New("validation failed")
)
