package model

import "errors"

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition is returned when the state machine forbids a change.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrCriteriaReadOnly is returned when a non-human actor tries to change Criteria.
	ErrCriteriaReadOnly = errors.New("criteria can only be changed by a human")
)
