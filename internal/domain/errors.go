// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidJobStatus is returned when a job status is not one of the known values.
	ErrInvalidJobStatus = errors.New("invalid job status")

	// ErrEmptyInputRef is returned when a job is created without an input reference.
	ErrEmptyInputRef = errors.New("input reference cannot be empty")

	// ErrInvalidTransition is returned when a status change is not an edge of the job state machine.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrInvalidPatch is returned when a JobPatch carries fields that contradict its status.
	ErrInvalidPatch = errors.New("invalid job patch")

	// ErrInvalidMessage is returned when a queue message cannot be decoded or is incomplete.
	ErrInvalidMessage = errors.New("invalid queue message")
)
