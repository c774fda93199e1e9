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

	// ErrEmptyContent is returned when required content is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidJobType is returned when a job carries an unknown type tag.
	ErrInvalidJobType = errors.New("invalid job type")

	// ErrInvalidJobStatus is returned when a job status is not valid.
	ErrInvalidJobStatus = errors.New("invalid job status")

	// ErrInvalidRunStatus is returned when a run status is not valid.
	ErrInvalidRunStatus = errors.New("invalid run status")

	// ErrInvalidSceneStatus is returned when a scene status is not valid.
	ErrInvalidSceneStatus = errors.New("invalid scene status")

	// ErrInvalidImageStatus is returned when an image attempt status is not valid.
	ErrInvalidImageStatus = errors.New("invalid image attempt status")

	// ErrStatusRegression is returned when a status update would move a run
	// backwards through its lifecycle.
	ErrStatusRegression = errors.New("run status cannot regress")

	// ErrUnauthorized is returned when an operation is not permitted.
	ErrUnauthorized = errors.New("unauthorized operation")
)
