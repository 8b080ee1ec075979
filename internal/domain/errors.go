package domain

import "errors"

var (
	// ErrValidation marks input that fails domain validation.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an operation rejected because of entity state,
	// including optimistic version mismatches on checkpoint writes.
	ErrConflict = errors.New("conflict")
	// ErrAlreadyRunning marks an attempt to start a second run for a
	// campaign that already has an active runner.
	ErrAlreadyRunning = errors.New("campaign is already running")
	// ErrNotRunning marks a pause or requeue aimed at a campaign with no
	// active runner where one is required.
	ErrNotRunning = errors.New("campaign is not running")
	// ErrNoCredential marks an absent or expired sending credential
	// detected before a run starts.
	ErrNoCredential = errors.New("sending credential is missing or expired")
)
