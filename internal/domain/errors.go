package domain

import "errors"

var (
	// ErrEngineRejected indicates the transfer engine refused an add (malformed or duplicate source).
	ErrEngineRejected = errors.New("engine rejected transfer")
	// ErrHandleInvalid indicates an operation on a removed or stale engine handle.
	ErrHandleInvalid = errors.New("engine handle invalid")
	// ErrResumeDataUnavailable is returned when resume data is requested before metadata exists.
	ErrResumeDataUnavailable = errors.New("resume data unavailable")
	// ErrVerificationFailed reports a recheck that ended below the completion threshold.
	ErrVerificationFailed = errors.New("verification failed")
	// ErrNoMatchFound is returned by the release matcher when no candidate qualifies.
	ErrNoMatchFound = errors.New("no matching release found")

	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrStopped           = errors.New("scheduler stopped")
	ErrQueueFull         = errors.New("command queue full")
)
