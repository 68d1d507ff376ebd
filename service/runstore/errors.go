package runstore

import "errors"

var (
	// ErrNotFound is returned when no run or bookmark matches.
	ErrNotFound = errors.New("runstore: not found")

	// ErrAlreadyResolved is returned when a run has already left WAITING.
	ErrAlreadyResolved = errors.New("runstore: already resolved")

	// ErrDeadlinePassed is returned by Resume when the decision arrives at or
	// after the review deadline.
	ErrDeadlinePassed = errors.New("runstore: review deadline passed")

	// ErrClaimed is returned when another owner holds the run.
	ErrClaimed = errors.New("runstore: run claimed")

	// ErrUnavailable wraps persistence failures. Callers treat it as fatal.
	ErrUnavailable = errors.New("runstore: unavailable")
)
