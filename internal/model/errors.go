package model

import "errors"

var (
	// ErrNotFound is returned when a gate or binding does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientData means there are too few check-ins to cluster. It is
	// a normal no-op outcome: the job exits cleanly and nothing is created.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrIntegrityViolation means a check-in references a gate that no longer
	// exists. Fatal to a merge; the transaction is rolled back.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrAmbiguousMerge is returned when a merge candidate set spans events.
	ErrAmbiguousMerge = errors.New("ambiguous merge")

	// ErrConcurrentModification means another job holds the event lock.
	// Schedulers retry with backoff; it is never shown to end users.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrInvalidArgument marks a malformed request, such as an empty event id.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Retryable reports whether err should be retried by a scheduler.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
