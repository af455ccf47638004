package conveyor

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("conveyor: no store configured")
	ErrStoreClosed = errors.New("conveyor: store closed")

	// Not found errors.
	ErrJobNotFound   = errors.New("conveyor: job not found")
	ErrEventNotFound = errors.New("conveyor: event not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("conveyor: job already exists")
	ErrDuplicateJob     = errors.New("conveyor: active job with unique key already exists")

	// State errors.
	ErrInvalidTransition = errors.New("conveyor: invalid state transition")
	ErrRetryNotPermitted = errors.New("conveyor: job state does not permit retry")
	ErrAttemptsExhausted = errors.New("conveyor: maximum attempts exhausted")

	// Configuration errors.
	ErrUnknownJobType     = errors.New("conveyor: no handler registered for job type")
	ErrQueueNotConfigured = errors.New("conveyor: job type registered against unconfigured queue")
)
