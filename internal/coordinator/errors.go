package coordinator

import "errors"

// Sentinel errors surfaced by facade operations. The API layer maps them to
// HTTP status codes.
var (
	ErrValidation     = errors.New("invalid request")
	ErrWorkerNotFound = errors.New("worker not found")
	ErrJobNotFound    = errors.New("job not found")
	ErrJobTerminal    = errors.New("job already in a terminal state")
)
