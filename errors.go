package toolqueue

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("toolqueue: no store configured")
	ErrStoreClosed = errors.New("toolqueue: store closed")

	// Not found errors.
	ErrJobNotFound     = errors.New("toolqueue: job not found")
	ErrMessageNotFound = errors.New("toolqueue: queue message not found")
	ErrUnknownQueue    = errors.New("toolqueue: unknown queue")

	// Conflict errors.
	ErrJobAlreadyExists   = errors.New("toolqueue: job already exists")
	ErrDuplicateProcessor = errors.New("toolqueue: processor already registered")

	// State errors.
	ErrInvalidTransition = errors.New("toolqueue: invalid job status transition")
	ErrJobTerminal       = errors.New("toolqueue: job already terminal")

	// Processor errors.
	ErrNoProcessor      = errors.New("toolqueue: no processor registered")
	ErrEmptyToolSlug    = errors.New("toolqueue: tool slug is required")
	ErrProcessorPanic   = errors.New("toolqueue: processor panicked")
	ErrProcessorTimeout = errors.New("toolqueue: processor timed out")

	// Sweep errors.
	ErrLockNotHeld = errors.New("toolqueue: sweep lock not held")
)
