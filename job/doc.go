// Package job defines the job entity, its status machine, submission options
// and the Store contract every persistence backend implements.
//
// A [Job] moves through:
//
//	PENDING → PROCESSING → COMPLETED
//	PENDING → PROCESSING → PENDING (retry, attempts < maxAttempts)
//	PENDING → PROCESSING → FAILED
//	PENDING → CANCELLED
//
// Attempts is incremented by every claim, never by a processor. Exactly one
// of Output and Error is set once the job is terminal; CompletedAt is set if
// and only if the status is terminal.
package job
