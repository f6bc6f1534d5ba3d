package sink

import "errors"

// Sentinel errors for packet sinks.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrWriteFailed wraps any failure to store a packet. The delivery
	// that carried it must not be acknowledged.
	ErrWriteFailed = errors.New("sink: write failed")

	// ErrQueryFailed wraps archive read failures.
	ErrQueryFailed = errors.New("sink: query failed")
)
