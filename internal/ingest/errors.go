package ingest

import "errors"

// Sentinel errors for the ingestion pipeline.
var (
	// ErrFaulted wraps the connection-level cause that stopped Run.
	ErrFaulted = errors.New("ingest: pipeline faulted")

	// ErrAlreadyStarted is returned by a second call to Run.
	ErrAlreadyStarted = errors.New("ingest: pipeline already started")

	// ErrInvalidOptions is returned by New for a missing dialer, sink or
	// queue name.
	ErrInvalidOptions = errors.New("ingest: invalid options")

	// ErrStalled is the fault cause when held failures fill the prefetch
	// window and the broker can deliver nothing more.
	ErrStalled = errors.New("ingest: consumer stalled by unacknowledged failures")

	// ErrNotRunning is reported by HealthCheck outside a running session.
	ErrNotRunning = errors.New("ingest: pipeline not running")
)
