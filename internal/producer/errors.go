package producer

import "errors"

// Sentinel errors for the producer pipeline.
var (
	// ErrInvalidPacket is returned when a packet cannot be encoded.
	ErrInvalidPacket = errors.New("producer: invalid packet")

	// ErrNoPublisher is returned by New when the publisher is nil.
	ErrNoPublisher = errors.New("producer: publisher is required")
)
