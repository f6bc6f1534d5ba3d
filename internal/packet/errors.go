package packet

import "errors"

// Decode and validation errors.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrTruncated is returned when the input ends before a declared length,
	// a varint or a fixed-width field is complete.
	ErrTruncated = errors.New("packet: truncated input")

	// ErrFieldOutOfRange is returned when a field value does not fit its
	// declared type or range (e.g. nanoseconds above 999,999,999).
	ErrFieldOutOfRange = errors.New("packet: field out of range")

	// ErrMalformed is returned for structurally invalid input: a wrong wire
	// type for a known field, an invalid tag, or trailing bytes.
	ErrMalformed = errors.New("packet: malformed input")

	// ErrMissingField is returned when a required scalar field is absent
	// from a protobuf message body.
	ErrMissingField = errors.New("packet: missing required field")
)
