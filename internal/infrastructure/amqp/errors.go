package amqp

import "errors"

// Domain-specific errors for AMQP operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when dialling, the AMQP handshake or
	// opening the channel fails.
	ErrConnectionFailed = errors.New("amqp: connection failed")

	// ErrAuthenticationFailed is returned alongside ErrConnectionFailed when
	// the broker refuses the credentials or the virtual host.
	ErrAuthenticationFailed = errors.New("amqp: authentication refused")

	// ErrNotConnected is returned when operating on a closed client.
	ErrNotConnected = errors.New("amqp: client not connected")

	// ErrQueueConflict is returned when a queue already exists with
	// different durable/exclusive/auto-delete properties.
	ErrQueueConflict = errors.New("amqp: queue exists with different properties")

	// ErrInvalidQueue is returned when a queue name is empty.
	ErrInvalidQueue = errors.New("amqp: queue name cannot be empty")

	// ErrPublishFailed is returned when a publish is not confirmed.
	ErrPublishFailed = errors.New("amqp: publish failed")

	// ErrPublishRejected is returned when the broker nacks a publish.
	ErrPublishRejected = errors.New("amqp: publish rejected by broker")

	// ErrUnroutable is returned when a mandatory publish has no matching queue.
	ErrUnroutable = errors.New("amqp: message unroutable")

	// ErrChannelClosed is returned when the channel closed before an
	// operation could complete.
	ErrChannelClosed = errors.New("amqp: channel closed")

	// ErrUnknownDeliveryTag is returned when acknowledging a tag that was
	// never delivered or has already been settled.
	ErrUnknownDeliveryTag = errors.New("amqp: unknown delivery tag")

	// ErrStreamClosed ends a delivery stream the client cancelled or closed.
	ErrStreamClosed = errors.New("amqp: delivery stream closed")

	// ErrConnectionLost ends a delivery stream whose channel or connection
	// was closed by an error.
	ErrConnectionLost = errors.New("amqp: connection lost")

	// ErrConsumerCancelled ends a delivery stream the broker cancelled,
	// for example because its queue was deleted.
	ErrConsumerCancelled = errors.New("amqp: consumer cancelled by broker")
)
