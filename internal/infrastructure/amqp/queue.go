package amqp

import (
	"context"
	"fmt"
)

// Queue is a declared queue as confirmed by the broker.
type Queue struct {
	Name string

	// Messages is the ready message count at declaration time.
	Messages int

	// Consumers is the consumer count at declaration time.
	Consumers int
}

// DeclareQueue declares a queue on the default exchange.
//
// Declaration is idempotent: redeclaring a queue with identical options
// succeeds and leaves its contents untouched. Redeclaring with different
// options returns ErrQueueConflict; the broker closes the channel in that
// case and the client reopens it, so the client stays usable.
//
// Parameters:
//   - ctx: Context for cancellation (checked before the broker round trip)
//   - opts: Queue name and properties
//
// Returns:
//   - Queue: The broker's view of the queue
//   - error: ErrInvalidQueue, ErrQueueConflict, ErrNotConnected or a
//     wrapped broker error
func (c *Client) DeclareQueue(ctx context.Context, opts QueueOptions) (Queue, error) {
	if opts.Name == "" {
		return Queue{}, ErrInvalidQueue
	}
	if err := ctx.Err(); err != nil {
		return Queue{}, err
	}
	if c.isClosing() {
		return Queue{}, ErrNotConnected
	}

	q, err := c.channel().QueueDeclare(opts.Name, opts.Durable, opts.AutoDelete, opts.Exclusive, false, nil)
	if err != nil {
		if isQueueConflict(err) {
			if reopenErr := c.openChannel(); reopenErr != nil {
				return Queue{}, fmt.Errorf("%w: %q: %w (reopening channel: %w)", ErrQueueConflict, opts.Name, err, reopenErr)
			}
			if logger := c.getLogger(); logger != nil {
				logger.Warn("queue declaration conflict, channel reopened", "queue", opts.Name, "error", err)
			}
			return Queue{}, fmt.Errorf("%w: %q: %w", ErrQueueConflict, opts.Name, err)
		}
		if isClosed(err) {
			return Queue{}, fmt.Errorf("declaring queue %q: %w: %w", opts.Name, ErrChannelClosed, err)
		}
		return Queue{}, fmt.Errorf("declaring queue %q: %w", opts.Name, err)
	}

	return Queue{Name: q.Name, Messages: q.Messages, Consumers: q.Consumers}, nil
}
