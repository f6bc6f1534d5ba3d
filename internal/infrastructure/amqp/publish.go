package amqp

import (
	"context"
	"fmt"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
)

// Maximum body size for published messages (16MB).
const maxBodySize = 16 << 20

// DeliveryMode selects whether the broker writes a message to disk.
type DeliveryMode uint8

// Delivery modes. The zero value publishes persistently.
const (
	Transient  DeliveryMode = DeliveryMode(amqp091.Transient)
	Persistent DeliveryMode = DeliveryMode(amqp091.Persistent)
)

// Message is an outgoing message.
type Message struct {
	Body         []byte
	ContentType  string
	DeliveryMode DeliveryMode
	MessageID    string
	Type         string
	Timestamp    time.Time
}

// PublishAck reports the outcome of a publish.
type PublishAck struct {
	// Sequence is the channel's publish sequence number (0 without confirms).
	Sequence uint64

	// Confirmed is true when the broker acknowledged the message. Without
	// confirm mode the message was only written to the socket.
	Confirmed bool
}

// toPublishing converts a Message to the amqp091 representation.
func (m Message) toPublishing(appID string) amqp091.Publishing {
	mode := m.DeliveryMode
	if mode == 0 {
		mode = Persistent
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return amqp091.Publishing{
		ContentType:  m.ContentType,
		DeliveryMode: uint8(mode),
		MessageId:    m.MessageID,
		Type:         m.Type,
		Timestamp:    ts,
		AppId:        appID,
		Body:         m.Body,
	}
}

// Publish sends a message to the default exchange with the given routing
// key, which addresses the queue of the same name.
//
// The publish is mandatory: a message no queue accepts is returned by the
// broker. With publisher confirms enabled Publish blocks until the broker
// acknowledges the message.
//
// Parameters:
//   - ctx: Context bounding the wait for the confirm
//   - routingKey: Destination queue name
//   - msg: The message (zero DeliveryMode means persistent)
//
// Returns:
//   - PublishAck: Sequence number and confirmation status
//   - error: Wraps ErrPublishFailed, plus ErrPublishRejected (broker nack),
//     ErrUnroutable (returned) or ErrChannelClosed
func (c *Client) Publish(ctx context.Context, routingKey string, msg Message) (PublishAck, error) {
	if routingKey == "" {
		return PublishAck{}, fmt.Errorf("%w: %w", ErrPublishFailed, ErrInvalidQueue)
	}
	if len(msg.Body) > maxBodySize {
		return PublishAck{}, fmt.Errorf("%w: body size %d exceeds maximum %d bytes", ErrPublishFailed, len(msg.Body), maxBodySize)
	}
	if c.isClosing() {
		return PublishAck{}, fmt.Errorf("%w: %w", ErrPublishFailed, ErrNotConnected)
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.chMu.RLock()
	ch, returns := c.ch, c.returns
	c.chMu.RUnlock()

	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", routingKey, true, false, msg.toPublishing(c.cfg.ClientName))
	if err != nil {
		if isClosed(err) {
			return PublishAck{}, fmt.Errorf("%w: %w", ErrPublishFailed, ErrChannelClosed)
		}
		return PublishAck{}, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	if dc == nil {
		return PublishAck{}, nil
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return PublishAck{Sequence: dc.DeliveryTag}, fmt.Errorf("%w: awaiting confirm: %w", ErrPublishFailed, err)
	}

	// The broker sends basic.return before the ack of an unroutable
	// mandatory message, so a return is already queued if there is one.
	if ret, ok := drainReturn(returns); ok {
		return PublishAck{Sequence: dc.DeliveryTag}, fmt.Errorf("%w: %w: %d %s (routing key %q)",
			ErrPublishFailed, ErrUnroutable, ret.ReplyCode, ret.ReplyText, ret.RoutingKey)
	}

	if !acked {
		if ch.IsClosed() {
			return PublishAck{Sequence: dc.DeliveryTag}, fmt.Errorf("%w: %w", ErrPublishFailed, ErrChannelClosed)
		}
		return PublishAck{Sequence: dc.DeliveryTag}, fmt.Errorf("%w: %w", ErrPublishFailed, ErrPublishRejected)
	}

	return PublishAck{Sequence: dc.DeliveryTag, Confirmed: true}, nil
}

// drainReturn empties the return channel, reporting the last return seen.
func drainReturn(returns <-chan amqp091.Return) (amqp091.Return, bool) {
	var (
		last  amqp091.Return
		found bool
	)
	for {
		select {
		case ret, ok := <-returns:
			if !ok {
				return last, found
			}
			last, found = ret, true
		default:
			return last, found
		}
	}
}
