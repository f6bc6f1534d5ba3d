package amqp

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

// Delivery is one message received from a queue.
//
// Tag is scoped to the channel that delivered it and must be settled
// (Ack or Nack) on the same client, at most once.
type Delivery struct {
	Tag         uint64
	Body        []byte
	ContentType string
	MessageID   string
	Type        string
	Redelivered bool
	Timestamp   time.Time
	RoutingKey  string
}

// DeliveryStream is a lazy, unbounded sequence of deliveries from one
// consumer.
type DeliveryStream interface {
	// Next blocks until a delivery arrives, ctx is done, or the stream
	// ends. A stream ends with ErrStreamClosed, ErrConnectionLost or
	// ErrConsumerCancelled; once ended every call returns the same error.
	Next(ctx context.Context) (Delivery, error)

	// Cancel stops the consumer. Deliveries already received stay
	// unsettled until acked, nacked or the channel closes.
	Cancel() error
}

// stream is the amqp091-backed DeliveryStream.
type stream struct {
	client    *Client
	ch        *amqp091.Channel
	tag       string
	queue     string
	msgs      <-chan amqp091.Delivery
	closes    chan *amqp091.Error
	cancelled atomic.Bool
	endErr    error
}

// Consume starts a manual-acknowledgement consumer on q.
//
// The channel's prefetch is set from the broker configuration first, so at
// most that many deliveries are unacknowledged at a time.
//
// Parameters:
//   - ctx: Context for cancellation (checked before the broker round trip)
//   - q: A queue returned by DeclareQueue
//
// Returns:
//   - DeliveryStream: Deliveries in broker order
//   - error: ErrNotConnected, ErrChannelClosed or a wrapped broker error
func (c *Client) Consume(ctx context.Context, q Queue) (DeliveryStream, error) {
	if q.Name == "" {
		return nil, ErrInvalidQueue
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.isClosing() {
		return nil, ErrNotConnected
	}

	ch := c.channel()
	if err := ch.Qos(PrefetchCount(c.cfg), 0, false); err != nil {
		return nil, consumeError(q.Name, err)
	}

	tag := c.cfg.ClientName + "-" + uuid.NewString()
	closes := ch.NotifyClose(make(chan *amqp091.Error, 1))

	msgs, err := ch.Consume(q.Name, tag, false, false, false, false, nil)
	if err != nil {
		return nil, consumeError(q.Name, err)
	}

	s := &stream{
		client: c,
		ch:     ch,
		tag:    tag,
		queue:  q.Name,
		msgs:   msgs,
		closes: closes,
	}

	c.streamMu.Lock()
	c.streams[tag] = s
	c.streamMu.Unlock()

	return s, nil
}

func consumeError(queue string, err error) error {
	if isClosed(err) {
		return fmt.Errorf("consuming %q: %w: %w", queue, ErrChannelClosed, err)
	}
	return fmt.Errorf("consuming %q: %w", queue, err)
}

// Next returns the next delivery in broker order.
func (s *stream) Next(ctx context.Context) (Delivery, error) {
	if s.endErr != nil {
		return Delivery{}, s.endErr
	}

	select {
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	case d, ok := <-s.msgs:
		if !ok {
			s.endErr = s.classifyEnd()
			s.client.forgetStream(s.tag)
			return Delivery{}, s.endErr
		}
		s.client.track(s.ch, d.DeliveryTag)
		return toDelivery(d), nil
	}
}

// classifyEnd decides why the delivery channel closed. amqp091 sends the
// close error before closing consumer channels, so it is already buffered.
func (s *stream) classifyEnd() error {
	if s.cancelled.Load() || s.client.isClosing() {
		return ErrStreamClosed
	}

	select {
	case amqpErr, ok := <-s.closes:
		if ok && amqpErr != nil {
			return fmt.Errorf("%w: %s (code %d)", ErrConnectionLost, amqpErr.Reason, amqpErr.Code)
		}
	default:
	}

	if s.ch.IsClosed() {
		return ErrStreamClosed
	}
	return fmt.Errorf("%w: queue %q", ErrConsumerCancelled, s.queue)
}

// Cancel stops the consumer. Safe to call more than once.
func (s *stream) Cancel() error {
	if !s.cancelled.CompareAndSwap(false, true) {
		return nil
	}
	s.client.forgetStream(s.tag)

	if err := s.ch.Cancel(s.tag, false); err != nil && !isClosed(err) {
		return fmt.Errorf("cancelling consumer %q: %w", s.tag, err)
	}
	return nil
}

func (c *Client) forgetStream(tag string) {
	c.streamMu.Lock()
	delete(c.streams, tag)
	c.streamMu.Unlock()
}

// track records a delivery tag as outstanding on ch. A tag reused by a
// newer channel replaces the stale entry.
func (c *Client) track(ch *amqp091.Channel, tag uint64) {
	c.tagMu.Lock()
	c.outstanding[tag] = ch
	c.tagMu.Unlock()
}

// settle removes tag from the outstanding set and runs fn on the channel.
// A tag from a replaced channel is dropped with ErrChannelClosed; the
// broker already requeued it.
func (c *Client) settle(tag uint64, fn func(*amqp091.Channel) error) error {
	ch := c.channel()
	if c.isClosing() || ch == nil || ch.IsClosed() {
		return ErrChannelClosed
	}

	c.tagMu.Lock()
	defer c.tagMu.Unlock()

	owner, ok := c.outstanding[tag]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDeliveryTag, tag)
	}
	if owner != ch {
		delete(c.outstanding, tag)
		return fmt.Errorf("%w: delivery %d was on a replaced channel", ErrChannelClosed, tag)
	}
	if err := fn(ch); err != nil {
		if isClosed(err) {
			return ErrChannelClosed
		}
		return err
	}
	delete(c.outstanding, tag)
	return nil
}

// Ack acknowledges a single delivery, removing it from its queue.
//
// Returns:
//   - error: ErrUnknownDeliveryTag for a tag that was never delivered or
//     was already settled (the channel is not touched), ErrChannelClosed
//     after the channel closed
func (c *Client) Ack(tag uint64) error {
	return c.settle(tag, func(ch *amqp091.Channel) error {
		return ch.Ack(tag, false)
	})
}

// Nack negatively acknowledges a single delivery. With requeue the broker
// redelivers it; without, it is dropped or dead-lettered.
func (c *Client) Nack(tag uint64, requeue bool) error {
	return c.settle(tag, func(ch *amqp091.Channel) error {
		return ch.Nack(tag, false, requeue)
	})
}

// Outstanding returns the number of unsettled deliveries.
func (c *Client) Outstanding() int {
	c.tagMu.Lock()
	defer c.tagMu.Unlock()
	return len(c.outstanding)
}

// toDelivery converts an amqp091 delivery. The body is not copied; decoders
// copy what they keep.
func toDelivery(d amqp091.Delivery) Delivery {
	return Delivery{
		Tag:         d.DeliveryTag,
		Body:        d.Body,
		ContentType: d.ContentType,
		MessageID:   d.MessageId,
		Type:        d.Type,
		Redelivered: d.Redelivered,
		Timestamp:   d.Timestamp,
		RoutingKey:  d.RoutingKey,
	}
}
