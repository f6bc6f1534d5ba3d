package amqptest

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/ssds-ingest/internal/infrastructure/amqp"
)

// Session is one client connection to a Server.
type Session struct {
	srv *Server

	nextTag  uint64
	seq      uint64
	unacked  map[uint64]inflight
	prefetch int
	closed   bool
	lost     bool
	streams  []*stream
}

type inflight struct {
	queue string
	msg   amqp.Message
}

// usableLocked returns the error for operating on a closed or lost
// session. Callers hold srv.mu.
func (sess *Session) usableLocked() error {
	if sess.lost || sess.closed {
		return amqp.ErrChannelClosed
	}
	return nil
}

// DeclareQueue declares a queue, failing with amqp.ErrQueueConflict when
// it exists with different properties.
func (sess *Session) DeclareQueue(ctx context.Context, opts amqp.QueueOptions) (amqp.Queue, error) {
	if opts.Name == "" {
		return amqp.Queue{}, amqp.ErrInvalidQueue
	}
	if err := ctx.Err(); err != nil {
		return amqp.Queue{}, err
	}

	s := sess.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := sess.usableLocked(); err != nil {
		return amqp.Queue{}, fmt.Errorf("declaring queue %q: %w", opts.Name, err)
	}
	if s.declareHook != nil {
		if err := s.declareHook(opts); err != nil {
			return amqp.Queue{}, err
		}
	}

	q, ok := s.queues[opts.Name]
	if ok && q.opts != opts {
		return amqp.Queue{}, fmt.Errorf("%w: %q declared as %+v", amqp.ErrQueueConflict, opts.Name, q.opts)
	}
	if !ok {
		q = &queue{opts: opts}
		s.queues[opts.Name] = q
	}

	consumers := 0
	for other := range s.sessions {
		for _, st := range other.streams {
			if st.queue == opts.Name && !st.cancelled {
				consumers++
			}
		}
	}

	return amqp.Queue{Name: opts.Name, Messages: len(q.ready), Consumers: consumers}, nil
}

// Publish enqueues msg on the queue named by routingKey.
func (sess *Session) Publish(ctx context.Context, routingKey string, msg amqp.Message) (amqp.PublishAck, error) {
	if routingKey == "" {
		return amqp.PublishAck{}, fmt.Errorf("%w: %w", amqp.ErrPublishFailed, amqp.ErrInvalidQueue)
	}
	if err := ctx.Err(); err != nil {
		return amqp.PublishAck{}, fmt.Errorf("%w: %w", amqp.ErrPublishFailed, err)
	}

	s := sess.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := sess.usableLocked(); err != nil {
		return amqp.PublishAck{}, fmt.Errorf("%w: %w", amqp.ErrPublishFailed, err)
	}

	sess.seq++
	ack := amqp.PublishAck{Sequence: sess.seq}

	q, ok := s.queues[routingKey]
	if !ok {
		return ack, fmt.Errorf("%w: %w: routing key %q", amqp.ErrPublishFailed, amqp.ErrUnroutable, routingKey)
	}
	if s.rejectPublish {
		return ack, fmt.Errorf("%w: %w", amqp.ErrPublishFailed, amqp.ErrPublishRejected)
	}

	if msg.DeliveryMode == 0 {
		msg.DeliveryMode = amqp.Persistent
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.Body = slices.Clone(msg.Body)
	q.ready = append(q.ready, message{msg: msg})
	s.broadcast()

	ack.Confirmed = true
	return ack, nil
}

// Consume starts a manual-ack consumer on q.
func (sess *Session) Consume(ctx context.Context, q amqp.Queue) (amqp.DeliveryStream, error) {
	if q.Name == "" {
		return nil, amqp.ErrInvalidQueue
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := sess.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := sess.usableLocked(); err != nil {
		return nil, fmt.Errorf("consuming %q: %w", q.Name, err)
	}
	target, ok := s.queues[q.Name]
	if !ok {
		return nil, fmt.Errorf("consuming %q: %w", q.Name, amqp.ErrChannelClosed)
	}

	st := &stream{sess: sess, queue: q.Name, target: target}
	sess.streams = append(sess.streams, st)
	return st, nil
}

// Ack settles a delivery.
func (sess *Session) Ack(tag uint64) error {
	s := sess.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := sess.usableLocked(); err != nil {
		return err
	}
	if _, ok := sess.unacked[tag]; !ok {
		return fmt.Errorf("%w: %d", amqp.ErrUnknownDeliveryTag, tag)
	}
	delete(sess.unacked, tag)
	s.broadcast()
	return nil
}

// Nack settles a delivery negatively, requeueing it at the head of its
// queue when requeue is set.
func (sess *Session) Nack(tag uint64, requeue bool) error {
	s := sess.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := sess.usableLocked(); err != nil {
		return err
	}
	in, ok := sess.unacked[tag]
	if !ok {
		return fmt.Errorf("%w: %d", amqp.ErrUnknownDeliveryTag, tag)
	}
	delete(sess.unacked, tag)

	if q, ok := s.queues[in.queue]; ok && requeue {
		q.ready = append([]message{{msg: in.msg, redelivered: true}}, q.ready...)
	}
	s.broadcast()
	return nil
}

// Close ends the session; unacked deliveries are requeued. Idempotent.
func (sess *Session) Close() error {
	s := sess.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.closed {
		return nil
	}
	sess.closed = true
	if !sess.lost {
		s.requeueLocked(sess)
		delete(s.sessions, sess)
	}
	s.broadcast()
	return nil
}

// IsConnected reports whether the session is open.
func (sess *Session) IsConnected() bool {
	s := sess.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	return sess.usableLocked() == nil
}

// HealthCheck mirrors amqp.Client.HealthCheck.
func (sess *Session) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("amqp health check: %w", err)
	}
	if !sess.IsConnected() {
		return amqp.ErrNotConnected
	}
	return nil
}

// stream is a consumer on one queue.
type stream struct {
	sess      *Session
	queue     string
	target    *queue
	cancelled bool
}

// Next blocks until a delivery is available or the stream ends.
func (st *stream) Next(ctx context.Context) (amqp.Delivery, error) {
	s := st.sess.srv
	for {
		s.mu.Lock()
		switch {
		case st.sess.lost:
			s.mu.Unlock()
			return amqp.Delivery{}, fmt.Errorf("%w: connection dropped", amqp.ErrConnectionLost)
		case st.sess.closed || st.cancelled:
			s.mu.Unlock()
			return amqp.Delivery{}, amqp.ErrStreamClosed
		case s.queues[st.queue] != st.target:
			s.mu.Unlock()
			return amqp.Delivery{}, fmt.Errorf("%w: queue %q", amqp.ErrConsumerCancelled, st.queue)
		}

		withinPrefetch := st.sess.prefetch <= 0 || len(st.sess.unacked) < st.sess.prefetch
		if withinPrefetch && len(st.target.ready) > 0 {
			m := st.target.ready[0]
			st.target.ready = st.target.ready[1:]

			st.sess.nextTag++
			tag := st.sess.nextTag
			st.sess.unacked[tag] = inflight{queue: st.queue, msg: m.msg}
			s.mu.Unlock()

			return amqp.Delivery{
				Tag:         tag,
				Body:        slices.Clone(m.msg.Body),
				ContentType: m.msg.ContentType,
				MessageID:   m.msg.MessageID,
				Type:        m.msg.Type,
				Redelivered: m.redelivered,
				Timestamp:   m.msg.Timestamp,
				RoutingKey:  st.queue,
			}, nil
		}

		changed := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return amqp.Delivery{}, ctx.Err()
		case <-changed:
		}
	}
}

// Cancel stops the consumer.
func (st *stream) Cancel() error {
	s := st.sess.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.cancelled {
		return nil
	}
	st.cancelled = true
	s.broadcast()
	return nil
}
