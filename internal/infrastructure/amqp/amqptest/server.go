// Package amqptest provides an in-memory broker with RabbitMQ queue
// semantics for tests.
//
// It models what the ingestion and producer pipelines rely on:
//   - queues on the default exchange, declared idempotently, with a
//     conflict error when redeclared with different properties
//   - per-session delivery tags and a guard against double acks
//   - unacknowledged deliveries requeued (Redelivered=true) when a
//     session closes or its connection drops
//   - competing consumers on one queue
//   - simulated connection loss and broker-side consumer cancellation
//
// Sessions satisfy the same method set as *amqp.Client.
package amqptest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/nerrad567/ssds-ingest/internal/infrastructure/amqp"
)

// Server is an in-memory broker shared by any number of sessions.
type Server struct {
	mu       sync.Mutex
	queues   map[string]*queue
	sessions map[*Session]struct{}
	changed  chan struct{}

	dialErr       error
	rejectPublish bool
	prefetch      int
	declareHook   func(amqp.QueueOptions) error
	dials         int
}

type queue struct {
	opts  amqp.QueueOptions
	ready []message
}

type message struct {
	msg         amqp.Message
	redelivered bool
}

// NewServer returns an empty broker.
func NewServer() *Server {
	return &Server{
		queues:   make(map[string]*queue),
		sessions: make(map[*Session]struct{}),
		changed:  make(chan struct{}),
	}
}

// broadcast wakes every blocked Next. Callers hold s.mu.
func (s *Server) broadcast() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Dial opens a session, or returns the error set with SetDialError.
func (s *Server) Dial(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", amqp.ErrConnectionFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.dials++
	if s.dialErr != nil {
		return nil, s.dialErr
	}

	sess := &Session{
		srv:      s,
		unacked:  make(map[uint64]inflight),
		prefetch: s.prefetch,
	}
	s.sessions[sess] = struct{}{}
	return sess, nil
}

// Dials returns how many times Dial was called.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// SetDialError makes subsequent Dial calls fail with err (nil restores).
func (s *Server) SetDialError(err error) {
	s.mu.Lock()
	s.dialErr = err
	s.mu.Unlock()
}

// SetRejectPublishes makes the broker nack every publish.
func (s *Server) SetRejectPublishes(reject bool) {
	s.mu.Lock()
	s.rejectPublish = reject
	s.mu.Unlock()
}

// SetPrefetch limits unacknowledged deliveries per session opened after
// the call. Zero means unlimited.
func (s *Server) SetPrefetch(n int) {
	s.mu.Lock()
	s.prefetch = n
	s.mu.Unlock()
}

// SetDeclareHook installs a function consulted before every declaration;
// a non-nil return fails the declare with that error.
func (s *Server) SetDeclareHook(fn func(amqp.QueueOptions) error) {
	s.mu.Lock()
	s.declareHook = fn
	s.mu.Unlock()
}

// Enqueue places msg directly on a queue, declaring it durable if needed.
func (s *Server) Enqueue(name string, msg amqp.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[name]
	if !ok {
		q = &queue{opts: amqp.DurableQueue(name)}
		s.queues[name] = q
	}
	msg.Body = slices.Clone(msg.Body)
	q.ready = append(q.ready, message{msg: msg})
	s.broadcast()
}

// Ready returns the number of messages waiting for delivery.
func (s *Server) Ready(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[name]; ok {
		return len(q.ready)
	}
	return 0
}

// Unacked returns the number of delivered, unsettled messages from name
// across all sessions.
func (s *Server) Unacked(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for sess := range s.sessions {
		for _, in := range sess.unacked {
			if in.queue == name {
				n++
			}
		}
	}
	return n
}

// Messages returns a snapshot of the ready messages on name, head first.
func (s *Server) Messages(name string) []amqp.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[name]
	if !ok {
		return nil
	}
	out := make([]amqp.Message, len(q.ready))
	for i, m := range q.ready {
		out[i] = m.msg
	}
	return out
}

// HasQueue reports whether name is declared.
func (s *Server) HasQueue(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.queues[name]
	return ok
}

// DeleteQueue removes a queue; its consumers end with ErrConsumerCancelled.
func (s *Server) DeleteQueue(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queues, name)
	s.broadcast()
}

// DropConnections simulates a broker restart or network failure: every
// open session is lost, its unacked deliveries are requeued, and its
// streams end with ErrConnectionLost.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sess := range s.sessions {
		sess.lost = true
		s.requeueLocked(sess)
		delete(s.sessions, sess)
	}
	s.broadcast()
}

// requeueLocked returns a session's unacked deliveries to the head of
// their queues in delivery order. Callers hold s.mu.
func (s *Server) requeueLocked(sess *Session) {
	tags := make([]uint64, 0, len(sess.unacked))
	for tag := range sess.unacked {
		tags = append(tags, tag)
	}
	slices.Sort(tags)

	byQueue := make(map[string][]message)
	for _, tag := range tags {
		in := sess.unacked[tag]
		byQueue[in.queue] = append(byQueue[in.queue], message{msg: in.msg, redelivered: true})
	}
	for name, msgs := range byQueue {
		if q, ok := s.queues[name]; ok {
			q.ready = append(msgs, q.ready...)
		}
	}
	clear(sess.unacked)
}
