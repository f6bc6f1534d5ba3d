package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ssds-ingest/internal/infrastructure/amqp"
	"github.com/nerrad567/ssds-ingest/internal/packet"
)

// DefaultDrainTimeout bounds in-flight work after shutdown is requested.
const DefaultDrainTimeout = 10 * time.Second

// Broker is the subset of *amqp.Client the pipeline consumes through.
type Broker interface {
	DeclareQueue(ctx context.Context, opts amqp.QueueOptions) (amqp.Queue, error)
	Consume(ctx context.Context, q amqp.Queue) (amqp.DeliveryStream, error)
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error
	Close() error
}

// Dialer opens the pipeline's broker connection. The pipeline owns and
// closes whatever it returns.
type Dialer func(ctx context.Context) (Broker, error)

// Sink receives decoded packets. A nil error means the packet is stored
// and the delivery may be acknowledged.
type Sink interface {
	Write(ctx context.Context, p packet.DevicePacket) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, p packet.DevicePacket) error

// Write calls f(ctx, p).
func (f SinkFunc) Write(ctx context.Context, p packet.DevicePacket) error {
	return f(ctx, p)
}

// Failure describes a delivery that was not acknowledged.
type Failure struct {
	Stage    Stage
	Delivery amqp.Delivery
	Err      error
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Pipeline.
type Options struct {
	// Queue is declared before consuming. Name is required.
	Queue amqp.QueueOptions

	// DrainTimeout bounds the in-flight sink write and ack after shutdown
	// is requested. Zero means DefaultDrainTimeout.
	DrainTimeout time.Duration

	// RequeueOnFailure nacks failed deliveries with requeue. When false
	// they stay unacknowledged until the channel closes.
	RequeueOnFailure bool

	// Prefetch is the consumer prefetch the broker applies. Once that many
	// failed deliveries are held unacknowledged the broker sends no more,
	// so Run faults with ErrStalled. Zero disables the check.
	Prefetch int

	// OnFailure, if set, is called synchronously for every failed delivery.
	OnFailure func(Failure)

	Logger  Logger
	Metrics *Metrics
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Received       uint64
	Acked          uint64
	Requeued       uint64
	DecodeFailures uint64
	SinkFailures   uint64
	AckFailures    uint64
	// Held counts failed deliveries left unacknowledged on the channel.
	Held uint64
}

// Pipeline consumes device packets from one durable queue and hands them
// to a Sink, acknowledging each delivery only after the sink accepts it.
//
// Thread Safety: Run blocks on one goroutine; State, Stats, Err and
// Shutdown are safe to call from any goroutine.
type Pipeline struct {
	dial Dialer
	sink Sink
	opts Options

	state   atomic.Int32
	started atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once

	errMu sync.Mutex
	err   error

	brokerMu sync.Mutex
	broker   Broker

	received       atomic.Uint64
	acked          atomic.Uint64
	requeued       atomic.Uint64
	decodeFailures atomic.Uint64
	sinkFailures   atomic.Uint64
	ackFailures    atomic.Uint64
	held           atomic.Uint64
}

// New creates an idle pipeline.
//
// Parameters:
//   - dial: Opens the broker connection when Run starts
//   - sink: Destination for decoded packets
//   - opts: Queue, drain timeout, failure policy, logger and metrics
//
// Returns:
//   - *Pipeline: In StateIdle
//   - error: ErrInvalidOptions if dial, sink or the queue name is missing
func New(dial Dialer, sink Sink, opts Options) (*Pipeline, error) {
	switch {
	case dial == nil:
		return nil, fmt.Errorf("%w: dialer is required", ErrInvalidOptions)
	case sink == nil:
		return nil, fmt.Errorf("%w: sink is required", ErrInvalidOptions)
	case opts.Queue.Name == "":
		return nil, fmt.Errorf("%w: queue name is required", ErrInvalidOptions)
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}

	p := &Pipeline{
		dial: dial,
		sink: sink,
		opts: opts,
		stop: make(chan struct{}),
	}
	opts.Metrics.setState(StateIdle)
	return p, nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Err returns the cause of the fault once the pipeline is Faulted.
func (p *Pipeline) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

// Stats returns a snapshot of the delivery counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:       p.received.Load(),
		Acked:          p.acked.Load(),
		Requeued:       p.requeued.Load(),
		DecodeFailures: p.decodeFailures.Load(),
		SinkFailures:   p.sinkFailures.Load(),
		AckFailures:    p.ackFailures.Load(),
		Held:           p.held.Load(),
	}
}

// Shutdown asks Run to drain and close. It does not wait; Run returns
// once the pipeline is Closed. Safe to call more than once, before Run,
// and concurrently.
func (p *Pipeline) Shutdown() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// HealthCheck reports whether the pipeline is consuming over a live
// broker connection.
//
// Returns:
//   - nil while QueueReady, Consuming or Draining and the broker is connected
//   - the fault once Faulted
//   - ErrNotRunning before Run connects and after Closed
func (p *Pipeline) HealthCheck(ctx context.Context) error {
	switch s := p.State(); s {
	case StateFaulted:
		return p.Err()
	case StateQueueReady, StateConsuming, StateDraining:
	default:
		return fmt.Errorf("%w: %s", ErrNotRunning, s)
	}

	p.brokerMu.Lock()
	broker := p.broker
	p.brokerMu.Unlock()
	if hc, ok := broker.(interface{ HealthCheck(context.Context) error }); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (p *Pipeline) setBroker(b Broker) {
	p.brokerMu.Lock()
	p.broker = b
	p.brokerMu.Unlock()
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	p.opts.Metrics.setState(s)
}

func (p *Pipeline) transition(from, to State) bool {
	if !p.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	p.opts.Metrics.setState(to)
	return true
}

// Run connects, declares the queue and consumes until ctx is cancelled,
// Shutdown is called, or the connection fails.
//
// Returns:
//   - nil after a requested shutdown (state Closed)
//   - an error wrapping ErrFaulted and the cause on a dial, declare or
//     consume failure, lost connection or broker-side cancel (state Faulted)
//   - ErrAlreadyStarted if Run was called before
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	select {
	case <-p.stop:
		cancel()
	default:
	}
	go func() {
		select {
		case <-p.stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	log := p.opts.Logger

	p.setState(StateConnecting)
	broker, err := p.dial(runCtx)
	if err != nil {
		if runCtx.Err() != nil {
			p.setState(StateClosed)
			return nil
		}
		return p.fault(nil, fmt.Errorf("connecting: %w", err))
	}
	p.setBroker(broker)

	q, err := broker.DeclareQueue(runCtx, p.opts.Queue)
	if err != nil {
		if runCtx.Err() != nil {
			return p.close(broker, nil)
		}
		return p.fault(broker, fmt.Errorf("declaring queue %q: %w", p.opts.Queue.Name, err))
	}
	p.setState(StateQueueReady)

	stream, err := broker.Consume(runCtx, q)
	if err != nil {
		if runCtx.Err() != nil {
			return p.close(broker, nil)
		}
		return p.fault(broker, fmt.Errorf("consuming %q: %w", q.Name, err))
	}
	p.setState(StateConsuming)
	log.Info("consuming", "queue", q.Name, "messages", q.Messages, "consumers", q.Consumers)

	// In-flight work survives shutdown for at most DrainTimeout.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	var drainTimer *time.Timer
	var drainMu sync.Mutex
	stopDrain := context.AfterFunc(runCtx, func() {
		p.transition(StateConsuming, StateDraining)
		drainMu.Lock()
		drainTimer = time.AfterFunc(p.opts.DrainTimeout, cancelWork)
		drainMu.Unlock()
	})
	defer func() {
		stopDrain()
		drainMu.Lock()
		if drainTimer != nil {
			drainTimer.Stop()
		}
		drainMu.Unlock()
	}()

	for {
		d, err := stream.Next(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				p.transition(StateConsuming, StateDraining)
				return p.close(broker, stream)
			}
			return p.fault(broker, err)
		}
		if err := p.handle(workCtx, broker, d); err != nil && runCtx.Err() == nil {
			return p.fault(broker, err)
		}
	}
}

// handle processes one delivery: decode, sink, ack. It returns ErrStalled
// once the held failures fill the prefetch window.
func (p *Pipeline) handle(ctx context.Context, broker Broker, d amqp.Delivery) error {
	p.received.Add(1)
	p.opts.Metrics.delivery(d.Redelivered)

	pkt, err := packet.CodecFor(d.ContentType).Decode(d.Body)
	if err != nil {
		p.decodeFailures.Add(1)
		return p.fail(broker, Failure{Stage: StageDecode, Delivery: d, Err: err})
	}

	start := time.Now()
	err = p.sink.Write(ctx, pkt)
	p.opts.Metrics.sinkWrite(time.Since(start))
	if err != nil {
		p.sinkFailures.Add(1)
		return p.fail(broker, Failure{Stage: StageSink, Delivery: d, Err: err})
	}

	if err := broker.Ack(d.Tag); err != nil {
		p.ackFailures.Add(1)
		return p.fail(broker, Failure{Stage: StageAck, Delivery: d, Err: err})
	}
	p.acked.Add(1)
	p.opts.Metrics.ack()
	return nil
}

// fail records a failed delivery and applies the requeue policy.
// Ack failures are never nacked: the tag is already settled or its
// channel is gone.
func (p *Pipeline) fail(broker Broker, f Failure) error {
	p.opts.Metrics.failure(f.Stage)
	p.opts.Logger.Warn("delivery not acknowledged",
		"stage", string(f.Stage),
		"delivery_tag", f.Delivery.Tag,
		"message_id", f.Delivery.MessageID,
		"redelivered", f.Delivery.Redelivered,
		"error", f.Err,
	)

	if p.opts.OnFailure != nil {
		p.opts.OnFailure(f)
	}

	if f.Stage == StageAck {
		return nil
	}
	if p.opts.RequeueOnFailure {
		err := broker.Nack(f.Delivery.Tag, true)
		if err == nil {
			p.requeued.Add(1)
			p.opts.Metrics.requeue()
			return nil
		}
		p.opts.Logger.Warn("requeue failed", "delivery_tag", f.Delivery.Tag, "error", err)
	}

	held := p.held.Add(1)
	if p.opts.Prefetch > 0 && held >= uint64(p.opts.Prefetch) { // #nosec G115 -- checked positive
		return fmt.Errorf("%w: %d failed deliveries unacknowledged with prefetch %d",
			ErrStalled, held, p.opts.Prefetch)
	}
	return nil
}

// close ends a requested shutdown: cancel the consumer, close the
// connection (unacked deliveries return to the queue), enter Closed.
func (p *Pipeline) close(broker Broker, stream amqp.DeliveryStream) error {
	p.setBroker(nil)
	var errs []error
	if stream != nil {
		if err := stream.Cancel(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := broker.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		p.opts.Logger.Warn("shutdown cleanup", "error", err)
	}

	p.setState(StateClosed)
	p.opts.Logger.Info("pipeline closed", "queue", p.opts.Queue.Name)
	return nil
}

// fault enters Faulted and returns the wrapped cause. No retry.
func (p *Pipeline) fault(broker Broker, cause error) error {
	p.setBroker(nil)
	if broker != nil {
		if err := broker.Close(); err != nil {
			p.opts.Logger.Warn("closing broker after fault", "error", err)
		}
	}

	err := fmt.Errorf("%w: %w", ErrFaulted, cause)
	p.errMu.Lock()
	p.err = err
	p.errMu.Unlock()

	p.setState(StateFaulted)
	p.opts.Logger.Error("pipeline faulted", "queue", p.opts.Queue.Name, "error", cause)
	return err
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
