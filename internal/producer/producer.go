package producer

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/ssds-ingest/internal/infrastructure/amqp"
	"github.com/nerrad567/ssds-ingest/internal/packet"
)

// MessageType is the AMQP type property of every published packet.
const MessageType = "ssds.DevicePacket"

// Publisher is the subset of *amqp.Client the producer needs.
type Publisher interface {
	DeclareQueue(ctx context.Context, opts amqp.QueueOptions) (amqp.Queue, error)
	Publish(ctx context.Context, routingKey string, msg amqp.Message) (amqp.PublishAck, error)
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Option configures a Producer.
type Option func(*Producer)

// WithCodec selects the wire encoding. The default is packet.Canonical.
func WithCodec(c packet.Codec) Option {
	return func(p *Producer) { p.codec = c }
}

// WithLogger sets a logger for publish outcomes.
func WithLogger(l Logger) Option {
	return func(p *Producer) { p.logger = l }
}

// WithMetrics counts published and failed packets in the given counters,
// as created by NewMetrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Producer) { p.metrics = m }
}

// Producer encodes device packets and publishes them persistently to one
// durable queue. It never retries: a failed publish is returned to the
// caller, who owns the retry policy.
type Producer struct {
	pub     Publisher
	queue   amqp.Queue
	codec   packet.Codec
	logger  Logger
	metrics *Metrics
}

// New declares the queue and returns a Producer bound to it.
//
// Parameters:
//   - ctx: Bounds the queue declaration
//   - pub: Broker client (the producer does not close it)
//   - queue: Queue to declare and publish to
//   - opts: Codec, logger and metrics options
//
// Returns:
//   - *Producer: Ready to publish
//   - error: ErrNoPublisher, or the declaration error (e.g. amqp.ErrQueueConflict)
func New(ctx context.Context, pub Publisher, queue amqp.QueueOptions, opts ...Option) (*Producer, error) {
	if pub == nil {
		return nil, ErrNoPublisher
	}

	p := &Producer{pub: pub, codec: packet.Canonical}
	for _, opt := range opts {
		opt(p)
	}

	q, err := pub.DeclareQueue(ctx, queue)
	if err != nil {
		return nil, fmt.Errorf("declaring queue %q: %w", queue.Name, err)
	}
	p.queue = q
	return p, nil
}

// Queue returns the declared queue.
func (p *Producer) Queue() amqp.Queue {
	return p.queue
}

// Publish encodes pkt and publishes it with persistent delivery. The
// message ID is the packet's content key, so consumers can deduplicate
// redeliveries and republished packets alike.
func (p *Producer) Publish(ctx context.Context, pkt packet.DevicePacket) (amqp.PublishAck, error) {
	body, err := p.codec.Encode(pkt)
	if err != nil {
		return amqp.PublishAck{}, fmt.Errorf("%w: %w", ErrInvalidPacket, err)
	}
	key, err := pkt.Key()
	if err != nil {
		return amqp.PublishAck{}, fmt.Errorf("%w: %w", ErrInvalidPacket, err)
	}

	ack, err := p.pub.Publish(ctx, p.queue.Name, amqp.Message{
		Body:         body,
		ContentType:  p.codec.ContentType(),
		DeliveryMode: amqp.Persistent,
		MessageID:    key,
		Type:         MessageType,
	})
	if err != nil {
		p.metrics.failed()
		if p.logger != nil {
			p.logger.Warn("publish failed", "queue", p.queue.Name, "message_id", key, "error", err)
		}
		return ack, err
	}

	p.metrics.published()
	if p.logger != nil {
		p.logger.Debug("packet published",
			"queue", p.queue.Name,
			"message_id", key,
			"sequence", ack.Sequence,
			"confirmed", ack.Confirmed,
		)
	}
	return ack, nil
}

// PublishAll publishes packets in order and stops at the first error.
//
// Returns:
//   - int: How many packets were published before the error
//   - error: The first failure, annotated with its index
func (p *Producer) PublishAll(ctx context.Context, pkts []packet.DevicePacket) (int, error) {
	for i, pkt := range pkts {
		if _, err := p.Publish(ctx, pkt); err != nil {
			return i, fmt.Errorf("packet %d: %w", i, err)
		}
	}
	return len(pkts), nil
}

// Metrics are the producer's Prometheus counters. A nil *Metrics records
// nothing.
type Metrics struct {
	publishedTotal prometheus.Counter
	failedTotal    prometheus.Counter
}

// NewMetrics creates the producer counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		publishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ssds",
			Subsystem: "producer",
			Name:      "published_total",
			Help:      "Packets published and confirmed by the broker.",
		}),
		failedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ssds",
			Subsystem: "producer",
			Name:      "publish_failures_total",
			Help:      "Packets the broker did not accept.",
		}),
	}
	for _, c := range []prometheus.Collector{m.publishedTotal, m.failedTotal} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) published() {
	if m != nil {
		m.publishedTotal.Inc()
	}
}

func (m *Metrics) failed() {
	if m != nil {
		m.failedTotal.Inc()
	}
}
