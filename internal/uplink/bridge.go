package uplink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/ssds-ingest/internal/infrastructure/amqp"
	"github.com/nerrad567/ssds-ingest/internal/infrastructure/mqtt"
	"github.com/nerrad567/ssds-ingest/internal/packet"
)

// defaultPublishTimeout bounds one AMQP publish including its confirm.
const defaultPublishTimeout = 10 * time.Second

// Subscriber is the subset of *mqtt.Client the bridge needs.
type Subscriber interface {
	Subscribe(ctx context.Context, filter string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(ctx context.Context, filter string) error
}

// Publisher forwards packets to the broker. *producer.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, p packet.DevicePacket) (amqp.PublishAck, error)
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Config configures a Bridge.
type Config struct {
	// Filter is the MQTT topic filter, normally mqtt.Topics{}.AllPackets().
	Filter string

	// QoS is the subscription QoS. Use 1 for at-least-once forwarding.
	QoS byte

	// PublishTimeout bounds each forward. Zero means 10s.
	PublishTimeout time.Duration

	Logger   Logger
	Registry prometheus.Registerer
}

// Stats counts bridge outcomes.
type Stats struct {
	Forwarded uint64
	Dropped   uint64
	Failed    uint64
}

// Bridge forwards device packets from MQTT sensors to the AMQP queue.
//
// An MQTT message is acknowledged only after the broker confirmed the AMQP
// publish, so a failed forward is redelivered by the MQTT broker. Payloads
// that do not decode, or whose source id disagrees with the topic, are
// acknowledged and dropped: MQTT has no dead-letter queue and a poison
// message would otherwise be redelivered forever.
type Bridge struct {
	sub Subscriber
	pub Publisher
	cfg Config

	mu  sync.Mutex
	ctx context.Context

	forwarded atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64

	outcomes *prometheus.CounterVec
}

// New creates a bridge. It does not subscribe until Start.
//
// Returns:
//   - error: mqtt.ErrInvalidTopic for a malformed filter, or a metrics
//     registration error
func New(sub Subscriber, pub Publisher, cfg Config) (*Bridge, error) {
	if err := mqtt.ValidateFilter(cfg.Filter); err != nil {
		return nil, fmt.Errorf("uplink filter %q: %w", cfg.Filter, err)
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	b := &Bridge{sub: sub, pub: pub, cfg: cfg, ctx: context.Background()}
	if cfg.Registry != nil {
		b.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ssds",
			Subsystem: "uplink",
			Name:      "messages_total",
			Help:      "MQTT packet messages by outcome (forwarded, dropped, failed).",
		}, []string{"outcome"})
		if err := cfg.Registry.Register(b.outcomes); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Start subscribes to the packet filter. ctx is the parent of every
// forward's context; cancel it to abort in-flight publishes.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	if err := b.sub.Subscribe(ctx, b.cfg.Filter, b.cfg.QoS, b.handle); err != nil {
		return fmt.Errorf("subscribing to %q: %w", b.cfg.Filter, err)
	}
	if b.cfg.Logger != nil {
		b.cfg.Logger.Info("uplink subscribed", "filter", b.cfg.Filter, "qos", b.cfg.QoS)
	}
	return nil
}

// Stop unsubscribes. Messages already received still finish forwarding.
func (b *Bridge) Stop(ctx context.Context) error {
	if err := b.sub.Unsubscribe(ctx, b.cfg.Filter); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
		return fmt.Errorf("unsubscribing from %q: %w", b.cfg.Filter, err)
	}
	return nil
}

// Stats returns the outcome counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Forwarded: b.forwarded.Load(),
		Dropped:   b.dropped.Load(),
		Failed:    b.failed.Load(),
	}
}

// handle is the MQTT message handler. A nil return acknowledges.
func (b *Bridge) handle(topic string, payload []byte) error {
	pkt, err := packet.Decode(payload)
	if err != nil {
		b.drop(topic, "undecodable payload", err)
		return nil
	}
	if id, ok := (mqtt.Topics{}).SourceIDFromTopic(topic); ok && id != pkt.SourceID {
		b.drop(topic, "source id does not match topic", fmt.Errorf("topic source %d, packet source %d", id, pkt.SourceID))
		return nil
	}

	b.mu.Lock()
	parent := b.ctx
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, b.cfg.PublishTimeout)
	defer cancel()

	if _, err := b.pub.Publish(ctx, pkt); err != nil {
		b.failed.Add(1)
		b.count("failed")
		return fmt.Errorf("forwarding %s: %w", pkt, err)
	}
	b.forwarded.Add(1)
	b.count("forwarded")
	return nil
}

func (b *Bridge) drop(topic, reason string, err error) {
	b.dropped.Add(1)
	b.count("dropped")
	if b.cfg.Logger != nil {
		b.cfg.Logger.Warn("uplink message dropped", "topic", topic, "reason", reason, "error", err)
	}
}

func (b *Bridge) count(outcome string) {
	if b.outcomes != nil {
		b.outcomes.WithLabelValues(outcome).Inc()
	}
}
