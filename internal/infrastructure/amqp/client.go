package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/nerrad567/ssds-ingest/internal/infrastructure/config"
)

// Client wraps amqp091-go with SSDS-specific functionality.
//
// A Client owns exactly one connection and one channel. It provides queue
// declaration, confirmed publishing, manual-ack consumption and a guard
// against settling the same delivery twice.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Publishes are serialised so broker returns can be matched to them.
//   - A DeliveryStream must be read from a single goroutine.
type Client struct {
	conn *amqp091.Connection
	cfg  config.BrokerConfig

	// ch is the single channel; replaced after a channel-level exception.
	ch       *amqp091.Channel
	returns  chan amqp091.Return
	chMu     sync.RWMutex
	confirms bool

	// outstanding maps delivery tags not yet acked or nacked to the
	// channel that delivered them.
	outstanding map[uint64]*amqp091.Channel
	tagMu       sync.Mutex

	// streams tracks active consumers so Close can cancel them.
	streams  map[string]*stream
	streamMu sync.Mutex

	// pubMu serialises publishes.
	pubMu sync.Mutex

	closed  bool
	closeMu sync.RWMutex

	// logger for connection events (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Connect establishes a connection to the AMQP broker.
//
// It performs the following setup:
//  1. Dials the broker with a context-bound dialer and connect timeout
//  2. Authenticates with SASL PLAIN into the configured virtual host
//  3. Opens the client's channel
//  4. Enables publisher confirms when cfg.Confirm is set
//
// On any failure nothing is left open.
//
// Parameters:
//   - ctx: Context bounding the dial
//   - cfg: Broker configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: Wraps ErrConnectionFailed (and ErrAuthenticationFailed for
//     credential or virtual host refusal)
func Connect(ctx context.Context, cfg config.BrokerConfig) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	conn, err := amqp091.DialConfig(brokerURL(cfg), buildDialConfig(ctx, cfg))
	if err != nil {
		return nil, classifyDialError(err)
	}

	c := &Client{
		conn:        conn,
		cfg:         cfg,
		confirms:    cfg.Confirm,
		outstanding: make(map[uint64]*amqp091.Channel),
		streams:     make(map[string]*stream),
	}

	if err := c.openChannel(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	go c.watchConnection(conn.NotifyClose(make(chan *amqp091.Error, 1)))

	return c, nil
}

// openChannel opens a fresh channel, re-enabling confirm mode and the
// return listener. Tags delivered on the old channel stay tracked so that
// settling one reports ErrChannelClosed.
func (c *Client) openChannel() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}

	var returns chan amqp091.Return
	if c.confirms {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return fmt.Errorf("enabling publisher confirms: %w", err)
		}
		returns = ch.NotifyReturn(make(chan amqp091.Return, returnBuffer))
	}

	c.chMu.Lock()
	c.ch = ch
	c.returns = returns
	c.chMu.Unlock()

	return nil
}

// channel returns the current channel.
func (c *Client) channel() *amqp091.Channel {
	c.chMu.RLock()
	defer c.chMu.RUnlock()
	return c.ch
}

// watchConnection logs an unexpected connection close.
func (c *Client) watchConnection(closes <-chan *amqp091.Error) {
	amqpErr, ok := <-closes
	if !ok || amqpErr == nil {
		return
	}
	if logger := c.getLogger(); logger != nil {
		logger.Error("AMQP connection lost",
			"code", amqpErr.Code,
			"reason", amqpErr.Reason,
			"server", amqpErr.Server,
		)
	}
}

// Close cancels all consumers and closes the channel and connection.
//
// Unacknowledged deliveries are returned to their queue by the broker.
// Close is idempotent.
func (c *Client) Close() error {
	c.closeMu.Lock()
	if c.closed || c.conn == nil {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	c.streamMu.Lock()
	streams := make([]*stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.streamMu.Unlock()
	for _, s := range streams {
		_ = s.Cancel()
	}

	var errs []error
	if ch := c.channel(); ch != nil {
		if err := ch.Close(); err != nil && !isClosed(err) {
			errs = append(errs, fmt.Errorf("closing channel: %w", err))
		}
	}
	if err := c.conn.Close(); err != nil && !isClosed(err) {
		errs = append(errs, fmt.Errorf("closing connection: %w", err))
	}

	return errors.Join(errs...)
}

// isClosing reports whether Close has been called.
func (c *Client) isClosing() bool {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	return c.closed
}

// HealthCheck verifies the AMQP connection and channel are open.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("amqp health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected reports whether the connection and channel are open.
func (c *Client) IsConnected() bool {
	if c.conn == nil || c.isClosing() || c.conn.IsClosed() {
		return false
	}
	ch := c.channel()
	return ch != nil && !ch.IsClosed()
}

// SetLogger sets a logger for connection events.
// If not set, events are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
