package amqp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/nerrad567/ssds-ingest/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout applies when the configured timeout is zero.
	defaultConnectTimeout = 10 * time.Second

	// defaultHeartbeat applies when the configured heartbeat is zero.
	defaultHeartbeat = 10 * time.Second

	// defaultPrefetch applies when the configured prefetch is zero.
	defaultPrefetch = 1

	// returnBuffer sizes the basic.return notification channel. Publishes
	// are serialised, so at most one return is pending at a time.
	returnBuffer = 16
)

// QueueOptions are the properties a queue is declared with.
//
// A queue is identified by name within a virtual host; redeclaring it with
// different properties fails with ErrQueueConflict.
type QueueOptions struct {
	Name       string
	Durable    bool
	Exclusive  bool
	AutoDelete bool
}

// DurableQueue returns the default options for a packet queue: durable,
// shared between consumers, and kept when the last consumer leaves.
func DurableQueue(name string) QueueOptions {
	return QueueOptions{
		Name:    name,
		Durable: true,
	}
}

// QueueOptionsFrom converts queue configuration to QueueOptions.
func QueueOptionsFrom(cfg config.QueueConfig) QueueOptions {
	return QueueOptions{
		Name:       cfg.Name,
		Durable:    cfg.Durable,
		Exclusive:  cfg.Exclusive,
		AutoDelete: cfg.AutoDelete,
	}
}

// brokerURL returns the credential-free AMQP URL for cfg. Credentials and
// virtual host travel in amqp091.Config instead.
func brokerURL(cfg config.BrokerConfig) string {
	return "amqp://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)) + "/"
}

// buildDialConfig creates the amqp091 connection config from broker settings.
//
// This configures:
//   - SASL PLAIN credentials
//   - Virtual host
//   - Heartbeat interval
//   - Connection name shown in the management UI
//   - A context-bound dialer with a handshake deadline
func buildDialConfig(ctx context.Context, cfg config.BrokerConfig) amqp091.Config {
	timeout := cfg.GetConnectTimeout()
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	heartbeat := cfg.HeartbeatInterval()
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	props := amqp091.NewConnectionProperties()
	if cfg.ClientName != "" {
		props.SetClientConnectionName(cfg.ClientName)
	}

	return amqp091.Config{
		SASL: []amqp091.Authentication{
			&amqp091.PlainAuth{Username: cfg.Auth.Username, Password: cfg.Auth.Password},
		},
		Vhost:      cfg.VHost,
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: props,
		Dial: func(network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: timeout}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// Bounds the AMQP handshake; amqp091 clears it once open.
			if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		},
	}
}

// PrefetchCount returns the configured consumer prefetch or the default.
func PrefetchCount(cfg config.BrokerConfig) int {
	if cfg.Prefetch > 0 {
		return cfg.Prefetch
	}
	return defaultPrefetch
}

// classifyDialError wraps a dial failure, marking credential and virtual
// host refusals with ErrAuthenticationFailed.
func classifyDialError(err error) error {
	if isAuthError(err) {
		return fmt.Errorf("%w: %w: %w", ErrConnectionFailed, ErrAuthenticationFailed, err)
	}
	return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
}

func isAuthError(err error) bool {
	if errors.Is(err, amqp091.ErrCredentials) || errors.Is(err, amqp091.ErrVhost) || errors.Is(err, amqp091.ErrSASL) {
		return true
	}
	var amqpErr *amqp091.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Code == amqp091.AccessRefused || amqpErr.Code == amqp091.NotAllowed
	}
	return false
}

// isQueueConflict reports whether err is the broker's refusal of a queue
// redeclaration with different properties.
func isQueueConflict(err error) bool {
	var amqpErr *amqp091.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Code == amqp091.PreconditionFailed || amqpErr.Code == amqp091.ResourceLocked
	}
	return false
}

// isClosed reports whether err signals a closed channel or connection.
func isClosed(err error) bool {
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	var amqpErr *amqp091.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Code == amqp091.ChannelError || amqpErr.Code == amqp091.ConnectionForced
	}
	return false
}
