//go:build integration

package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/nerrad567/ssds-ingest/internal/infrastructure/config"
)

// Integration tests against a live RabbitMQ broker.
// These tests require RabbitMQ at 127.0.0.1:5672 (guest/guest, vhost "/")
// unless overridden with SSDS_TEST_BROKER_HOST, SSDS_TEST_BROKER_USERNAME,
// SSDS_TEST_BROKER_PASSWORD and SSDS_TEST_BROKER_VHOST. Tests that close
// connections from the broker side also need the management plugin at
// SSDS_TEST_MANAGEMENT_URL (default http://127.0.0.1:15672).
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/amqp/...

func integrationConfig() config.BrokerConfig {
	cfg := config.BrokerConfig{
		Host:           envOr("SSDS_TEST_BROKER_HOST", "127.0.0.1"),
		Port:           5672,
		VHost:          envOr("SSDS_TEST_BROKER_VHOST", "/"),
		ClientName:     "ssds-integration-test",
		Heartbeat:      10,
		ConnectTimeout: 5,
		Prefetch:       1,
		Confirm:        true,
		Auth: config.AuthConfig{
			Username: envOr("SSDS_TEST_BROKER_USERNAME", "guest"),
			Password: envOr("SSDS_TEST_BROKER_PASSWORD", "guest"),
		},
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// connectOrSkip connects to the test broker, skipping when it is absent.
func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	client, err := Connect(context.Background(), integrationConfig())
	if err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("Connect() error = %v", err)
		}
		t.Skipf("RabbitMQ not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// tempQueue returns a unique queue name deleted when the test ends.
func tempQueue(t *testing.T) string {
	t.Helper()
	name := "ssds-test-" + uuid.NewString()
	t.Cleanup(func() { deleteQueue(t, name) })
	return name
}

func deleteQueue(t *testing.T, name string) {
	t.Helper()
	cfg := integrationConfig()
	conn, err := amqp091.DialConfig(brokerURL(cfg), buildDialConfig(context.Background(), cfg))
	if err != nil {
		return
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return
	}
	_, _ = ch.QueueDelete(name, false, false, false)
}

func nextWithin(t *testing.T, s DeliveryStream, d time.Duration) (Delivery, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Next(ctx)
}

func TestIntegration_DeclareIdempotent(t *testing.T) {
	client := connectOrSkip(t)
	ctx := context.Background()
	name := tempQueue(t)

	for i := 0; i < 3; i++ {
		q, err := client.DeclareQueue(ctx, DurableQueue(name))
		if err != nil {
			t.Fatalf("DeclareQueue() #%d error = %v", i, err)
		}
		if q.Name != name {
			t.Errorf("Queue.Name = %q, want %q", q.Name, name)
		}
	}
}

func TestIntegration_DeclareConflict(t *testing.T) {
	client := connectOrSkip(t)
	ctx := context.Background()
	name := tempQueue(t)

	if _, err := client.DeclareQueue(ctx, DurableQueue(name)); err != nil {
		t.Fatalf("DeclareQueue() error = %v", err)
	}

	_, err := client.DeclareQueue(ctx, QueueOptions{Name: name, Durable: false})
	if !errors.Is(err, ErrQueueConflict) {
		t.Fatalf("DeclareQueue(non-durable) error = %v, want ErrQueueConflict", err)
	}

	// The client reopened its channel.
	if _, err := client.DeclareQueue(ctx, DurableQueue(name)); err != nil {
		t.Errorf("DeclareQueue() after conflict error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after conflict")
	}
}

func TestIntegration_PublishConsumeAck(t *testing.T) {
	client := connectOrSkip(t)
	ctx := context.Background()
	name := tempQueue(t)

	q, err := client.DeclareQueue(ctx, DurableQueue(name))
	if err != nil {
		t.Fatalf("DeclareQueue() error = %v", err)
	}

	ack, err := client.Publish(ctx, name, Message{Body: []byte("hello"), ContentType: "text/plain", MessageID: "m-1"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !ack.Confirmed {
		t.Error("PublishAck.Confirmed = false with confirms enabled")
	}

	stream, err := client.Consume(ctx, q)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	d, err := nextWithin(t, stream, 5*time.Second)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if string(d.Body) != "hello" || d.MessageID != "m-1" || d.Redelivered {
		t.Errorf("Next() = %+v", d)
	}

	if err := client.Ack(d.Tag); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	if err := client.Ack(d.Tag); !errors.Is(err, ErrUnknownDeliveryTag) {
		t.Errorf("second Ack() error = %v, want ErrUnknownDeliveryTag", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after duplicate ack")
	}

	// An acked message is never redelivered.
	client.Close()
	other := connectOrSkip(t)
	q2, err := other.DeclareQueue(ctx, DurableQueue(name))
	if err != nil {
		t.Fatalf("DeclareQueue() error = %v", err)
	}
	if q2.Messages != 0 {
		t.Errorf("Queue.Messages = %d after ack, want 0", q2.Messages)
	}
}

func TestIntegration_UnackedRedelivered(t *testing.T) {
	client := connectOrSkip(t)
	ctx := context.Background()
	name := tempQueue(t)

	q, err := client.DeclareQueue(ctx, DurableQueue(name))
	if err != nil {
		t.Fatalf("DeclareQueue() error = %v", err)
	}
	if _, err := client.Publish(ctx, name, Message{Body: []byte("again")}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	stream, err := client.Consume(ctx, q)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if _, err := nextWithin(t, stream, 5*time.Second); err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	client.Close()
	if _, err := stream.Next(ctx); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Next() after Close error = %v, want ErrStreamClosed", err)
	}

	other := connectOrSkip(t)
	stream2, err := other.Consume(ctx, q)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	d, err := nextWithin(t, stream2, 5*time.Second)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if !d.Redelivered || string(d.Body) != "again" {
		t.Errorf("redelivery = %+v, want Redelivered with same body", d)
	}
	if err := other.Ack(d.Tag); err != nil {
		t.Errorf("Ack() error = %v", err)
	}
}

func TestIntegration_Unroutable(t *testing.T) {
	client := connectOrSkip(t)

	_, err := client.Publish(context.Background(), "ssds-missing-"+uuid.NewString(), Message{Body: []byte("x")})
	if !errors.Is(err, ErrUnroutable) {
		t.Errorf("Publish() error = %v, want ErrUnroutable", err)
	}
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestIntegration_ConsumerCancelledOnQueueDelete(t *testing.T) {
	client := connectOrSkip(t)
	ctx := context.Background()
	name := tempQueue(t)

	q, err := client.DeclareQueue(ctx, DurableQueue(name))
	if err != nil {
		t.Fatalf("DeclareQueue() error = %v", err)
	}
	stream, err := client.Consume(ctx, q)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	deleteQueue(t, name)

	if _, err := nextWithin(t, stream, 5*time.Second); !errors.Is(err, ErrConsumerCancelled) {
		t.Errorf("Next() error = %v, want ErrConsumerCancelled", err)
	}
}

func TestIntegration_BadCredentials(t *testing.T) {
	connectOrSkip(t)

	cfg := integrationConfig()
	cfg.Auth.Password = "definitely-wrong"

	_, err := Connect(context.Background(), cfg)
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Connect() error = %v, want ErrAuthenticationFailed", err)
	}
}

// closeConnectionNamed force-closes the broker connection whose client
// properties carry name, through the management API. It skips the test
// when the management API is unreachable.
func closeConnectionNamed(t *testing.T, name string) {
	t.Helper()
	cfg := integrationConfig()
	base := strings.TrimSuffix(envOr("SSDS_TEST_MANAGEMENT_URL", "http://127.0.0.1:15672"), "/")
	httpClient := &http.Client{Timeout: 5 * time.Second}

	do := func(method, path string) (*http.Response, error) {
		req, err := http.NewRequest(method, base+path, nil)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(cfg.Auth.Username, cfg.Auth.Password)
		return httpClient.Do(req)
	}

	// Connections appear in the management API after its next stats tick.
	deadline := time.Now().Add(15 * time.Second)
	for {
		resp, err := do(http.MethodGet, "/api/connections")
		if err != nil {
			t.Skipf("RabbitMQ management API not available: %v", err)
		}
		var conns []struct {
			Name             string `json:"name"`
			ClientProperties struct {
				ConnectionName string `json:"connection_name"`
			} `json:"client_properties"`
		}
		err = json.NewDecoder(resp.Body).Decode(&conns)
		resp.Body.Close()
		if err != nil {
			t.Skipf("RabbitMQ management API not usable: %v", err)
		}

		for _, c := range conns {
			if c.ClientProperties.ConnectionName != name {
				continue
			}
			resp, err := do(http.MethodDelete, "/api/connections/"+url.PathEscape(c.Name))
			if err != nil {
				t.Fatalf("closing connection %q: %v", c.Name, err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
				t.Fatalf("closing connection %q: status %d", c.Name, resp.StatusCode)
			}
			return
		}

		if time.Now().After(deadline) {
			t.Fatalf("connection %q not listed by the management API", name)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestIntegration_ConnectionForcedByBroker(t *testing.T) {
	cfg := integrationConfig()
	cfg.ClientName = fmt.Sprintf("ssds-integration-%s", uuid.NewString())
	client, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Skipf("RabbitMQ not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	name := tempQueue(t)
	q, err := client.DeclareQueue(ctx, DurableQueue(name))
	if err != nil {
		t.Fatalf("DeclareQueue() error = %v", err)
	}
	if _, err := client.Publish(ctx, name, Message{Body: []byte("held")}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	stream, err := client.Consume(ctx, q)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	d, err := nextWithin(t, stream, 5*time.Second)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	closeConnectionNamed(t, cfg.ClientName)

	_, err = nextWithin(t, stream, 10*time.Second)
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("Next() error = %v, want ErrConnectionLost", err)
	}
	if _, again := stream.Next(ctx); again != err {
		t.Errorf("second Next() error = %v, want the same %v", again, err)
	}
	if err := client.Ack(d.Tag); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Ack() after connection loss error = %v, want ErrChannelClosed", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after the broker closed the connection")
	}
}
