//go:build integration

package mqtt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/ssds-ingest/internal/infrastructure/config"
)

// Integration tests against a live MQTT broker.
//
// Run with:
//   SSDS_TEST_MQTT_HOST=127.0.0.1 go test -tags=integration -count=1 ./internal/infrastructure/mqtt/...

func integrationConfig(t *testing.T, clientID string) config.MQTTConfig {
	t.Helper()

	host := os.Getenv("SSDS_TEST_MQTT_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	port := 1883
	if p, err := strconv.Atoi(os.Getenv("SSDS_TEST_MQTT_PORT")); err == nil {
		port = p
	}

	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     host,
			Port:     port,
			ClientID: fmt.Sprintf("%s-%d", clientID, time.Now().UnixNano()),
		},
		QoS:       1,
		Reconnect: config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 5},
	}
}

func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Connect(ctx, integrationConfig(t, clientID))
	if err != nil {
		t.Skipf("MQTT broker not available: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client := connectOrSkip(t, "ssds-int-track")
	ctx := context.Background()
	noop := func(string, []byte) error { return nil }

	filters := []string{"ssds/int/track/1", "ssds/int/track/+"}
	for _, f := range filters {
		if err := client.Subscribe(ctx, f, 1, noop); err != nil {
			t.Fatalf("Subscribe(%q) error = %v", f, err)
		}
	}
	if client.SubscriptionCount() != len(filters) {
		t.Errorf("SubscriptionCount() = %d, want %d", client.SubscriptionCount(), len(filters))
	}

	if err := client.Unsubscribe(ctx, filters[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(filters[0]) || !client.HasSubscription(filters[1]) {
		t.Error("subscription tracking out of sync after Unsubscribe")
	}
}

func TestIntegration_AckOnlyOnSuccess(t *testing.T) {
	client := connectOrSkip(t, "ssds-int-ack")
	ctx := context.Background()

	topic := fmt.Sprintf("ssds/int/ack/%d", time.Now().UnixNano())
	var calls atomic.Int32
	received := make(chan []byte, 4)

	err := client.Subscribe(ctx, topic, 1, func(_ string, payload []byte) error {
		received <- payload
		if calls.Add(1) == 1 {
			return errors.New("first attempt fails")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.Publish(ctx, topic, []byte("packet"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "packet" {
			t.Errorf("payload = %q, want packet", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}
