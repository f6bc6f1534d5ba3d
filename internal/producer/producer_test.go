package producer

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/ssds-ingest/internal/infrastructure/amqp"
	"github.com/nerrad567/ssds-ingest/internal/infrastructure/amqp/amqptest"
	"github.com/nerrad567/ssds-ingest/internal/packet"
)

const testQueue = "ssds.packets"

func samplePacket(seq int64) packet.DevicePacket {
	return packet.DevicePacket{
		SourceID:         101,
		ParentID:         100,
		PacketType:       0,
		PacketSubType:    1,
		SequenceNumber:   seq,
		TimestampSeconds: 1_700_000_000,
		BufferBytes:      []byte("First Buffer Bytes"),
		BufferTwoBytes:   []byte("Second Buffer Bytes"),
	}
}

func newSession(t *testing.T, srv *amqptest.Server) *amqptest.Session {
	t.Helper()
	sess, err := srv.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

// =============================================================================
// New
// =============================================================================

func TestNew_DeclaresQueue(t *testing.T) {
	srv := amqptest.NewServer()
	p, err := New(context.Background(), newSession(t, srv), amqp.DurableQueue(testQueue))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !srv.HasQueue(testQueue) {
		t.Error("queue not declared")
	}
	if p.Queue().Name != testQueue {
		t.Errorf("Queue().Name = %q, want %q", p.Queue().Name, testQueue)
	}

	// Declaring again with the same properties is a no-op.
	if _, err := New(context.Background(), newSession(t, srv), amqp.DurableQueue(testQueue)); err != nil {
		t.Errorf("second New() error = %v", err)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(context.Background(), nil, amqp.DurableQueue(testQueue)); !errors.Is(err, ErrNoPublisher) {
		t.Errorf("New(nil) error = %v, want ErrNoPublisher", err)
	}

	srv := amqptest.NewServer()
	sess := newSession(t, srv)
	if _, err := sess.DeclareQueue(context.Background(), amqp.QueueOptions{Name: testQueue}); err != nil {
		t.Fatalf("DeclareQueue() error = %v", err)
	}
	_, err := New(context.Background(), newSession(t, srv), amqp.DurableQueue(testQueue))
	if !errors.Is(err, amqp.ErrQueueConflict) {
		t.Errorf("New() error = %v, want ErrQueueConflict", err)
	}
}

// =============================================================================
// Publish
// =============================================================================

func TestPublish_MessageProperties(t *testing.T) {
	tests := []struct {
		name  string
		codec packet.Codec
	}{
		{"canonical", packet.Canonical},
		{"message", packet.Message},
		{"legacy", packet.Legacy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := amqptest.NewServer()
			p, err := New(context.Background(), newSession(t, srv), amqp.DurableQueue(testQueue), WithCodec(tt.codec))
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			pkt := samplePacket(200)
			ack, err := p.Publish(context.Background(), pkt)
			if err != nil {
				t.Fatalf("Publish() error = %v", err)
			}
			if !ack.Confirmed {
				t.Error("Publish() not confirmed")
			}

			msgs := srv.Messages(testQueue)
			if len(msgs) != 1 {
				t.Fatalf("queue holds %d messages, want 1", len(msgs))
			}
			msg := msgs[0]

			wantKey, _ := pkt.Key()
			if msg.MessageID != wantKey {
				t.Errorf("MessageID = %q, want %q", msg.MessageID, wantKey)
			}
			if msg.ContentType != tt.codec.ContentType() {
				t.Errorf("ContentType = %q, want %q", msg.ContentType, tt.codec.ContentType())
			}
			if msg.DeliveryMode != amqp.Persistent {
				t.Errorf("DeliveryMode = %d, want persistent", msg.DeliveryMode)
			}
			if msg.Type != MessageType {
				t.Errorf("Type = %q, want %q", msg.Type, MessageType)
			}

			got, err := packet.CodecFor(msg.ContentType).Decode(msg.Body)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !got.Equal(pkt) {
				t.Errorf("decoded %v, want %v", got, pkt)
			}
		})
	}
}

func TestPublish_Errors(t *testing.T) {
	srv := amqptest.NewServer()
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	p, err := New(context.Background(), newSession(t, srv), amqp.DurableQueue(testQueue), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	t.Run("invalid packet", func(t *testing.T) {
		bad := samplePacket(1)
		bad.TimestampNanoseconds = packet.MaxNanoseconds + 1
		_, err := p.Publish(context.Background(), bad)
		if !errors.Is(err, ErrInvalidPacket) || !errors.Is(err, packet.ErrFieldOutOfRange) {
			t.Errorf("Publish() error = %v, want ErrInvalidPacket wrapping ErrFieldOutOfRange", err)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		srv.SetRejectPublishes(true)
		defer srv.SetRejectPublishes(false)
		_, err := p.Publish(context.Background(), samplePacket(2))
		if !errors.Is(err, amqp.ErrPublishFailed) || !errors.Is(err, amqp.ErrPublishRejected) {
			t.Errorf("Publish() error = %v, want ErrPublishRejected", err)
		}
	})

	t.Run("unroutable", func(t *testing.T) {
		srv.DeleteQueue(testQueue)
		_, err := p.Publish(context.Background(), samplePacket(3))
		if !errors.Is(err, amqp.ErrUnroutable) {
			t.Errorf("Publish() error = %v, want ErrUnroutable", err)
		}
	})

	if got := testutil.ToFloat64(metrics.failedTotal); got != 2 {
		t.Errorf("publish_failures_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.publishedTotal); got != 0 {
		t.Errorf("published_total = %v, want 0", got)
	}
}

func TestPublishAll(t *testing.T) {
	srv := amqptest.NewServer()
	p, err := New(context.Background(), newSession(t, srv), amqp.DurableQueue(testQueue))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	pkts := []packet.DevicePacket{samplePacket(1), samplePacket(2), samplePacket(3)}
	n, err := p.PublishAll(context.Background(), pkts)
	if err != nil || n != 3 {
		t.Fatalf("PublishAll() = %d, %v; want 3, nil", n, err)
	}

	// Broker order matches publish order.
	for i, msg := range srv.Messages(testQueue) {
		got, err := packet.Decode(msg.Body)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if got.SequenceNumber != pkts[i].SequenceNumber {
			t.Errorf("message %d sequence = %d, want %d", i, got.SequenceNumber, pkts[i].SequenceNumber)
		}
	}

	bad := samplePacket(5)
	bad.TimestampNanoseconds = -1
	n, err = p.PublishAll(context.Background(), []packet.DevicePacket{samplePacket(4), bad, samplePacket(6)})
	if n != 1 || !errors.Is(err, ErrInvalidPacket) {
		t.Errorf("PublishAll() = %d, %v; want 1, ErrInvalidPacket", n, err)
	}
	if got := srv.Ready(testQueue); got != 4 {
		t.Errorf("Ready = %d, want 4", got)
	}
}
