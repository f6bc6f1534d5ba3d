package amqptest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/ssds-ingest/internal/infrastructure/amqp"
)

func dial(t *testing.T, srv *Server) *Session {
	t.Helper()
	sess, err := srv.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func next(t *testing.T, s amqp.DeliveryStream) (amqp.Delivery, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.Next(ctx)
}

func TestDeclareQueue_IdempotentAndConflict(t *testing.T) {
	srv := NewServer()
	sess := dial(t, srv)
	ctx := context.Background()

	if _, err := sess.DeclareQueue(ctx, amqp.DurableQueue("q")); err != nil {
		t.Fatalf("DeclareQueue() error = %v", err)
	}
	if _, err := sess.DeclareQueue(ctx, amqp.DurableQueue("q")); err != nil {
		t.Fatalf("second DeclareQueue() error = %v", err)
	}

	_, err := sess.DeclareQueue(ctx, amqp.QueueOptions{Name: "q"})
	if !errors.Is(err, amqp.ErrQueueConflict) {
		t.Errorf("DeclareQueue(non-durable) error = %v, want ErrQueueConflict", err)
	}
	if !sess.IsConnected() {
		t.Error("session unusable after conflict")
	}
}

func TestPublish_Unroutable(t *testing.T) {
	sess := dial(t, NewServer())

	_, err := sess.Publish(context.Background(), "missing", amqp.Message{Body: []byte("x")})
	if !errors.Is(err, amqp.ErrUnroutable) || !errors.Is(err, amqp.ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed+ErrUnroutable", err)
	}
}

func TestPublish_Rejected(t *testing.T) {
	srv := NewServer()
	sess := dial(t, srv)
	ctx := context.Background()
	if _, err := sess.DeclareQueue(ctx, amqp.DurableQueue("q")); err != nil {
		t.Fatalf("DeclareQueue() error = %v", err)
	}

	srv.SetRejectPublishes(true)
	_, err := sess.Publish(ctx, "q", amqp.Message{Body: []byte("x")})
	if !errors.Is(err, amqp.ErrPublishRejected) {
		t.Errorf("Publish() error = %v, want ErrPublishRejected", err)
	}
	if srv.Ready("q") != 0 {
		t.Errorf("Ready() = %d after rejected publish, want 0", srv.Ready("q"))
	}
}

func TestConsume_AckAndDoubleAck(t *testing.T) {
	srv := NewServer()
	sess := dial(t, srv)
	ctx := context.Background()

	q, _ := sess.DeclareQueue(ctx, amqp.DurableQueue("q"))
	if _, err := sess.Publish(ctx, "q", amqp.Message{Body: []byte("one")}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	stream, err := sess.Consume(ctx, q)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	d, err := next(t, stream)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if string(d.Body) != "one" || d.Redelivered {
		t.Errorf("Next() = %+v", d)
	}

	if err := sess.Ack(d.Tag); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	if err := sess.Ack(d.Tag); !errors.Is(err, amqp.ErrUnknownDeliveryTag) {
		t.Errorf("second Ack() error = %v, want ErrUnknownDeliveryTag", err)
	}
}

func TestClose_RequeuesUnacked(t *testing.T) {
	srv := NewServer()
	ctx := context.Background()

	first := dial(t, srv)
	q, _ := first.DeclareQueue(ctx, amqp.DurableQueue("q"))
	for _, body := range []string{"a", "b"} {
		if _, err := first.Publish(ctx, "q", amqp.Message{Body: []byte(body)}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	stream, _ := first.Consume(ctx, q)
	if _, err := next(t, stream); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if srv.Unacked("q") != 1 {
		t.Errorf("Unacked() = %d, want 1", srv.Unacked("q"))
	}

	first.Close()
	if _, err := stream.Next(ctx); !errors.Is(err, amqp.ErrStreamClosed) {
		t.Errorf("Next() after Close error = %v, want ErrStreamClosed", err)
	}
	if err := first.Ack(1); !errors.Is(err, amqp.ErrChannelClosed) {
		t.Errorf("Ack() after Close error = %v, want ErrChannelClosed", err)
	}

	second := dial(t, srv)
	stream2, _ := second.Consume(ctx, q)
	d, err := next(t, stream2)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if string(d.Body) != "a" || !d.Redelivered {
		t.Errorf("redelivery = %q redelivered=%v, want \"a\" redelivered", d.Body, d.Redelivered)
	}
}

func TestDropConnections(t *testing.T) {
	srv := NewServer()
	sess := dial(t, srv)
	ctx := context.Background()
	q, _ := sess.DeclareQueue(ctx, amqp.DurableQueue("q"))
	stream, _ := sess.Consume(ctx, q)

	errCh := make(chan error, 1)
	go func() {
		_, err := stream.Next(ctx)
		errCh <- err
	}()

	srv.DropConnections()

	select {
	case err := <-errCh:
		if !errors.Is(err, amqp.ErrConnectionLost) {
			t.Errorf("Next() error = %v, want ErrConnectionLost", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next() did not return after DropConnections")
	}
}

func TestDeleteQueue_CancelsConsumer(t *testing.T) {
	srv := NewServer()
	sess := dial(t, srv)
	ctx := context.Background()
	q, _ := sess.DeclareQueue(ctx, amqp.DurableQueue("q"))
	stream, _ := sess.Consume(ctx, q)

	srv.DeleteQueue("q")

	if _, err := next(t, stream); !errors.Is(err, amqp.ErrConsumerCancelled) {
		t.Errorf("Next() error = %v, want ErrConsumerCancelled", err)
	}
}

func TestCompetingConsumers(t *testing.T) {
	srv := NewServer()
	ctx := context.Background()
	a := dial(t, srv)
	b := dial(t, srv)

	q, _ := a.DeclareQueue(ctx, amqp.DurableQueue("q"))
	for i := 0; i < 4; i++ {
		srv.Enqueue("q", amqp.Message{Body: []byte{byte(i)}})
	}

	sa, _ := a.Consume(ctx, q)
	sb, _ := b.Consume(ctx, q)

	seen := make(map[byte]bool)
	for i := 0; i < 2; i++ {
		for _, s := range []amqp.DeliveryStream{sa, sb} {
			d, err := next(t, s)
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if seen[d.Body[0]] {
				t.Errorf("message %d delivered twice", d.Body[0])
			}
			seen[d.Body[0]] = true
		}
	}
	if len(seen) != 4 {
		t.Errorf("delivered %d distinct messages, want 4", len(seen))
	}
}

func TestPrefetch(t *testing.T) {
	srv := NewServer()
	srv.SetPrefetch(1)
	sess := dial(t, srv)
	ctx := context.Background()

	q, _ := sess.DeclareQueue(ctx, amqp.DurableQueue("q"))
	srv.Enqueue("q", amqp.Message{Body: []byte("1")})
	srv.Enqueue("q", amqp.Message{Body: []byte("2")})

	stream, _ := sess.Consume(ctx, q)
	d, err := next(t, stream)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := stream.Next(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next() beyond prefetch error = %v, want DeadlineExceeded", err)
	}

	if err := sess.Ack(d.Tag); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	if d, err := next(t, stream); err != nil || string(d.Body) != "2" {
		t.Errorf("Next() after ack = %q, %v", d.Body, err)
	}
}
