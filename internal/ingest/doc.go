// Package ingest consumes device packets from a durable RabbitMQ queue and
// delivers them to a sink with at-least-once semantics.
//
// A Pipeline moves through the states
//
//	idle → connecting → queue_ready → consuming → draining → closed
//
// or ends in faulted when the broker connection fails. Each delivery is
// decoded with the codec named by its content type, written to the Sink,
// and acknowledged only after the write succeeds. Decode and sink failures
// leave the delivery unacknowledged (or requeue it when
// Options.RequeueOnFailure is set); the broker redelivers it later. Held
// failures that fill Options.Prefetch fault the pipeline with ErrStalled.
//
// Connection-level failures are fatal to the pipeline. Run returns an
// error wrapping ErrFaulted and the caller decides whether to build a new
// pipeline and try again.
//
// Usage:
//
//	p, err := ingest.New(ingest.AMQPDialer(cfg.Broker, log), archive, ingest.Options{
//	    Queue:   amqp.QueueOptionsFrom(cfg.Queue),
//	    Logger:  log,
//	    Metrics: metrics,
//	})
//	if err != nil {
//	    return err
//	}
//	go func() { <-ctx.Done(); p.Shutdown() }()
//	return p.Run(ctx)
package ingest
