// Package amqp provides RabbitMQ (AMQP 0-9-1) connectivity for SSDS Ingest.
//
// This package manages:
//   - Connection to the broker with SASL PLAIN credentials and a virtual host
//   - Durable queue declaration on the default exchange
//   - Persistent, mandatory publishing with publisher confirms
//   - Manual-acknowledgement consumption with prefetch
//   - A guard against acknowledging the same delivery twice
//
// # Architecture
//
// Sensors publish device packets to a named queue; ingest workers consume
// from it as competing consumers. The broker holds each message until a
// consumer acknowledges it, and requeues unacknowledged messages when a
// consumer's channel closes.
//
//	Producer → default exchange → durable queue → Consumer (ack)
//
// Each Client owns one connection and one channel. Delivery tags are
// channel-scoped; the client tracks each outstanding tag with its channel
// so that a repeated ack returns ErrUnknownDeliveryTag instead of closing
// the channel, and an ack for a delivery from a replaced channel returns
// ErrChannelClosed.
//
// # Stream Termination
//
// A DeliveryStream ends with one of three errors:
//   - ErrStreamClosed: the stream was cancelled or the client closed
//   - ErrConnectionLost: the channel or connection closed with an error
//   - ErrConsumerCancelled: the broker cancelled the consumer
//
// # Usage
//
//	client, err := amqp.Connect(ctx, cfg.Broker)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	q, err := client.DeclareQueue(ctx, amqp.DurableQueue("ssds_ingest"))
//	stream, err := client.Consume(ctx, q)
//	for {
//	    d, err := stream.Next(ctx)
//	    if err != nil {
//	        break
//	    }
//	    // process d.Body
//	    client.Ack(d.Tag)
//	}
package amqp
