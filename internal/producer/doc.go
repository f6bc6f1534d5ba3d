// Package producer publishes device packets to a durable RabbitMQ queue.
//
// The queue is declared once by New. Each packet is encoded (canonical
// length-prefixed protobuf unless WithCodec says otherwise) and published
// persistently with publisher confirms; the AMQP message ID carries the
// packet's BLAKE3 content key. Failures surface to the caller unchanged.
package producer
