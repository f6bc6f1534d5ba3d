// Package uplink bridges sensors that publish over MQTT onto the AMQP
// packet queue.
//
// Sensors publish canonical encoded packets to ssds/packets/{sourceID}
// with QoS 1. The bridge subscribes through a persistent MQTT session with
// manual acknowledgement and forwards each packet with the producer
// pipeline; the MQTT acknowledgement follows the AMQP publisher confirm.
package uplink
