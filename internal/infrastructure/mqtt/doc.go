// Package mqtt provides the MQTT transport for the SSDS uplink.
//
// Sensors that cannot speak AMQP publish canonical DevicePacket encodings
// to ssds/packets/{sourceID}. The uplink subscribes with QoS 1 and a
// persistent session; each message is acknowledged only after its handler
// returns nil, so a packet the uplink failed to forward is redelivered
// after reconnect.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(ctx, mqtt.Topics{}.AllPackets(), 1,
//	    func(topic string, payload []byte) error {
//	        return forward(payload) // nil acks
//	    })
//
// # Status
//
// A retained JSON StatusMessage is kept on ssds/system/status: "online"
// after each connect, "offline" on graceful Close, and an "offline" Last
// Will if the connection drops unexpectedly.
//
// # Thread Safety
//
// All Client methods are safe for concurrent use.
package mqtt
