package mqtt

import (
	"context"
	"fmt"
)

// maxPayloadSize caps a single MQTT payload (1MB), in line with typical
// broker limits. Encoded packets are far smaller.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker's acknowledgement
// (for QoS > 0), ctx, or the operation timeout.
//
// Parameters:
//   - ctx: Context for cancellation
//   - topic: Concrete topic, e.g. Topics{}.Packets(101)
//   - payload: Message body, max 1MB
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker keeps the message for new subscribers
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or
//     ErrPublishFailed wrapping the cause
//
// Example:
//
//	payload, _ := packet.Encode(pkt)
//	err := client.Publish(ctx, mqtt.Topics{}.Packets(pkt.SourceID), payload, 1, false)
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if err := waitToken(ctx, token, defaultOperationTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
