package influxdb

import (
	"context"
	"strconv"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/ssds-ingest/internal/packet"
)

// PacketMeasurement is the measurement every device packet is written to.
const PacketMeasurement = "device_packets"

// PacketPoint maps a device packet to one point in PacketMeasurement.
//
// Tags (low cardinality, indexed):
//   - source_id, parent_id, packet_type, packet_sub_type
//
// Fields:
//   - sequence_number, metadata_sequence_number, data_description_version
//   - buffer_len, buffer_two_len (payloads themselves stay in the archive)
//
// The point carries the packet's own timestamp, not the arrival time.
func PacketPoint(p packet.DevicePacket) *write.Point {
	return write.NewPoint(
		PacketMeasurement,
		map[string]string{
			"source_id":       strconv.FormatInt(p.SourceID, 10),
			"parent_id":       strconv.FormatInt(p.ParentID, 10),
			"packet_type":     strconv.FormatInt(int64(p.PacketType), 10),
			"packet_sub_type": strconv.FormatInt(int64(p.PacketSubType), 10),
		},
		map[string]any{
			"sequence_number":          p.SequenceNumber,
			"metadata_sequence_number": p.MetadataSequenceNumber,
			"data_description_version": p.DataDescriptionVersion,
			"buffer_len":               len(p.BufferBytes),
			"buffer_two_len":           len(p.BufferTwoBytes),
		},
		p.Time(),
	)
}

// WritePacket writes one packet synchronously.
//
// Example:
//
//	if err := client.WritePacket(ctx, pkt); err != nil {
//	    return err // delivery stays unacknowledged
//	}
func (c *Client) WritePacket(ctx context.Context, p packet.DevicePacket) error {
	return c.WritePoints(ctx, PacketPoint(p))
}
