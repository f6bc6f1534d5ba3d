// Package packet defines the SSDS device packet and its binary encodings.
//
// A device packet is one reading from a field instrument: who sent it
// (source and parent IDs), how to interpret it (packet type, subtype and
// data description version), when it was taken, and up to two opaque
// payload buffers.
//
// # Wire Formats
//
// Three encodings are supported, selected by AMQP content type:
//
//   - Canonical (application/x-ssds-devicepacket): a varint length prefix
//     followed by the protobuf message body. The prefix makes every
//     truncation detectable.
//   - Message (application/x-protobuf): the bare protobuf message body,
//     compatible with existing SerializeToString producers.
//   - Legacy (application/x-ssds-legacy): the pre-protobuf SSDS big-endian
//     layout written by the Java ingest clients.
//
// The protobuf schema, field numbers included, is fixed:
//
//	message MessagePacket {
//	  required int64 sourceID               = 1;
//	  required int64 parentID               = 2;
//	  required int32 packetType             = 3;
//	  required int32 packetSubType          = 4;
//	  required int64 metadataSequenceNumber = 5;
//	  required int64 dataDescriptionVersion = 6;
//	  required int64 timestampSeconds       = 7;
//	  required int32 timestampNanoseconds   = 8;
//	  required int64 sequenceNumber         = 9;
//	  optional bytes bufferBytes            = 10;
//	  optional bytes bufferTwoBytes         = 11;
//	}
//
// Encoding is deterministic: fields are written in field-number order,
// scalar fields are always written, byte fields only when non-empty.
//
// # Packet Types
//
// PacketType and PacketSubType are an open enumeration. Any int32 value is
// carried through unchanged; interpretation belongs to downstream consumers.
//
// # Usage
//
//	data, err := packet.Encode(p)
//	...
//	p, err := packet.CodecFor(delivery.ContentType).Decode(delivery.Body)
//	if errors.Is(err, packet.ErrTruncated) {
//	    // partial message
//	}
package packet
