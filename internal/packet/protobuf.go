package packet

import (
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Protobuf field numbers. These must never change: existing encoded data
// depends on them.
const (
	fieldSourceID               protowire.Number = 1
	fieldParentID               protowire.Number = 2
	fieldPacketType             protowire.Number = 3
	fieldPacketSubType          protowire.Number = 4
	fieldMetadataSequenceNumber protowire.Number = 5
	fieldDataDescriptionVersion protowire.Number = 6
	fieldTimestampSeconds       protowire.Number = 7
	fieldTimestampNanoseconds   protowire.Number = 8
	fieldSequenceNumber         protowire.Number = 9
	fieldBufferBytes            protowire.Number = 10
	fieldBufferTwoBytes         protowire.Number = 11
)

// requiredFields has one bit set per required scalar field number.
const requiredFields uint16 = 1<<fieldSourceID | 1<<fieldParentID |
	1<<fieldPacketType | 1<<fieldPacketSubType |
	1<<fieldMetadataSequenceNumber | 1<<fieldDataDescriptionVersion |
	1<<fieldTimestampSeconds | 1<<fieldTimestampNanoseconds |
	1<<fieldSequenceNumber

var fieldNames = map[protowire.Number]string{
	fieldSourceID:               "sourceID",
	fieldParentID:               "parentID",
	fieldPacketType:             "packetType",
	fieldPacketSubType:          "packetSubType",
	fieldMetadataSequenceNumber: "metadataSequenceNumber",
	fieldDataDescriptionVersion: "dataDescriptionVersion",
	fieldTimestampSeconds:       "timestampSeconds",
	fieldTimestampNanoseconds:   "timestampNanoseconds",
	fieldSequenceNumber:         "sequenceNumber",
	fieldBufferBytes:            "bufferBytes",
	fieldBufferTwoBytes:         "bufferTwoBytes",
}

// messageCodec encodes the bare protobuf message body.
type messageCodec struct{}

func (messageCodec) ContentType() string { return ContentTypeMessage }

func (messageCodec) Encode(p DevicePacket) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return appendMessage(nil, p), nil
}

func (messageCodec) Decode(data []byte) (DevicePacket, error) {
	return unmarshalMessage(data)
}

// framedCodec prefixes the message body with its varint-encoded length,
// the protobuf "delimited" stream form.
type framedCodec struct{}

func (framedCodec) ContentType() string { return ContentTypeCanonical }

func (framedCodec) Encode(p DevicePacket) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	body := appendMessage(nil, p)

	out := make([]byte, 0, protowire.SizeVarint(uint64(len(body)))+len(body))
	out = protowire.AppendVarint(out, uint64(len(body)))
	return append(out, body...), nil
}

func (framedCodec) Decode(data []byte) (DevicePacket, error) {
	if len(data) == 0 {
		return DevicePacket{}, fmt.Errorf("%w: empty input", ErrTruncated)
	}

	size, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return DevicePacket{}, wireError("length prefix", n)
	}
	body := data[n:]

	switch {
	case size > uint64(len(body)):
		return DevicePacket{}, fmt.Errorf("%w: declared %d bytes, have %d", ErrTruncated, size, len(body))
	case size < uint64(len(body)):
		return DevicePacket{}, fmt.Errorf("%w: %d trailing bytes after packet", ErrMalformed, uint64(len(body))-size)
	}

	return unmarshalMessage(body)
}

// appendMessage appends the protobuf body of p to b in field-number order.
func appendMessage(b []byte, p DevicePacket) []byte {
	b = appendVarintField(b, fieldSourceID, uint64(p.SourceID))
	b = appendVarintField(b, fieldParentID, uint64(p.ParentID))
	b = appendVarintField(b, fieldPacketType, uint64(int64(p.PacketType)))
	b = appendVarintField(b, fieldPacketSubType, uint64(int64(p.PacketSubType)))
	b = appendVarintField(b, fieldMetadataSequenceNumber, uint64(p.MetadataSequenceNumber))
	b = appendVarintField(b, fieldDataDescriptionVersion, uint64(p.DataDescriptionVersion))
	b = appendVarintField(b, fieldTimestampSeconds, uint64(p.TimestampSeconds))
	b = appendVarintField(b, fieldTimestampNanoseconds, uint64(int64(p.TimestampNanoseconds)))
	b = appendVarintField(b, fieldSequenceNumber, uint64(p.SequenceNumber))
	b = appendBytesField(b, fieldBufferBytes, p.BufferBytes)
	b = appendBytesField(b, fieldBufferTwoBytes, p.BufferTwoBytes)
	return b
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// unmarshalMessage parses a protobuf body. Unknown fields are skipped;
// repeated occurrences of a known field follow protobuf last-wins rules.
func unmarshalMessage(b []byte) (DevicePacket, error) {
	var (
		p    DevicePacket
		seen uint16
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return DevicePacket{}, wireError("tag", n)
		}
		b = b[n:]

		switch {
		case num >= fieldSourceID && num <= fieldSequenceNumber:
			if typ != protowire.VarintType {
				return DevicePacket{}, fmt.Errorf("%w: %s has wire type %d, want varint",
					ErrMalformed, fieldNames[num], typ)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return DevicePacket{}, wireError(fieldNames[num], n)
			}
			b = b[n:]
			if err := p.setScalar(num, v); err != nil {
				return DevicePacket{}, err
			}
			seen |= 1 << num

		case num == fieldBufferBytes || num == fieldBufferTwoBytes:
			if typ != protowire.BytesType {
				return DevicePacket{}, fmt.Errorf("%w: %s has wire type %d, want bytes",
					ErrMalformed, fieldNames[num], typ)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return DevicePacket{}, wireError(fieldNames[num], n)
			}
			b = b[n:]
			buf := append([]byte{}, v...)
			if num == fieldBufferBytes {
				p.BufferBytes = buf
			} else {
				p.BufferTwoBytes = buf
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return DevicePacket{}, wireError(fmt.Sprintf("unknown field %d", num), n)
			}
			b = b[n:]
		}
	}

	if missing := requiredFields &^ seen; missing != 0 {
		for num := fieldSourceID; num <= fieldSequenceNumber; num++ {
			if missing&(1<<num) != 0 {
				return DevicePacket{}, fmt.Errorf("%w: %s", ErrMissingField, fieldNames[num])
			}
		}
	}

	p.normalise()
	return p, nil
}

// setScalar assigns a decoded varint to the field identified by num.
func (p *DevicePacket) setScalar(num protowire.Number, v uint64) error {
	switch num {
	case fieldSourceID:
		p.SourceID = int64(v)
	case fieldParentID:
		p.ParentID = int64(v)
	case fieldPacketType:
		i, err := toInt32(num, v)
		if err != nil {
			return err
		}
		p.PacketType = i
	case fieldPacketSubType:
		i, err := toInt32(num, v)
		if err != nil {
			return err
		}
		p.PacketSubType = i
	case fieldMetadataSequenceNumber:
		p.MetadataSequenceNumber = int64(v)
	case fieldDataDescriptionVersion:
		p.DataDescriptionVersion = int64(v)
	case fieldTimestampSeconds:
		p.TimestampSeconds = int64(v)
	case fieldTimestampNanoseconds:
		i, err := toInt32(num, v)
		if err != nil {
			return err
		}
		if i < 0 || i > MaxNanoseconds {
			return fmt.Errorf("%w: timestampNanoseconds %d not in 0..%d", ErrFieldOutOfRange, i, MaxNanoseconds)
		}
		p.TimestampNanoseconds = i
	case fieldSequenceNumber:
		p.SequenceNumber = int64(v)
	}
	return nil
}

// toInt32 interprets a varint as a protobuf int32 (sign-extended on the
// wire) and rejects values outside the int32 range.
func toInt32(num protowire.Number, v uint64) (int32, error) {
	i := int64(v)
	if i < math.MinInt32 || i > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s value %d does not fit int32", ErrFieldOutOfRange, fieldNames[num], i)
	}
	return int32(i), nil
}

// wireError maps a protowire parse failure onto the package sentinels.
func wireError(what string, n int) error {
	err := protowire.ParseError(n)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s", ErrTruncated, what)
	}
	return fmt.Errorf("%w: %s: %w", ErrMalformed, what, err)
}
