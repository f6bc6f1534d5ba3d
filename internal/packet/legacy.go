package packet

import (
	"encoding/binary"
	"fmt"
	"math"
)

// legacyHeaderSize is the fixed-width prefix of a legacy packet:
// eight 64-bit fields plus the 32-bit packet type.
const legacyHeaderSize = 8*8 + 4

// legacyCodec implements the SSDS big-endian layout:
//
//	int64 sourceID
//	int64 parentID
//	int32 packetType
//	int64 packetSubType
//	int64 metadataSequenceNumber
//	int64 dataDescriptionVersion
//	int64 timestampSeconds
//	int64 timestampNanoseconds
//	int64 sequenceNumber
//	int32 len, bufferBytes
//	int32 len, bufferTwoBytes
//
// An absent buffer is written as a zero length.
type legacyCodec struct{}

func (legacyCodec) ContentType() string { return ContentTypeLegacy }

func (legacyCodec) Encode(p DevicePacket) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(p.BufferBytes) > math.MaxInt32 || len(p.BufferTwoBytes) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: buffer longer than %d bytes", ErrFieldOutOfRange, math.MaxInt32)
	}

	b := make([]byte, 0, legacyHeaderSize+8+len(p.BufferBytes)+len(p.BufferTwoBytes))
	b = binary.BigEndian.AppendUint64(b, uint64(p.SourceID))
	b = binary.BigEndian.AppendUint64(b, uint64(p.ParentID))
	b = binary.BigEndian.AppendUint32(b, uint32(p.PacketType))
	b = binary.BigEndian.AppendUint64(b, uint64(int64(p.PacketSubType)))
	b = binary.BigEndian.AppendUint64(b, uint64(p.MetadataSequenceNumber))
	b = binary.BigEndian.AppendUint64(b, uint64(p.DataDescriptionVersion))
	b = binary.BigEndian.AppendUint64(b, uint64(p.TimestampSeconds))
	b = binary.BigEndian.AppendUint64(b, uint64(int64(p.TimestampNanoseconds)))
	b = binary.BigEndian.AppendUint64(b, uint64(p.SequenceNumber))
	b = appendLegacyBuffer(b, p.BufferBytes)
	b = appendLegacyBuffer(b, p.BufferTwoBytes)
	return b, nil
}

func appendLegacyBuffer(b, buf []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(buf))) // #nosec G115 -- checked against MaxInt32 in Encode
	return append(b, buf...)
}

func (legacyCodec) Decode(data []byte) (DevicePacket, error) {
	if len(data) < legacyHeaderSize {
		return DevicePacket{}, fmt.Errorf("%w: legacy header needs %d bytes, have %d",
			ErrTruncated, legacyHeaderSize, len(data))
	}

	r := legacyReader{data: data}
	var p DevicePacket
	p.SourceID = r.int64()
	p.ParentID = r.int64()
	p.PacketType = r.int32()

	subType := r.int64()
	if subType < math.MinInt32 || subType > math.MaxInt32 {
		return DevicePacket{}, fmt.Errorf("%w: packetSubType value %d does not fit int32", ErrFieldOutOfRange, subType)
	}
	p.PacketSubType = int32(subType)

	p.MetadataSequenceNumber = r.int64()
	p.DataDescriptionVersion = r.int64()
	p.TimestampSeconds = r.int64()

	nanos := r.int64()
	if nanos < 0 || nanos > MaxNanoseconds {
		return DevicePacket{}, fmt.Errorf("%w: timestampNanoseconds %d not in 0..%d", ErrFieldOutOfRange, nanos, MaxNanoseconds)
	}
	p.TimestampNanoseconds = int32(nanos)

	p.SequenceNumber = r.int64()

	var err error
	if p.BufferBytes, err = r.buffer("bufferBytes"); err != nil {
		return DevicePacket{}, err
	}
	if p.BufferTwoBytes, err = r.buffer("bufferTwoBytes"); err != nil {
		return DevicePacket{}, err
	}
	if rest := len(r.data) - r.off; rest > 0 {
		return DevicePacket{}, fmt.Errorf("%w: %d trailing bytes after packet", ErrMalformed, rest)
	}

	p.normalise()
	return p, nil
}

// legacyReader walks a legacy packet. Fixed-width reads assume the caller
// has already checked the header length.
type legacyReader struct {
	data []byte
	off  int
}

func (r *legacyReader) int64() int64 {
	v := binary.BigEndian.Uint64(r.data[r.off:])
	r.off += 8
	return int64(v)
}

func (r *legacyReader) int32() int32 {
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return int32(v)
}

func (r *legacyReader) buffer(name string) ([]byte, error) {
	if len(r.data)-r.off < 4 {
		return nil, fmt.Errorf("%w: %s length", ErrTruncated, name)
	}
	n := r.int32()
	if n < 0 {
		return nil, fmt.Errorf("%w: %s length %d", ErrFieldOutOfRange, name, n)
	}
	if int(n) > len(r.data)-r.off {
		return nil, fmt.Errorf("%w: %s declares %d bytes, have %d", ErrTruncated, name, n, len(r.data)-r.off)
	}
	buf := append([]byte{}, r.data[r.off:r.off+int(n)]...)
	r.off += int(n)
	return buf, nil
}
