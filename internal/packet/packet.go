package packet

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// MaxNanoseconds is the largest valid TimestampNanoseconds value.
const MaxNanoseconds = 999_999_999

// DevicePacket is a single instrument reading as it travels through the broker.
//
// DevicePacket is a value type. Decoders never alias their input, so a
// decoded packet stays valid after the delivery buffer is released.
// Callers must not mutate the byte slices of a packet they did not create.
type DevicePacket struct {
	// SourceID identifies the originating sensor.
	SourceID int64

	// ParentID identifies the owning deployment or platform.
	ParentID int64

	// PacketType discriminates payload interpretation (open enumeration).
	PacketType int32

	// PacketSubType refines PacketType (open enumeration).
	PacketSubType int32

	// MetadataSequenceNumber references the metadata record this packet was
	// produced under. Not validated.
	MetadataSequenceNumber int64

	// DataDescriptionVersion tags the payload schema version.
	DataDescriptionVersion int64

	// TimestampSeconds is the Unix epoch seconds of the reading.
	TimestampSeconds int64

	// TimestampNanoseconds is the sub-second part, 0..999,999,999.
	TimestampNanoseconds int32

	// SequenceNumber is the per-source monotonic counter. Producers own
	// monotonicity; the codec does not enforce it.
	SequenceNumber int64

	// BufferBytes is the primary opaque payload.
	BufferBytes []byte

	// BufferTwoBytes is the secondary opaque payload.
	BufferTwoBytes []byte
}

// Validate checks the field ranges that the wire formats cannot express.
func (p DevicePacket) Validate() error {
	if p.TimestampNanoseconds < 0 || p.TimestampNanoseconds > MaxNanoseconds {
		return fmt.Errorf("%w: timestampNanoseconds %d not in 0..%d",
			ErrFieldOutOfRange, p.TimestampNanoseconds, MaxNanoseconds)
	}
	return nil
}

// Time returns the reading timestamp in UTC.
func (p DevicePacket) Time() time.Time {
	return time.Unix(p.TimestampSeconds, int64(p.TimestampNanoseconds)).UTC()
}

// WithTime returns a copy of p with the timestamp fields set from t.
func (p DevicePacket) WithTime(t time.Time) DevicePacket {
	p.TimestampSeconds = t.Unix()
	p.TimestampNanoseconds = int32(t.Nanosecond()) // #nosec G115 -- Nanosecond() is 0..999,999,999
	return p
}

// Equal reports whether p and other carry the same field values.
// Nil and empty byte slices compare equal.
func (p DevicePacket) Equal(other DevicePacket) bool {
	return p.SourceID == other.SourceID &&
		p.ParentID == other.ParentID &&
		p.PacketType == other.PacketType &&
		p.PacketSubType == other.PacketSubType &&
		p.MetadataSequenceNumber == other.MetadataSequenceNumber &&
		p.DataDescriptionVersion == other.DataDescriptionVersion &&
		p.TimestampSeconds == other.TimestampSeconds &&
		p.TimestampNanoseconds == other.TimestampNanoseconds &&
		p.SequenceNumber == other.SequenceNumber &&
		bytes.Equal(p.BufferBytes, other.BufferBytes) &&
		bytes.Equal(p.BufferTwoBytes, other.BufferTwoBytes)
}

// Key returns the packet's content address: the hex BLAKE3-256 digest of
// its canonical encoding. Equal packets always have equal keys.
func (p DevicePacket) Key() (string, error) {
	data, err := Encode(p)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// String returns a compact, log-friendly summary. Buffers are reported by
// length only.
func (p DevicePacket) String() string {
	return fmt.Sprintf("source=%d parent=%d type=%d/%d seq=%d ts=%s buf=%d buf2=%d",
		p.SourceID, p.ParentID, p.PacketType, p.PacketSubType, p.SequenceNumber,
		p.Time().Format(time.RFC3339Nano), len(p.BufferBytes), len(p.BufferTwoBytes))
}

// normalise replaces nil buffers with empty slices so decoded packets are
// total: an unset buffer is empty, never absent.
func (p *DevicePacket) normalise() {
	if p.BufferBytes == nil {
		p.BufferBytes = []byte{}
	}
	if p.BufferTwoBytes == nil {
		p.BufferTwoBytes = []byte{}
	}
}
