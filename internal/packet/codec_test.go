package packet

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

// samplePacket mirrors the packet used by the SSDS protobuf smoke test.
func samplePacket() DevicePacket {
	return DevicePacket{
		SourceID:               101,
		ParentID:               100,
		PacketType:             0,
		PacketSubType:          1,
		MetadataSequenceNumber: 199,
		DataDescriptionVersion: 199,
		TimestampSeconds:       0,
		TimestampNanoseconds:   0,
		SequenceNumber:         200,
		BufferBytes:            []byte("First Buffer Bytes"),
		BufferTwoBytes:         []byte("Second Buffer Bytes"),
	}
}

var allCodecs = []Codec{Canonical, Message, Legacy}

// ===== Round-trip Tests =====

func TestCodecs_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		p    DevicePacket
	}{
		{"sample", samplePacket()},
		{"zero value", DevicePacket{}},
		{"empty buffers", DevicePacket{SourceID: 7, SequenceNumber: 1, BufferBytes: []byte{}, BufferTwoBytes: nil}},
		{"only second buffer", DevicePacket{SourceID: 7, BufferTwoBytes: []byte{0x00, 0xff}}},
		{"max nanoseconds", DevicePacket{TimestampSeconds: 1_700_000_000, TimestampNanoseconds: MaxNanoseconds}},
		{"negative seconds", DevicePacket{TimestampSeconds: -1, TimestampNanoseconds: 1}},
		{"int64 extremes", DevicePacket{
			SourceID:               math.MaxInt64,
			ParentID:               math.MinInt64,
			MetadataSequenceNumber: -1,
			DataDescriptionVersion: math.MaxInt64,
			TimestampSeconds:       math.MinInt64,
			SequenceNumber:         math.MaxInt64,
		}},
		{"int32 extremes", DevicePacket{PacketType: math.MinInt32, PacketSubType: math.MaxInt32}},
		{"negative packet type", DevicePacket{PacketType: -1, PacketSubType: -42}},
		{"large payload", DevicePacket{SourceID: 1, BufferBytes: bytes.Repeat([]byte{0xab}, 70_000)}},
	}

	for _, codec := range allCodecs {
		for _, tt := range tests {
			t.Run(codec.ContentType()+"/"+tt.name, func(t *testing.T) {
				data, err := codec.Encode(tt.p)
				if err != nil {
					t.Fatalf("Encode() error = %v", err)
				}

				got, err := codec.Decode(data)
				if err != nil {
					t.Fatalf("Decode() error = %v", err)
				}

				if !got.Equal(tt.p) {
					t.Errorf("Decode(Encode(p)) = %v, want %v", got, tt.p)
				}
				if got.BufferBytes == nil || got.BufferTwoBytes == nil {
					t.Error("decoded buffers must be non-nil")
				}
			})
		}
	}
}

func TestDecode_DoesNotAliasInput(t *testing.T) {
	for _, codec := range allCodecs {
		t.Run(codec.ContentType(), func(t *testing.T) {
			data, err := codec.Encode(samplePacket())
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			got, err := codec.Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			for i := range data {
				data[i] = 0xEE
			}

			if string(got.BufferBytes) != "First Buffer Bytes" {
				t.Errorf("BufferBytes = %q after input mutation", got.BufferBytes)
			}
			if string(got.BufferTwoBytes) != "Second Buffer Bytes" {
				t.Errorf("BufferTwoBytes = %q after input mutation", got.BufferTwoBytes)
			}
		})
	}
}

// ===== Determinism Tests =====

func TestEncode_KnownBytes(t *testing.T) {
	p := DevicePacket{SourceID: 1}

	got, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	want := []byte{
		0x12, // body length 18
		0x08, 0x01, 0x10, 0x00, 0x18, 0x00, 0x20, 0x00, 0x28, 0x00,
		0x30, 0x00, 0x38, 0x00, 0x40, 0x00, 0x48, 0x00,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = % x, want % x", got, want)
	}
}

func TestEncode_Deterministic(t *testing.T) {
	a := samplePacket()
	b := samplePacket()

	ea, err := Encode(a)
	if err != nil {
		t.Fatalf("Encode(a) error = %v", err)
	}
	eb, err := Encode(b)
	if err != nil {
		t.Fatalf("Encode(b) error = %v", err)
	}
	if !bytes.Equal(ea, eb) {
		t.Error("equal packets produced different encodings")
	}

	// Nil and empty buffers are the same value.
	a.BufferTwoBytes = nil
	b.BufferTwoBytes = []byte{}
	ea, _ = Encode(a)
	eb, _ = Encode(b)
	if !bytes.Equal(ea, eb) {
		t.Error("nil and empty buffers produced different encodings")
	}
}

func TestEncode_NanosecondsOutOfRange(t *testing.T) {
	for _, nanos := range []int32{-1, MaxNanoseconds + 1} {
		p := DevicePacket{TimestampNanoseconds: nanos}
		for _, codec := range allCodecs {
			if _, err := codec.Encode(p); !errors.Is(err, ErrFieldOutOfRange) {
				t.Errorf("%s Encode(nanos=%d) error = %v, want ErrFieldOutOfRange", codec.ContentType(), nanos, err)
			}
		}
	}
}

// ===== Truncation Tests =====

func TestDecode_EveryPrefixTruncated(t *testing.T) {
	for _, codec := range []Codec{Canonical, Legacy} {
		t.Run(codec.ContentType(), func(t *testing.T) {
			data, err := codec.Encode(samplePacket())
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			for n := 0; n < len(data); n++ {
				_, err := codec.Decode(data[:n])
				if !errors.Is(err, ErrTruncated) {
					t.Fatalf("Decode(prefix %d/%d) error = %v, want ErrTruncated", n, len(data), err)
				}
			}
		})
	}
}

func TestMessageDecode_TruncatedMidField(t *testing.T) {
	data, err := Message.Encode(samplePacket())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// Cut inside the bufferBytes payload.
	cut := bytes.Index(data, []byte("First")) + 3
	if _, err := Message.Decode(data[:cut]); !errors.Is(err, ErrTruncated) {
		t.Errorf("Decode() error = %v, want ErrTruncated", err)
	}
}

// ===== Malformed Input Tests =====

func buildBody(fields ...func([]byte) []byte) []byte {
	var b []byte
	for _, f := range fields {
		b = f(b)
	}
	return b
}

func varintField(num protowire.Number, v uint64) func([]byte) []byte {
	return func(b []byte) []byte {
		b = protowire.AppendTag(b, num, protowire.VarintType)
		return protowire.AppendVarint(b, v)
	}
}

func requiredScalars(except protowire.Number) []func([]byte) []byte {
	var fields []func([]byte) []byte
	for num := fieldSourceID; num <= fieldSequenceNumber; num++ {
		if num == except {
			continue
		}
		fields = append(fields, varintField(num, 1))
	}
	return fields
}

func TestMessageDecode_Errors(t *testing.T) {
	withBytesSourceID := buildBody(func(b []byte) []byte {
		b = protowire.AppendTag(b, fieldSourceID, protowire.BytesType)
		return protowire.AppendBytes(b, []byte("x"))
	})

	withVarintBuffer := buildBody(append(requiredScalars(0), varintField(fieldBufferBytes, 3))...)

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{
			name:    "missing sequenceNumber",
			data:    buildBody(requiredScalars(fieldSequenceNumber)...),
			wantErr: ErrMissingField,
		},
		{
			name:    "missing everything",
			data:    nil,
			wantErr: ErrMissingField,
		},
		{
			name:    "wrong wire type for scalar",
			data:    withBytesSourceID,
			wantErr: ErrMalformed,
		},
		{
			name:    "wrong wire type for buffer",
			data:    withVarintBuffer,
			wantErr: ErrMalformed,
		},
		{
			name:    "field number zero",
			data:    []byte{0x00, 0x01},
			wantErr: ErrMalformed,
		},
		{
			name:    "packetType above int32",
			data:    buildBody(append(requiredScalars(fieldPacketType), varintField(fieldPacketType, 1<<40))...),
			wantErr: ErrFieldOutOfRange,
		},
		{
			name:    "nanoseconds above range",
			data:    buildBody(append(requiredScalars(fieldTimestampNanoseconds), varintField(fieldTimestampNanoseconds, 1_000_000_000))...),
			wantErr: ErrFieldOutOfRange,
		},
		{
			name:    "truncated varint",
			data:    []byte{0x08, 0x80},
			wantErr: ErrTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Message.Decode(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageDecode_SkipsUnknownFields(t *testing.T) {
	fields := requiredScalars(0)
	fields = append(fields, varintField(15, 99), func(b []byte) []byte {
		b = protowire.AppendTag(b, 16, protowire.BytesType)
		return protowire.AppendBytes(b, []byte("future"))
	})

	p, err := Message.Decode(buildBody(fields...))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if p.SourceID != 1 || p.SequenceNumber != 1 {
		t.Errorf("Decode() = %v, want all scalars 1", p)
	}
}

func TestCanonicalDecode_TrailingBytes(t *testing.T) {
	data, err := Encode(samplePacket())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	_, err = Decode(append(data, 0x00))
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("Decode() error = %v, want ErrMalformed", err)
	}
}

func TestLegacyDecode_Errors(t *testing.T) {
	valid, err := Legacy.Encode(samplePacket())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	negativeLen := append([]byte{}, valid[:legacyHeaderSize]...)
	negativeLen = append(negativeLen, 0xff, 0xff, 0xff, 0xff)

	badNanos := append([]byte{}, valid...)
	// timestampNanoseconds is the 8th field, after 6*8 + 4 bytes.
	copy(badNanos[6*8+4:], []byte{0, 0, 0, 0, 0x3b, 0x9a, 0xca, 0x00}) // 1e9

	badSubType := append([]byte{}, valid...)
	copy(badSubType[2*8+4:], []byte{0, 0, 0, 1, 0, 0, 0, 0})

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"trailing bytes", append(append([]byte{}, valid...), 0x01), ErrMalformed},
		{"negative buffer length", negativeLen, ErrFieldOutOfRange},
		{"nanoseconds out of range", badNanos, ErrFieldOutOfRange},
		{"subtype out of int32 range", badSubType, ErrFieldOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Legacy.Decode(tt.data); !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLegacyEncode_Layout(t *testing.T) {
	data, err := Legacy.Encode(samplePacket())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	want := legacyHeaderSize + 4 + len("First Buffer Bytes") + 4 + len("Second Buffer Bytes")
	if len(data) != want {
		t.Fatalf("len(Encode()) = %d, want %d", len(data), want)
	}

	// sourceID 101 big-endian in the first eight bytes.
	if !bytes.Equal(data[:8], []byte{0, 0, 0, 0, 0, 0, 0, 101}) {
		t.Errorf("sourceID bytes = % x", data[:8])
	}
}

// ===== CodecFor Tests =====

func TestCodecFor(t *testing.T) {
	tests := []struct {
		contentType string
		want        Codec
	}{
		{"", Canonical},
		{ContentTypeCanonical, Canonical},
		{"application/octet-stream", Canonical},
		{ContentTypeMessage, Message},
		{"application/x-protobuf; proto=ssds.MessagePacket", Message},
		{"APPLICATION/X-SSDS-LEGACY", Legacy},
		{"  application/x-ssds-legacy  ", Legacy},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			if got := CodecFor(tt.contentType); got != tt.want {
				t.Errorf("CodecFor(%q) = %s, want %s", tt.contentType, got.ContentType(), tt.want.ContentType())
			}
		})
	}
}
