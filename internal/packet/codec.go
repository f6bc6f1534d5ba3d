package packet

import (
	"mime"
	"strings"
)

// Content types identifying each encoding on the broker.
const (
	// ContentTypeCanonical is the length-prefixed protobuf encoding.
	ContentTypeCanonical = "application/x-ssds-devicepacket"

	// ContentTypeMessage is the bare protobuf message body.
	ContentTypeMessage = "application/x-protobuf"

	// ContentTypeLegacy is the pre-protobuf SSDS big-endian layout.
	ContentTypeLegacy = "application/x-ssds-legacy"
)

// Codec converts device packets to and from one binary encoding.
//
// Implementations are stateless and safe for concurrent use.
type Codec interface {
	// Encode returns the binary form of p. It fails only when p holds a
	// value the encoding cannot represent (ErrFieldOutOfRange).
	Encode(p DevicePacket) ([]byte, error)

	// Decode parses data. The returned packet never aliases data.
	Decode(data []byte) (DevicePacket, error)

	// ContentType is the MIME type published alongside encoded bodies.
	ContentType() string
}

// Registered codecs.
var (
	// Canonical is the default codec for publishing.
	Canonical Codec = framedCodec{}

	// Message handles bare protobuf message bodies.
	Message Codec = messageCodec{}

	// Legacy handles the SSDS fixed big-endian layout.
	Legacy Codec = legacyCodec{}
)

// CodecFor returns the codec registered for contentType. Parameters such
// as charset are ignored. Empty or unknown content types map to Canonical.
func CodecFor(contentType string) Codec {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	switch mediaType {
	case ContentTypeMessage:
		return Message
	case ContentTypeLegacy:
		return Legacy
	default:
		return Canonical
	}
}

// Encode encodes p with the canonical codec.
func Encode(p DevicePacket) ([]byte, error) {
	return Canonical.Encode(p)
}

// Decode decodes data with the canonical codec.
func Decode(data []byte) (DevicePacket, error) {
	return Canonical.Decode(data)
}
