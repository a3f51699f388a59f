package h3

// frameType identifies an HTTP/3 frame as it appears on a request or
// push stream (spec §4.2, §6).
type frameType uint64

const (
	frameTypeData                frameType = 0x00
	frameTypeHeaders              frameType = 0x01
	frameTypeSettings             frameType = 0x04
	frameTypeWebTransportStream  frameType = 0x41 // reserved bidir frame, requires a context-id
)

// streamType identifies a unidirectional stream by its leading varint
// (spec §4.2, §6).
type streamType uint64

const (
	streamTypeControl         streamType = 0x00
	streamTypePush            streamType = 0x01
	streamTypeQPACKEncoder    streamType = 0x02
	streamTypeQPACKDecoder    streamType = 0x03
	streamTypeWebTransport    streamType = 0x54
)

func (t streamType) String() string {
	switch t {
	case streamTypeControl:
		return "control"
	case streamTypePush:
		return "push"
	case streamTypeQPACKEncoder:
		return "qpack-encoder"
	case streamTypeQPACKDecoder:
		return "qpack-decoder"
	case streamTypeWebTransport:
		return "webtransport"
	default:
		return "unknown"
	}
}

// defaultSettingsFrame is the canonical SETTINGS payload this engine
// advertises: a SETTINGS frame (type 0x04) of zero length. Dynamic QPACK
// tables are never used (Non-goal), so every QPACK setting is left at
// its default of zero and omitted entirely, matching the original
// h3zero_default_setting_frame constant it is grounded on.
var defaultSettingsFrame = []byte{byte(frameTypeSettings), 0x00}

// writeHeadersFrameTag appends the HEADERS frame's type tag and a
// two-byte length placeholder, returning the buffer and the offset of
// the length placeholder so the caller can patch it in once the
// payload size is known (spec §6: "length is written as 0x4000 | len
// per QUIC varint two-byte encoding").
func writeHeadersFrameTag(buf []byte) (out []byte, lenOffset int) {
	out = append(buf, byte(frameTypeHeaders))
	lenOffset = len(out)
	out = append(out, 0, 0)
	return out, lenOffset
}

// patchHeadersLength writes the big-endian two-byte QUIC varint encoding
// of length into buf[offset:offset+2]. length must fit in 14 bits
// (<= 0x3FFF); the request processor's inline header buffer never
// produces headers anywhere near that size.
func patchHeadersLength(buf []byte, offset int, length int) {
	buf[offset] = byte((length>>8)&0x3f) | 0x40
	buf[offset+1] = byte(length & 0xff)
}

// writeDataFrameTag appends a DATA frame tag and its varint body length.
func writeDataFrameTag(buf []byte, bodyLength uint64) []byte {
	buf = append(buf, byte(frameTypeData))
	return appendVarint(buf, bodyLength)
}
