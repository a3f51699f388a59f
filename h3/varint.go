package h3

import (
	"bytes"
	"io"

	"github.com/lucas-clemente/quic-go/quicvarint"
)

// varintLen returns the number of bytes a QUIC varint occupies given its
// first byte, per the two-bit length tag in RFC 9000 §16.
func varintLen(firstByte byte) int {
	switch firstByte >> 6 {
	case 0:
		return 1
	case 1:
		return 2
	case 2:
		return 4
	default:
		return 8
	}
}

// decodeVarint decodes a complete, already-length-checked varint buffer.
func decodeVarint(buf []byte) uint64 {
	switch len(buf) {
	case 1:
		return uint64(buf[0] & 0x3f)
	case 2:
		return uint64(buf[0]&0x3f)<<8 | uint64(buf[1])
	case 4:
		return uint64(buf[0]&0x3f)<<24 | uint64(buf[1])<<16 | uint64(buf[2])<<8 | uint64(buf[3])
	default:
		v := uint64(buf[0] & 0x3f)
		for _, b := range buf[1:] {
			v = v<<8 | uint64(b)
		}
		return v
	}
}

// varintAccumulator is a restartable, byte-at-a-time QUIC varint reader.
// Bytes may arrive split across any number of calls to feed, reflecting
// network chunk boundaries; the accumulator never assumes a full varint
// is available in one call (spec §4.2: "must be read byte-by-byte across
// network chunk boundaries; the parser is restartable").
type varintAccumulator struct {
	buf [8]byte
	n   int
}

// reset clears the accumulator so it can parse the next varint.
func (a *varintAccumulator) reset() {
	a.n = 0
}

// feed consumes as many bytes of in as are needed to complete one varint.
// It returns the decoded value, the number of input bytes consumed, and
// whether the varint is now complete. When done is false, the caller must
// feed the remaining unconsumed bytes (if any) on a subsequent call, once
// more data has arrived.
func (a *varintAccumulator) feed(in []byte) (value uint64, consumed int, done bool) {
	for consumed < len(in) {
		if a.n == 0 {
			a.buf[0] = in[consumed]
			a.n = 1
			consumed++
		}
		need := varintLen(a.buf[0])
		for a.n < need && consumed < len(in) {
			a.buf[a.n] = in[consumed]
			a.n++
			consumed++
		}
		if a.n >= need {
			value = decodeVarint(a.buf[:need])
			a.reset()
			return value, consumed, true
		}
	}
	return 0, consumed, false
}

// writeVarint appends the QUIC varint encoding of v to w, using the
// transport's own writer so the wire format always matches what the
// real QUIC stack expects on the other encoder path.
func writeVarint(w io.Writer, v uint64) error {
	vw := quicvarint.NewWriter(w)
	return quicvarint.Write(vw, v)
}

// appendVarint is the buffer-oriented counterpart of writeVarint, used
// when building a frame in a stack buffer rather than streaming to a
// stream writer.
func appendVarint(buf []byte, v uint64) []byte {
	var b bytes.Buffer
	_ = writeVarint(&b, v)
	return append(buf, b.Bytes()...)
}

// varintSize reports how many bytes v would occupy once encoded,
// mirroring quicvarint.Len without requiring an io.Writer round-trip.
func varintSize(v uint64) int {
	return int(quicvarint.Len(v))
}
