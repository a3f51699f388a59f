package h3

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("varintAccumulator", func() {
	It("decodes a one-byte varint delivered in a single call", func() {
		var a varintAccumulator
		v, n, done := a.feed([]byte{0x25})
		Expect(done).To(BeTrue())
		Expect(n).To(Equal(1))
		Expect(v).To(Equal(uint64(0x25)))
	})

	It("decodes a four-byte varint split across arbitrary chunk boundaries", func() {
		// 0x9d7f3e7d -> top two bits 10 => 4-byte encoding, value = 0x1d7f3e7d
		full := []byte{0x9d, 0x7f, 0x3e, 0x7d}
		var a varintAccumulator
		var got uint64
		var gotDone bool
		for _, b := range full {
			v, n, done := a.feed([]byte{b})
			Expect(n).To(Equal(1))
			if done {
				got = v
				gotDone = true
			}
		}
		Expect(gotDone).To(BeTrue())
		Expect(got).To(Equal(uint64(0x1d7f3e7d)))
	})

	It("leaves unconsumed bytes for the caller when a varint completes mid-buffer", func() {
		var a varintAccumulator
		// 0x05 (1-byte varint, value 5) followed by trailing bytes.
		v, n, done := a.feed([]byte{0x05, 0xAA, 0xBB})
		Expect(done).To(BeTrue())
		Expect(v).To(Equal(uint64(5)))
		Expect(n).To(Equal(1))
	})

	It("is restartable after completing a varint", func() {
		var a varintAccumulator
		_, _, done := a.feed([]byte{0x05})
		Expect(done).To(BeTrue())
		v, _, done := a.feed([]byte{0x07})
		Expect(done).To(BeTrue())
		Expect(v).To(Equal(uint64(7)))
	})
})

var _ = Describe("appendVarint/varintSize", func() {
	It("round-trips small and large values", func() {
		for _, v := range []uint64{0, 1, 63, 64, 16383, 16384, 1 << 30} {
			buf := appendVarint(nil, v)
			Expect(len(buf)).To(Equal(varintSize(v)))

			var a varintAccumulator
			got, n, done := a.feed(buf)
			Expect(done).To(BeTrue())
			Expect(n).To(Equal(len(buf)))
			Expect(got).To(Equal(v))
		}
	})
})

var _ = Describe("frame tag helpers", func() {
	It("patches a HEADERS length placeholder with a two-byte varint", func() {
		buf, offset := writeHeadersFrameTag(nil)
		Expect(buf[0]).To(Equal(byte(frameTypeHeaders)))
		patchHeadersLength(buf, offset, 10)
		Expect(buf[offset] & 0xc0).To(Equal(byte(0x40)))

		var a varintAccumulator
		got, _, done := a.feed(buf[offset:])
		Expect(done).To(BeTrue())
		Expect(got).To(Equal(uint64(10)))
	})

	It("writes a DATA frame tag with its body length", func() {
		buf := writeDataFrameTag(nil, 300)
		Expect(buf[0]).To(Equal(byte(frameTypeData)))

		var a varintAccumulator
		got, n, done := a.feed(buf[1:])
		Expect(done).To(BeTrue())
		Expect(got).To(Equal(uint64(300)))
		Expect(n).To(Equal(len(buf) - 1))
	})
})
