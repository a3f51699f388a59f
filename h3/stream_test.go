package h3

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("ConnContext stream index", func() {
	It("creates a stream on first lookup and reuses it afterward", func() {
		c := NewConnContext(nil, false)
		s1, created1 := c.findOrCreateStream(4, true)
		Expect(created1).To(BeTrue())
		s2, created2 := c.findOrCreateStream(4, true)
		Expect(created2).To(BeFalse())
		Expect(s2).To(BeIdenticalTo(s1))
	})

	It("allows deleting a stream while a range loop is visiting Streams()", func() {
		c := NewConnContext(nil, false)
		c.findOrCreateStream(0, true)
		c.findOrCreateStream(4, true)
		c.findOrCreateStream(8, true)

		for id := range c.Streams() {
			if id == 4 {
				c.deleteStream(id)
			}
		}
		Expect(c.Streams()).To(HaveLen(2))
	})

	It("clears every stream on clearAllStreams", func() {
		c := NewConnContext(nil, false)
		c.findOrCreateStream(0, true)
		c.findOrCreateStream(4, true)
		c.clearAllStreams()
		Expect(c.Streams()).To(BeEmpty())
	})
})

var _ = Describe("ConnContext prefix registry", func() {
	It("finds a declared prefix by its control stream id", func() {
		c := NewConnContext(nil, false)
		h := &recordingHandler{}
		_, err := c.declarePrefix(4, []byte("/wt"), h)
		Expect(err).NotTo(HaveOccurred())

		found := c.findPrefix(4)
		Expect(found).NotTo(BeNil())
		Expect(found.Handler).To(BeIdenticalTo(Handler(h)))
	})

	It("rejects a second declare for a control stream id already registered", func() {
		c := NewConnContext(nil, false)
		h1 := &recordingHandler{}
		h2 := &recordingHandler{}

		_, err := c.declarePrefix(4, []byte("/wt"), h1)
		Expect(err).NotTo(HaveOccurred())

		_, err = c.declarePrefix(4, []byte("/other"), h2)
		Expect(err).To(MatchError(ErrPrefixAlreadyDeclared))

		found := c.findPrefix(4)
		Expect(found.Handler).To(BeIdenticalTo(Handler(h1)))
		Expect(c.prefixes.Len()).To(Equal(1))
	})

	It("frees every handler exactly once, even if a handler deletes its own prefix during EventFree", func() {
		c := NewConnContext(nil, false)
		var freed []uint64

		var h2 *selfDeletingHandler
		h1 := HandlerFunc(func(stream *StreamContext, event Event, data []byte, buf []byte) (int, error) {
			if event == EventFree {
				freed = append(freed, 1)
			}
			return 0, nil
		})
		h2 = &selfDeletingHandler{conn: c, freed: &freed}

		c.declarePrefix(1, []byte("/a"), h1)
		e2, _ := c.declarePrefix(2, []byte("/b"), h2)
		h2.entry = e2

		c.deleteAllPrefixes()
		Expect(freed).To(Equal([]uint64{1, 2}))
		Expect(c.prefixes.Len()).To(Equal(0))
	})
})

// selfDeletingHandler exercises h3zero_delete_all_stream_prefixes's
// re-entrancy guard: its own EventFree callback removes its entry from
// the registry before deleteAllPrefixes would have, so the loop must
// tolerate a prefix disappearing out from under it.
type selfDeletingHandler struct {
	conn  *ConnContext
	entry *prefixEntry
	freed *[]uint64
}

func (h *selfDeletingHandler) Handle(stream *StreamContext, event Event, data []byte, buf []byte) (int, error) {
	if event == EventFree {
		h.conn.deletePrefix(h.entry)
		*h.freed = append(*h.freed, 2)
	}
	return 0, nil
}
