package h3

import (
	"github.com/golang/mock/gomock"
	"github.com/lucas-clemente/quic-go"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// fakeSendStream is the write-only unidirectional stream handed out by
// fakeTransport.OpenUniStream, recording whatever InitProtocol writes
// to it.
type fakeSendStream struct {
	id  uint64
	buf []byte
}

func (s *fakeSendStream) StreamID() uint64 { return s.id }
func (s *fakeSendStream) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// fakeTransport is a minimal, in-memory Transport double: it records
// every WriteStream call instead of sending to a real QUIC connection,
// and hands out sequentially numbered unidirectional streams.
type fakeTransport struct {
	nextUniID uint64
	uniOpened []*fakeSendStream

	writes []struct {
		streamID uint64
		data     []byte
		fin      bool
	}
	reset   map[uint64]quic.StreamErrorCode
	active  map[uint64]bool
	closed  bool

	flowControlOpened []struct {
		streamID uint64
		length   uint64
	}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		reset:  make(map[uint64]quic.StreamErrorCode),
		active: make(map[uint64]bool),
	}
}

func (t *fakeTransport) OpenUniStream() (SendStream, error) {
	s := &fakeSendStream{id: t.nextUniID}
	t.nextUniID += 4 // plausible unidir stream ID spacing
	t.uniOpened = append(t.uniOpened, s)
	return s, nil
}

func (t *fakeTransport) WriteStream(streamID uint64, p []byte, fin bool) error {
	cp := append([]byte(nil), p...)
	t.writes = append(t.writes, struct {
		streamID uint64
		data     []byte
		fin      bool
	}{streamID, cp, fin})
	return nil
}

func (t *fakeTransport) ResetStream(streamID uint64, code quic.StreamErrorCode) error {
	t.reset[streamID] = code
	return nil
}

func (t *fakeTransport) StopSending(streamID uint64, code quic.StreamErrorCode) error {
	t.reset[streamID] = code
	return nil
}

func (t *fakeTransport) MarkStreamActive(streamID uint64) error {
	t.active[streamID] = true
	return nil
}

func (t *fakeTransport) OpenFlowControl(streamID uint64, length uint64) error {
	t.flowControlOpened = append(t.flowControlOpened, struct {
		streamID uint64
		length   uint64
	}{streamID, length})
	return nil
}

func (t *fakeTransport) CloseWithError(code quic.ApplicationErrorCode, reason string) error {
	t.closed = true
	return nil
}

var _ = Describe("Engine.InitProtocol", func() {
	It("opens control, encoder, and decoder streams in order with the right type bytes", func() {
		tr := newFakeTransport()
		e := NewEngine(tr, false, nil)

		Expect(e.InitProtocol()).To(Succeed())
		Expect(tr.uniOpened).To(HaveLen(3))
		Expect(tr.uniOpened[0].buf[0]).To(Equal(byte(streamTypeControl)))
		Expect(tr.uniOpened[1].buf[0]).To(Equal(byte(streamTypeQPACKEncoder)))
		Expect(tr.uniOpened[2].buf[0]).To(Equal(byte(streamTypeQPACKDecoder)))
		Expect(e.Conn.LocalControlStreamID).To(Equal(tr.uniOpened[0].id))
	})
})

var _ = Describe("Engine.HandleStreamData (server role)", func() {
	It("answers a GET / with the default welcome page", func() {
		tr := newFakeTransport()
		e := NewEngine(tr, false, PathTable{})

		wire := framedRequest("GET", "/", "", nil)
		Expect(e.HandleStreamData(0, wire, true)).To(Succeed())

		Expect(tr.writes).NotTo(BeEmpty())
		last := tr.writes[len(tr.writes)-1]
		Expect(last.fin).To(BeTrue())
		Expect(last.data).NotTo(BeEmpty())
	})

	It("binds a POST handler and immediately delivers post_fin when the body and FIN arrive in the same read", func() {
		// The body bytes land before the handler is bound (binding only
		// happens once the whole request, including FIN, has been seen),
		// so they are not replayed as post_data -- matching
		// h3zero_process_request_frame's own bind-then-post_fin call for
		// a request that arrives in a single shot.
		ctrl := gomock.NewController(GinkgoT())
		defer ctrl.Finish()

		h := NewMockHandler(ctrl)
		gomock.InOrder(
			h.EXPECT().Handle(gomock.Any(), EventPost, nil, nil).Return(0, nil),
			h.EXPECT().Handle(gomock.Any(), EventPostFin, nil, nil).Return(0, nil),
		)

		tr := newFakeTransport()
		e := NewEngine(tr, false, PathTable{{Prefix: "/upload", Handler: h}})

		wire := framedRequest("POST", "/upload", "text/plain", []byte("payload"))
		Expect(e.HandleStreamData(0, wire, true)).To(Succeed())
	})

	It("binds a CONNECT handler immediately, then streams later data as post_data/post_fin", func() {
		// Unlike POST, CONNECT binds as soon as its HEADERS frame is seen
		// (processConnect never waits for fin), so data arriving on a
		// later read reaches the already-bound handler as post_data.
		ctrl := gomock.NewController(GinkgoT())
		defer ctrl.Finish()

		h := NewMockHandler(ctrl)
		gomock.InOrder(
			h.EXPECT().Handle(gomock.Any(), EventConnect, []byte("/wt"), nil).Return(0, nil),
			h.EXPECT().Handle(gomock.Any(), EventPostData, []byte("more"), nil).Return(0, nil),
			h.EXPECT().Handle(gomock.Any(), EventPostFin, nil, nil).Return(0, nil),
		)

		tr := newFakeTransport()
		e := NewEngine(tr, false, PathTable{{Prefix: "/wt", Handler: h}})

		connectHeaders := framedRequest("CONNECT", "/wt", "", nil)
		Expect(e.HandleStreamData(0, connectHeaders, false)).To(Succeed())

		more := writeDataFrameTag(nil, 4)
		more = append(more, []byte("more")...)
		Expect(e.HandleStreamData(0, more, true)).To(Succeed())
	})

	It("does not re-run the request processor on a second FIN notification", func() {
		tr := newFakeTransport()
		e := NewEngine(tr, false, PathTable{})

		wire := framedRequest("GET", "/", "", nil)
		Expect(e.HandleStreamData(0, wire, true)).To(Succeed())
		writesAfterFirst := len(tr.writes)

		Expect(e.HandleStreamData(0, nil, true)).To(Succeed())
		Expect(tr.writes).To(HaveLen(writesAfterFirst))
	})
})

var _ = Describe("Engine.HandleStreamData (WebTransport)", func() {
	It("binds a unidirectional WebTransport stream to the prefix's handler and forwards subsequent bytes as post_data", func() {
		ctrl := gomock.NewController(GinkgoT())
		defer ctrl.Finish()

		h := NewMockHandler(ctrl)
		h.EXPECT().Handle(gomock.Any(), EventPostData, []byte("payload"), nil).Return(0, nil)

		tr := newFakeTransport()
		e := NewEngine(tr, false, PathTable{})
		e.Conn.declarePrefix(42, nil, h)

		var wire []byte
		wire = appendVarint(wire, uint64(streamTypeWebTransport))
		wire = appendVarint(wire, 42)
		wire = append(wire, []byte("payload")...)

		const unidirStreamID = uint64(2) // client-initiated unidirectional
		Expect(e.HandleStreamData(unidirStreamID, wire, false)).To(Succeed())
	})

	It("resets the stream, not the connection, when the context-id names no registered prefix", func() {
		tr := newFakeTransport()
		e := NewEngine(tr, false, PathTable{})

		var wire []byte
		wire = appendVarint(wire, uint64(streamTypeWebTransport))
		wire = appendVarint(wire, 99)

		const unidirStreamID = uint64(2)
		Expect(e.HandleStreamData(unidirStreamID, wire, false)).To(Succeed())
		Expect(tr.reset[unidirStreamID]).To(Equal(quic.StreamErrorCode(errorWebTransportBufferedStreamRejected)))
	})

	It("rejects a push stream by resetting only it, leaving sibling streams unaffected", func() {
		tr := newFakeTransport()
		e := NewEngine(tr, false, PathTable{})

		const pushStreamID = uint64(2)
		Expect(e.HandleStreamData(pushStreamID, []byte{byte(streamTypePush)}, false)).To(Succeed())
		Expect(tr.reset).To(HaveKey(pushStreamID))
		Expect(tr.reset[pushStreamID]).To(Equal(quic.StreamErrorCode(errorIDError)))

		wire := framedRequest("GET", "/", "", nil)
		Expect(e.HandleStreamData(0, wire, true)).To(Succeed())
		Expect(tr.writes).NotTo(BeEmpty())
	})

	It("binds a bidir WebTransport tunnel and forwards data/fin to the prefix's handler", func() {
		ctrl := gomock.NewController(GinkgoT())
		defer ctrl.Finish()

		h := NewMockHandler(ctrl)
		gomock.InOrder(
			h.EXPECT().Handle(gomock.Any(), EventPostData, []byte("hi"), nil).Return(0, nil),
			h.EXPECT().Handle(gomock.Any(), EventPostFin, nil, nil).Return(0, nil),
		)

		tr := newFakeTransport()
		e := NewEngine(tr, false, PathTable{})
		e.Conn.declarePrefix(7, nil, h)

		var wire []byte
		wire = appendVarint(wire, uint64(frameTypeWebTransportStream))
		wire = appendVarint(wire, 7)
		wire = append(wire, []byte("hi")...)

		const streamID = uint64(4) // client-initiated bidir
		Expect(e.HandleStreamData(streamID, wire, true)).To(Succeed())
		Expect(e.Conn.findStream(streamID)).To(BeNil())
	})
})

var _ = Describe("Engine.HandleStreamData (client role)", func() {
	It("delivers a response through a pre-bound handler and frees the stream on fin", func() {
		ctrl := gomock.NewController(GinkgoT())
		defer ctrl.Finish()

		h := NewMockHandler(ctrl)
		gomock.InOrder(
			h.EXPECT().Handle(gomock.Any(), EventPostData, []byte("hello"), nil).Return(0, nil),
			h.EXPECT().Handle(gomock.Any(), EventPostFin, nil, nil).Return(0, nil),
		)

		tr := newFakeTransport()
		e := NewEngine(tr, true, nil)

		const streamID = uint64(0)
		stream, _ := e.Conn.findOrCreateStream(streamID, true)
		stream.Handler = h
		stream.HandlerBound = true

		wire := framedRequest("GET", "", "", []byte("hello"))
		Expect(e.HandleStreamData(streamID, wire, true)).To(Succeed())

		Expect(e.Conn.findStream(streamID)).To(BeNil())
	})

	It("widens flow control before delivering a DATA frame announced at 2^20 bytes or more", func() {
		ctrl := gomock.NewController(GinkgoT())
		defer ctrl.Finish()

		h := NewMockHandler(ctrl)
		h.EXPECT().Handle(gomock.Any(), EventPostData, []byte("partial"), nil).Return(0, nil)

		tr := newFakeTransport()
		e := NewEngine(tr, true, nil)

		const streamID = uint64(0)
		stream, _ := e.Conn.findOrCreateStream(streamID, true)
		stream.Handler = h
		stream.HandlerBound = true

		const largeLength = uint64(2 * 1024 * 1024)
		headers := encodeRequestHeadersForTest("GET", "", "")
		wire, offset := writeHeadersFrameTag(nil)
		wire = append(wire, headers...)
		patchHeadersLength(wire, offset, len(headers))
		wire = writeDataFrameTag(wire, largeLength)
		wire = append(wire, []byte("partial")...)

		Expect(e.HandleStreamData(streamID, wire, false)).To(Succeed())

		Expect(tr.flowControlOpened).To(HaveLen(1))
		Expect(tr.flowControlOpened[0].streamID).To(Equal(streamID))
		Expect(tr.flowControlOpened[0].length).To(Equal(largeLength))
	})

	It("does not widen flow control for a DATA frame below the 2^20 threshold", func() {
		ctrl := gomock.NewController(GinkgoT())
		defer ctrl.Finish()

		h := NewMockHandler(ctrl)
		h.EXPECT().Handle(gomock.Any(), EventPostData, []byte("small"), nil).Return(0, nil)

		tr := newFakeTransport()
		e := NewEngine(tr, true, nil)

		const streamID = uint64(0)
		stream, _ := e.Conn.findOrCreateStream(streamID, true)
		stream.Handler = h
		stream.HandlerBound = true

		wire := framedRequest("GET", "", "", []byte("small"))
		Expect(e.HandleStreamData(streamID, wire, false)).To(Succeed())

		Expect(tr.flowControlOpened).To(BeEmpty())
	})
})

var _ = Describe("Engine.HandleStreamReset", func() {
	It("notifies the bound handler and frees the stream", func() {
		ctrl := gomock.NewController(GinkgoT())
		defer ctrl.Finish()

		h := NewMockHandler(ctrl)
		h.EXPECT().Handle(gomock.Any(), EventReset, nil, nil).Return(0, nil)

		tr := newFakeTransport()
		e := NewEngine(tr, false, nil)
		stream, _ := e.Conn.findOrCreateStream(7, true)
		stream.Handler = h

		Expect(e.HandleStreamReset(7)).To(Succeed())
		Expect(e.Conn.findStream(7)).To(BeNil())
	})
})
