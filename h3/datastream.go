package h3

// dataStreamPhase tracks where parseDataStream is within the repeating
// HEADERS|DATA|reserved frame sequence on a request stream, or within
// the one-shot WebTransport bidir tunnel tag (spec §4.2).
type dataStreamPhase int

const (
	dsPhaseType dataStreamPhase = iota
	dsPhaseLength
	dsPhaseHeadersPayload
	dsPhaseDataPayload
	dsPhaseSkipPayload
	dsPhaseWebTransportContextID
	dsPhasePassthrough
)

// h3StreamState is the tagged-union "h3" branch of a stream's parse
// state (spec §3). It is shared by parseDataStream (classic bidir
// request/response streams and WebTransport bidir tunnels) — the
// branch is chosen once at stream creation and never mutated (spec §9:
// "pick the branch at creation time and do not mutate").
type h3StreamState struct {
	phase dataStreamPhase

	typeAcc varintAccumulator
	lenAcc  varintAccumulator

	frameCount         int
	currentFrameType   frameType
	currentFrameLength uint64
	remaining          uint64

	headersBuf  []byte
	header      requestHeader
	headerFound bool

	isFinReceived bool
	isFinSent     bool

	isWebTransport  bool
	controlStreamID uint64
}

// legacyState is the non-h3 branch: a plain-HTTP request line, kept
// only long enough to route it (spec §3: "legacy_state: path string +
// length").
type legacyState struct {
	path string
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// parseDataStream feeds data into the stream's frame parser, invoking
// onData once per contiguous run of DATA-frame (or WebTransport
// passthrough) bytes it can deliver immediately (spec §4.2: "the parser
// reports available_data bytes to the caller for each chunk"),
// onWebTransportBind once the one-shot webtransport_stream tag's
// context-id varint completes, so the caller can resolve it against
// the prefix registry (spec §4.2: "the bidir reserved frame
// webtransport_stream ... also requires a context-id"), and
// onDataFrameLength once a DATA frame's length varint completes, before
// any of its payload bytes are reported through onData (spec §4.5:
// "before writing the first large frame to disk, if the announced
// frame length is >= 2^20 call open_flow_control"). onDataFrameLength
// may be nil; only the client-role ingress path uses it.
//
// It returns a *ConnectionError on a protocol violation (spec §4.2:
// "On protocol error it emits a 16-bit error code and returns
// parse-failure"); the caller is expected to close the connection. An
// unresolved WebTransport context-id instead surfaces as a
// *StreamError from onWebTransportBind (spec §7 "Policy rejection":
// only the offending stream is reset).
func (s *h3StreamState) parseDataStream(data []byte, onWebTransportBind func(controlStreamID uint64) error, onData func([]byte) error, onDataFrameLength func(length uint64) error) error {
	for len(data) > 0 {
		switch s.phase {
		case dsPhasePassthrough:
			chunk := data
			data = nil
			if len(chunk) > 0 {
				if err := onData(chunk); err != nil {
					return err
				}
			}

		case dsPhaseType:
			v, n, done := s.typeAcc.feed(data)
			data = data[n:]
			if !done {
				return nil
			}
			s.currentFrameType = frameType(v)
			s.frameCount++
			if s.frameCount == 1 && s.currentFrameType == frameTypeWebTransportStream {
				s.isWebTransport = true
				s.phase = dsPhaseWebTransportContextID
				continue
			}
			s.phase = dsPhaseLength

		case dsPhaseWebTransportContextID:
			v, n, done := s.lenAcc.feed(data)
			data = data[n:]
			if !done {
				return nil
			}
			s.controlStreamID = v
			s.phase = dsPhasePassthrough
			if onWebTransportBind != nil {
				if err := onWebTransportBind(v); err != nil {
					return err
				}
			}

		case dsPhaseLength:
			v, n, done := s.lenAcc.feed(data)
			data = data[n:]
			if !done {
				return nil
			}
			s.currentFrameLength = v
			s.remaining = v
			switch s.currentFrameType {
			case frameTypeHeaders:
				s.headersBuf = s.headersBuf[:0]
				s.phase = dsPhaseHeadersPayload
			case frameTypeData:
				s.phase = dsPhaseDataPayload
				if onDataFrameLength != nil {
					if err := onDataFrameLength(v); err != nil {
						return err
					}
				}
			default:
				// Skip grease frames (reserved HTTP/3 frame types),
				// per https://datatracker.ietf.org/doc/html/draft-nottingham-http-grease-00.
				s.phase = dsPhaseSkipPayload
			}
			if s.remaining == 0 {
				if err := s.finishFrame(); err != nil {
					return err
				}
			}

		case dsPhaseHeadersPayload:
			take := min64(uint64(len(data)), s.remaining)
			s.headersBuf = append(s.headersBuf, data[:take]...)
			data = data[take:]
			s.remaining -= take
			if s.remaining == 0 {
				if err := s.finishFrame(); err != nil {
					return err
				}
			}

		case dsPhaseDataPayload:
			take := min64(uint64(len(data)), s.remaining)
			chunk := data[:take]
			data = data[take:]
			s.remaining -= take
			if len(chunk) > 0 {
				if err := onData(chunk); err != nil {
					return err
				}
			}
			if s.remaining == 0 {
				s.phase = dsPhaseType
			}

		case dsPhaseSkipPayload:
			take := min64(uint64(len(data)), s.remaining)
			data = data[take:]
			s.remaining -= take
			if s.remaining == 0 {
				s.phase = dsPhaseType
			}
		}
	}
	return nil
}

// finishFrame completes a zero-length or just-buffered HEADERS frame
// and returns to frame-type parsing.
func (s *h3StreamState) finishFrame() error {
	if s.currentFrameType == frameTypeHeaders {
		hdr, err := decodeRequestHeaders(s.headersBuf)
		if err != nil {
			return &ConnectionError{Code: errorGeneralProtocolError, Msg: "malformed HEADERS frame: " + err.Error()}
		}
		s.header = hdr
		s.headerFound = true
	}
	s.phase = dsPhaseType
	return nil
}
