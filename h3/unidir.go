package h3

// unidirParsePhase tracks the one-shot unidirectional-stream prefix
// parser (spec §4.2: "invoked the first time bytes arrive on a
// peer-initiated unidir stream, or a server-originated bidir stream on
// an h3 connection").
type unidirParsePhase int

const (
	unidirPhaseStreamType unidirParsePhase = iota
	unidirPhaseWebTransportContextID
	unidirPhaseControlFrameType
	unidirPhaseControlFrameLength
	unidirPhaseControlFrameSkip
	unidirPhaseIgnoreRest
	unidirPhasePassthrough
)

// unidirStreamState is the parser state for a single unidirectional (or
// server-originated bidir) stream, grounded on
// h3zero_parse_incoming_remote_stream in picohttp/h3zero_common.c.
type unidirStreamState struct {
	phase unidirParsePhase

	typeAcc varintAccumulator
	lenAcc  varintAccumulator

	streamType      streamType
	controlStreamID uint64
	pendingSkip     uint64

	sawSettings bool
}

// parseUnidirPrefix feeds data into the stream-type/prefix parser. Once
// the stream's role is established it dispatches to the right
// behavior: the control stream watches for the peer's SETTINGS frame,
// the QPACK encoder/decoder streams are read and discarded (dynamic
// QPACK is never used — Non-goal), and a WebTransport unidir stream
// reads one context-id varint, hands it to onWebTransportBind for a
// prefix-registry lookup, and then passes every remaining byte to
// onData untouched (spec §4.2: "the resulting value is the
// control-stream-id and is looked up in the prefix registry").
//
// A rejected push stream or an unresolved WebTransport context-id
// surfaces as a *StreamError (spec §7 "Policy rejection": the
// connection survives, only the offending stream is reset) rather than
// a *ConnectionError.
func (s *unidirStreamState) parseUnidirPrefix(data []byte, onSettings func(), onWebTransportBind func(controlStreamID uint64) error, onData func([]byte) error) error {
	for len(data) > 0 {
		switch s.phase {
		case unidirPhasePassthrough:
			chunk := data
			data = nil
			if len(chunk) > 0 {
				if err := onData(chunk); err != nil {
					return err
				}
			}

		case unidirPhaseIgnoreRest:
			data = nil

		case unidirPhaseStreamType:
			v, n, done := s.typeAcc.feed(data)
			data = data[n:]
			if !done {
				return nil
			}
			s.streamType = streamType(v)
			switch s.streamType {
			case streamTypeControl:
				s.phase = unidirPhaseControlFrameType
			case streamTypeQPACKEncoder, streamTypeQPACKDecoder:
				// Dynamic QPACK instructions never arrive in practice
				// (Non-goal); whatever does arrive is simply discarded.
				s.phase = unidirPhaseIgnoreRest
			case streamTypeWebTransport:
				s.phase = unidirPhaseWebTransportContextID
			case streamTypePush:
				return &StreamError{Code: errorIDError}
			default:
				// Unknown/grease unidirectional stream type: ignore.
				s.phase = unidirPhaseIgnoreRest
			}

		case unidirPhaseWebTransportContextID:
			v, n, done := s.lenAcc.feed(data)
			data = data[n:]
			if !done {
				return nil
			}
			s.controlStreamID = v
			s.phase = unidirPhasePassthrough
			if onWebTransportBind != nil {
				if err := onWebTransportBind(v); err != nil {
					return err
				}
			}

		case unidirPhaseControlFrameType:
			v, n, done := s.typeAcc.feed(data)
			data = data[n:]
			if !done {
				return nil
			}
			ft := frameType(v)
			if !s.sawSettings && ft != frameTypeSettings {
				return &ConnectionError{Code: errorMissingSettings, Msg: "control stream's first frame was not SETTINGS"}
			}
			s.phase = unidirPhaseControlFrameLength

		case unidirPhaseControlFrameLength:
			v, n, done := s.lenAcc.feed(data)
			data = data[n:]
			if !done {
				return nil
			}
			if !s.sawSettings {
				s.sawSettings = true
				if onSettings != nil {
					onSettings()
				}
			}
			if v == 0 {
				s.phase = unidirPhaseControlFrameType
				continue
			}
			s.lenAcc.reset()
			s.typeAcc.reset()
			s.pendingSkip = v
			s.phase = unidirPhaseControlFrameSkip

		case unidirPhaseControlFrameSkip:
			take := min64(uint64(len(data)), s.pendingSkip)
			data = data[take:]
			s.pendingSkip -= take
			if s.pendingSkip == 0 {
				s.phase = unidirPhaseControlFrameType
			}
		}
	}
	return nil
}
