package h3

import (
	"errors"

	"github.com/lucas-clemente/quic-go"

	"github.com/satlink/h3sat/h3/internal/tracelog"
)

// Engine is the session engine for one QUIC connection: it owns the
// connection context, runs the protocol initializer, and dispatches
// every inbound stream event to the right parser and, on the server
// role, to the request processor (spec §4.5, grounded end-to-end on
// h3zero_callback / h3zero_callback_server_data /
// h3zero_callback_client_data in picohttp/h3zero_common.c).
//
// An Engine is driven entirely synchronously by its caller (the packet
// loop): every method here runs to completion on the calling goroutine
// and never blocks (spec §5).
type Engine struct {
	Conn      *ConnContext
	PathTable PathTable

	Log    tracelog.Logger
	Tracer *Tracer
}

// NewEngine builds a session engine bound to transport, in either the
// client or server role.
func NewEngine(transport Transport, isClient bool, table PathTable) *Engine {
	return &Engine{
		Conn:      NewConnContext(transport, isClient),
		PathTable: table,
		Log:       tracelog.NopLogger,
	}
}

func (e *Engine) logger() tracelog.Logger {
	if e.Log == nil {
		return tracelog.NopLogger
	}
	return e.Log
}

// InitProtocol opens the three unidirectional streams every h3
// connection declares at startup — control (carrying SETTINGS), QPACK
// encoder, and QPACK decoder — grounded on h3zero_protocol_init, which
// opens them in that order with decreasing priority. This engine's
// Transport seam has no per-stream priority knob (priority is a
// QUIC-transport concern, not a session-engine one), so only the
// ordering is preserved.
func (e *Engine) InitProtocol() error {
	control, err := e.Conn.Transport.OpenUniStream()
	if err != nil {
		return err
	}
	if _, err := control.Write([]byte{byte(streamTypeControl)}); err != nil {
		return err
	}
	if _, err := control.Write(defaultSettingsFrame); err != nil {
		return err
	}
	e.Conn.LocalControlStreamID = control.StreamID()

	encoder, err := e.Conn.Transport.OpenUniStream()
	if err != nil {
		return err
	}
	if _, err := encoder.Write([]byte{byte(streamTypeQPACKEncoder)}); err != nil {
		return err
	}
	e.Conn.LocalEncoderStreamID = encoder.StreamID()

	decoder, err := e.Conn.Transport.OpenUniStream()
	if err != nil {
		return err
	}
	if _, err := decoder.Write([]byte{byte(streamTypeQPACKDecoder)}); err != nil {
		return err
	}
	e.Conn.LocalDecoderStreamID = decoder.StreamID()

	e.logger().Debugf("protocol initializer: opened control=%d encoder=%d decoder=%d",
		e.Conn.LocalControlStreamID, e.Conn.LocalEncoderStreamID, e.Conn.LocalDecoderStreamID)
	e.Tracer.StreamOpened(e.Conn.LocalControlStreamID)
	e.Tracer.StreamOpened(e.Conn.LocalEncoderStreamID)
	e.Tracer.StreamOpened(e.Conn.LocalDecoderStreamID)

	return nil
}

// isUnidirStreamID reports whether id names a QUIC unidirectional
// stream, per RFC 9000 §2.1's second-lowest stream ID bit.
func isUnidirStreamID(id uint64) bool {
	return id&0x2 != 0
}

// isClientInitiatedStreamID reports whether id was opened by the
// client, per RFC 9000 §2.1's lowest stream ID bit.
func isClientInitiatedStreamID(id uint64) bool {
	return id&0x1 == 0
}

// HandleStreamData is the engine's single ingress entry point,
// invoked by the packet loop whenever the transport delivers bytes (or
// a FIN) on a stream (spec §4.5: "stream_data" / "stream_fin" events).
func (e *Engine) HandleStreamData(streamID uint64, data []byte, fin bool) error {
	if isUnidirStreamID(streamID) {
		return e.handleUnidirStreamData(streamID, data, fin)
	}
	if e.Conn.IsClient {
		return e.handleClientBidirStreamData(streamID, data, fin)
	}
	return e.handleServerBidirStreamData(streamID, data, fin)
}

func (e *Engine) handleUnidirStreamData(streamID uint64, data []byte, fin bool) error {
	stream, _ := e.Conn.findOrCreateUnidirStream(streamID)
	u := stream.UnidirState()

	err := u.parseUnidirPrefix(data, func() {
		e.Conn.SettingsReceived = true
	}, func(controlStreamID uint64) error {
		return e.bindWebTransportPrefix(stream, controlStreamID)
	}, func(chunk []byte) error {
		return e.deliverToHandler(stream, chunk)
	})
	if err != nil {
		return e.handleStreamLevelError(streamID, err)
	}
	if fin {
		stream.IsFinReceived = true
		if stream.Handler != nil {
			_, _ = stream.Handler.Handle(stream, EventPostFin, nil, nil)
		}
		e.Conn.deleteStream(streamID)
	}
	return nil
}

// bindWebTransportPrefix resolves a WebTransport stream's context-id
// (the control-stream-id carried right after its stream-type/frame tag)
// against the prefix registry and, on a hit, adopts that prefix's
// handler as the stream's own (spec §4.2: "the resulting value is the
// control-stream-id and is looked up in the prefix registry. If found,
// the prefix's handler is adopted as the stream's handler. If not
// found, the parse fails"). The miss case is reported as a *StreamError
// carrying the WebTransport-specific wire error code (spec §6), so the
// caller resets only this stream rather than the whole connection
// (spec §7: "Policy rejection ... unknown WebTransport prefix").
func (e *Engine) bindWebTransportPrefix(stream *StreamContext, controlStreamID uint64) error {
	prefix := e.Conn.findPrefix(controlStreamID)
	if prefix == nil {
		return &StreamError{StreamID: stream.StreamID, Code: errorWebTransportBufferedStreamRejected}
	}
	stream.ControlStreamID = controlStreamID
	stream.Handler = prefix.Handler
	stream.HandlerBound = true
	return nil
}

// handleStreamLevelError applies spec §7's "Policy rejection"/"Resource
// exhaustion" recovery policy: a *StreamError resets only the named
// stream and lets the connection continue; anything else (notably a
// *ConnectionError) propagates to the caller, which closes the
// connection.
func (e *Engine) handleStreamLevelError(streamID uint64, err error) error {
	var se *StreamError
	if errors.As(err, &se) {
		_ = e.Conn.Transport.ResetStream(streamID, quic.StreamErrorCode(se.Code))
		e.Conn.deleteStream(streamID)
		return nil
	}
	return err
}

// handleServerBidirStreamData processes a peer (client)-initiated bidir
// stream: either the classic HTTP/3 request/response stream, or (once
// its leading webtransport_stream tag and context-id are seen) a
// WebTransport bidir tunnel whose bytes are forwarded verbatim to the
// handler bound to that context-id's prefix, grounded on
// h3zero_callback_server_data's IS_CLIENT_STREAM_ID branch.
func (e *Engine) handleServerBidirStreamData(streamID uint64, data []byte, fin bool) error {
	stream, _ := e.Conn.findOrCreateStream(streamID, true)
	h3state := stream.H3State()

	err := h3state.parseDataStream(data, func(controlStreamID uint64) error {
		return e.bindWebTransportPrefix(stream, controlStreamID)
	}, func(chunk []byte) error {
		return e.deliverBody(stream, chunk)
	}, nil)
	if err != nil {
		return e.handleStreamLevelError(streamID, err)
	}

	if fin {
		stream.IsFinReceived = true
	}

	if h3state.isWebTransport {
		if fin {
			if stream.Handler != nil {
				_, _ = stream.Handler.Handle(stream, EventPostFin, nil, nil)
			}
			e.Conn.deleteStream(streamID)
		}
		return nil
	}

	if h3state.headerFound && !stream.HandlerBound && !stream.requestProcessed {
		if fin || h3state.header.Method == "CONNECT" {
			stream.requestProcessed = true
			if err := e.runRequestProcessor(stream); err != nil {
				return err
			}
			// A handler bound by runRequestProcessor itself (POST routed
			// to a path handler) still needs its post_fin if this same
			// call already carried the request's FIN, grounded on
			// h3zero_process_request_frame's own bind-then-post_fin call
			// for a request whose data and FIN arrived together.
			if fin && stream.Handler != nil {
				_, _ = stream.Handler.Handle(stream, EventPostFin, nil, nil)
			}
			return nil
		}
	} else if h3state.headerFound && stream.HandlerBound && fin {
		if stream.Handler != nil {
			_, _ = stream.Handler.Handle(stream, EventPostFin, nil, nil)
		}
	}
	return nil
}

// flowControlWidenThreshold is the announced DATA frame length at or
// above which the client role widens flow control before the frame's
// first byte is delivered to its handler (spec §4.5: "Before writing
// the first large frame to disk, if the announced frame length is
// >= 2^20 call open_flow_control(stream_id, length) on the transport
// to widen flow control").
const flowControlWidenThreshold = 1 << 20

// handleClientBidirStreamData processes the response arriving on a
// stream this engine (as client) opened itself. It reuses the same
// frame parser; the decoded "header" carries response pseudo-headers
// rather than request ones. A bound Handler (set when the request was
// sent) receives the body as post_data/post_fin events, matching the
// vocabulary request streams use on the server side so a single
// Handler implementation can serve double duty in tests.
func (e *Engine) handleClientBidirStreamData(streamID uint64, data []byte, fin bool) error {
	stream := e.Conn.findStream(streamID)
	if stream == nil {
		return &ConnectionError{Code: errorIDError, Msg: "response on an unknown stream"}
	}
	h3state := stream.H3State()

	if err := h3state.parseDataStream(data, nil, func(chunk []byte) error {
		return e.deliverBody(stream, chunk)
	}, func(length uint64) error {
		if length < flowControlWidenThreshold {
			return nil
		}
		return e.Conn.Transport.OpenFlowControl(stream.StreamID, length)
	}); err != nil {
		return e.handleStreamLevelError(streamID, err)
	}

	if fin {
		stream.IsFinReceived = true
		if stream.Handler != nil {
			_, _ = stream.Handler.Handle(stream, EventPostFin, nil, nil)
		}
		e.Conn.deleteStream(streamID)
	}
	return nil
}

func (e *Engine) deliverBody(stream *StreamContext, chunk []byte) error {
	stream.BytesReceived += uint64(len(chunk))
	if stream.Handler != nil {
		_, err := stream.Handler.Handle(stream, EventPostData, chunk, nil)
		return handlerErrToStreamError(stream, err)
	}
	return nil
}

func (e *Engine) deliverToHandler(stream *StreamContext, chunk []byte) error {
	if stream.Handler == nil {
		return nil
	}
	_, err := stream.Handler.Handle(stream, EventPostData, chunk, nil)
	return handlerErrToStreamError(stream, err)
}

// handlerErrToStreamError turns a path handler's own error return into a
// *StreamError (spec §7: "errors local to one stream never cascade to
// sibling streams"), so a failing post_data callback resets only its
// stream instead of being mistaken for a *ConnectionError by
// handleStreamLevelError and closing the whole connection.
func handlerErrToStreamError(stream *StreamContext, err error) error {
	if err == nil {
		return nil
	}
	return &StreamError{StreamID: stream.StreamID, Code: errorInternalError}
}

// runRequestProcessor dispatches a fully-headered request to
// processRequest and writes whatever it produces straight back onto
// the stream (spec §4.5.1).
func (e *Engine) runRequestProcessor(stream *StreamContext) error {
	h3state := stream.H3State()
	e.logger().Debugf("stream %d: request method=%s path=%q", stream.StreamID, h3state.header.Method, h3state.header.Path)
	out, fin, err := processRequest(stream, e.PathTable)
	if err != nil {
		return err
	}
	if len(out) > 0 {
		if werr := e.Conn.Transport.WriteStream(stream.StreamID, out, fin); werr != nil {
			return werr
		}
	}
	if fin {
		stream.IsFinSent = true
	}
	return nil
}

// HandleStreamReset notifies the bound handler (if any) that the peer
// reset or stopped the stream, then frees the stream context (spec
// §4.5: "Reset / stop-sending").
func (e *Engine) HandleStreamReset(streamID uint64) error {
	stream := e.Conn.findStream(streamID)
	if stream == nil {
		return nil
	}
	if stream.Handler != nil {
		_, _ = stream.Handler.Handle(stream, EventReset, nil, nil)
	}
	e.Tracer.StreamReset(streamID, errorNoError)
	e.Conn.deleteStream(streamID)
	return nil
}

// HandlePrepareToSend fills buf with the next bytes to send on a stream
// (spec §4.5.1, grounded on h3zero_prepare_to_send_buffer): a stream
// with a bound handler gets EventProvideData; otherwise the pending
// synthetic response body is copied out.
func (e *Engine) HandlePrepareToSend(streamID uint64, buf []byte) (n int, fin bool, err error) {
	stream := e.Conn.findStream(streamID)
	if stream == nil {
		return 0, true, nil
	}
	if stream.Handler != nil {
		n, err = stream.Handler.Handle(stream, EventProvideData, nil, buf)
		if err != nil {
			return 0, false, err
		}
		return n, false, nil
	}

	available := stream.responseRemaining
	if available == 0 {
		return 0, true, nil
	}
	take := uint64(len(buf))
	if take > available {
		take = available
	}
	written := appendSyntheticBody(nil, take)
	copy(buf, written)
	stream.responseRemaining -= take
	stream.BytesSent += take
	if stream.responseRemaining == 0 {
		stream.IsFinSent = true
		return int(take), true, nil
	}
	return int(take), false, nil
}

// Close tears down every prefix registration on the connection,
// grounded on h3zero_callback's picoquic_callback_close handling
// ("Clearing context on connection close").
func (e *Engine) Close() {
	e.Conn.deleteAllPrefixes()
	e.Conn.clearAllStreams()
}
