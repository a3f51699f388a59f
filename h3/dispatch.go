package h3

import (
	"bytes"
	"strconv"
)

// inlineResponseThreshold is the largest response body this engine will
// fold directly into the HEADERS+DATA buffer it builds inline, instead
// of streaming it later through Engine.HandlePrepareToSend (spec §4.5.1: "responses
// up to 512 bytes are written into a single inline buffer").
const inlineResponseThreshold = 512

// PathEntry binds one path prefix to an application Handler (spec
// §4.5.1: "POST and CONNECT are routed through a path table of prefix
// to handler bindings"), grounded on picohttp_server_path_item_t /
// h3zero_find_path_item.
type PathEntry struct {
	Prefix  string
	Handler Handler
}

// PathTable is an ordered list of PathEntry, matched by prefix in
// order, first match wins (grounded on h3zero_find_path_item's linear
// scan over path_table).
type PathTable []PathEntry

// find returns the handler of the first entry, in table order, whose
// Prefix is a prefix of path, or nil if none of the entries match.
func (t PathTable) find(path []byte) Handler {
	for _, e := range t {
		p := []byte(e.Prefix)
		if len(path) >= len(p) && bytes.Equal(path[:len(p)], p) {
			return e.Handler
		}
	}
	return nil
}

// parseGetPath interprets a GET request's path the way the demo server
// does (spec §4.5.1, grounded on h3zero_server_parse_path): "/" and
// "/index.html" select the default welcome page (echoLength 0, meaning
// "use the default page" rather than literally zero bytes); "/NNNNN"
// (an all-decimal-digit path) requests a synthetic response body of
// exactly NNNNN bytes; anything else is not found.
func parseGetPath(path []byte) (echoLength uint64, isDefaultPage bool, found bool) {
	if len(path) == 0 || bytes.Equal(path, []byte("/")) || bytes.Equal(path, []byte("/index.html")) {
		return 0, true, true
	}
	if len(path) < 2 || path[0] != '/' {
		return 0, false, false
	}
	digits := path[1:]
	for _, b := range digits {
		if b < '0' || b > '9' {
			return 0, false, false
		}
	}
	n, err := strconv.ParseUint(string(digits), 10, 64)
	if err != nil {
		return 0, false, false
	}
	return n, false, true
}

// processRequest builds the response for a fully-headered request
// (spec §4.5.1: "the request processor dispatches on method"). It is
// invoked once the HEADERS frame has been decoded and either the
// request body is complete (FIN received) or the method is CONNECT,
// which does not wait for FIN before replying (grounded on
// h3zero_process_request_frame's
// "fin_or_event == picoquic_callback_stream_fin || method ==
// h3zero_method_connect" gate).
//
// It returns the bytes to write immediately (a HEADERS frame, and for
// small bodies a DATA frame too) and whether the stream's send side is
// now finished.
func processRequest(stream *StreamContext, table PathTable) (out []byte, fin bool, err error) {
	h3state := stream.H3State()
	if h3state == nil || !h3state.headerFound {
		return nil, false, &ConnectionError{Code: errorFrameError, Msg: "request processed before HEADERS frame arrived"}
	}
	hdr := h3state.header

	switch hdr.Method {
	case "GET":
		return processGet(stream, hdr)
	case "POST":
		return processPost(stream, hdr, table)
	case "CONNECT":
		return processConnect(stream, hdr, table)
	default:
		return buildStatusOnly(stream, "501"), true, nil
	}
}

func processGet(stream *StreamContext, hdr requestHeader) ([]byte, bool, error) {
	echoLength, isDefault, found := parseGetPath(hdr.Path)
	if !found {
		return buildStatusOnly(stream, "404"), true, nil
	}

	contentType := contentTypeTextPlain
	var bodyLen uint64
	if isDefault {
		contentType = contentTypeTextHTML
		bodyLen = uint64(len(defaultResponsePage))
	} else {
		bodyLen = echoLength
	}

	buf, lenOffset := writeHeadersFrameTag(nil)
	buf, err := createResponseHeaderFrame(buf, lenOffset, "200", contentType)
	if err != nil {
		return nil, false, err
	}

	if bodyLen <= inlineResponseThreshold {
		buf = writeDataFrameTag(buf, bodyLen)
		if isDefault {
			buf = append(buf, defaultResponsePage...)
		} else {
			buf = appendSyntheticBody(buf, bodyLen)
		}
		return buf, true, nil
	}

	// Large synthetic bodies are streamed later by Engine.HandlePrepareToSend.
	stream.responseRemaining = bodyLen
	if stream.Conn != nil && stream.Conn.Transport != nil {
		_ = stream.Conn.Transport.MarkStreamActive(stream.StreamID)
	}
	return buf, false, nil
}

func processPost(stream *StreamContext, hdr requestHeader, table PathTable) ([]byte, bool, error) {
	if handler := table.find(hdr.Path); handler != nil {
		stream.Handler = handler
		stream.HandlerBound = true
		if _, err := handler.Handle(stream, EventPost, nil, nil); err != nil {
			return buildStatusOnly(stream, "500"), true, nil
		}
		return nil, false, nil
	}

	page := postResponsePage(stream.BytesReceived)
	buf, lenOffset := writeHeadersFrameTag(nil)
	buf, err := createResponseHeaderFrame(buf, lenOffset, "200", contentTypeTextHTML)
	if err != nil {
		return nil, false, err
	}
	buf = writeDataFrameTag(buf, uint64(len(page)))
	buf = append(buf, page...)
	return buf, true, nil
}

func processConnect(stream *StreamContext, hdr requestHeader, table PathTable) ([]byte, bool, error) {
	if stream.HandlerBound {
		// Duplicate CONNECT on the same stream (grounded on
		// h3zero_common.c's "Duplicate request?" comment at the CONNECT
		// branch): a protocol error that closes the connection, rather
		// than re-running the handler.
		return nil, false, &ConnectionError{Code: errorGeneralProtocolError, Msg: "duplicate CONNECT on a stream with a bound handler"}
	}

	handler := table.find(hdr.Path)
	if handler == nil {
		return buildStatusOnly(stream, "404"), true, nil
	}
	if _, err := handler.Handle(stream, EventConnect, hdr.Path, nil); err != nil {
		// The handler rejected the connect (spec §4.5.1: "if the handler
		// rejects, emit 501"), distinct from no path matching at all.
		return buildStatusOnly(stream, "501"), true, nil
	}
	stream.Handler = handler
	stream.HandlerBound = true
	return buildStatusOnly(stream, "200"), false, nil
}

func buildStatusOnly(stream *StreamContext, status string) []byte {
	buf, lenOffset := writeHeadersFrameTag(nil)
	buf, err := createResponseHeaderFrame(buf, lenOffset, status, contentTypeNone)
	if err != nil {
		return nil
	}
	return buf
}

// appendSyntheticBody appends n bytes of the deterministic filler text
// the demo GET /NNNNN path returns, grounded on picoquic's test server
// pattern of repeating a fixed line to pad to the requested length.
func appendSyntheticBody(buf []byte, n uint64) []byte {
	const line = "0123456789abcdef\r\n"
	for uint64(len(line)) <= n {
		buf = append(buf, line...)
		n -= uint64(len(line))
	}
	if n > 0 {
		buf = append(buf, line[:n]...)
	}
	return buf
}
