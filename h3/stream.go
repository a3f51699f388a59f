package h3

import "errors"

// ErrPrefixAlreadyDeclared is returned by declarePrefix when a prefix
// entry already exists for the given control-stream-id (spec §4.3:
// "declare(prefix, handler, ctx) — fails if prefix is already
// present"; spec §3 invariant: "A prefix entry exists for prefix P iff
// at most one path handler is registered against P").
var ErrPrefixAlreadyDeclared = errors.New("h3: prefix already declared for this control stream")

// ConnContext is the connection-scoped state the session engine keeps
// for one QUIC connection: its stream index and its WebTransport prefix
// registry (spec §3: "connection context"). It is grounded on
// h3zero_find_or_create_stream's callers in h3zero_common.c, which pass
// a single per-connection cnx_ctx everywhere a stream or prefix needs
// to be looked up, generalized from that file's intrusive splay tree to
// a plain Go map — the two structures serve the same purpose (find a
// stream context by ID in better than linear time) and nothing in this
// engine depends on in-order traversal, so the map is the idiomatic Go
// substitute (see DESIGN.md).
type ConnContext struct {
	Transport Transport
	IsClient  bool

	streams  map[uint64]*StreamContext
	prefixes prefixList

	LocalControlStreamID  uint64
	LocalEncoderStreamID  uint64
	LocalDecoderStreamID  uint64
	PeerControlStreamID   uint64
	peerControlStreamSet  bool
	SettingsReceived      bool
}

// NewConnContext builds an empty connection context bound to transport.
func NewConnContext(transport Transport, isClient bool) *ConnContext {
	return &ConnContext{
		Transport: transport,
		IsClient:  isClient,
		streams:   make(map[uint64]*StreamContext),
	}
}

// findStream returns the stream context for id, or nil if none exists.
func (c *ConnContext) findStream(id uint64) *StreamContext {
	return c.streams[id]
}

// findOrCreateStream returns the existing stream context for id, or
// creates and indexes a new one, marking created to tell the caller
// whether this is the stream's first byte (spec §4.5: "find or create
// the stream context, noting whether it is newly created").
func (c *ConnContext) findOrCreateStream(id uint64, isH3 bool) (stream *StreamContext, created bool) {
	if s, ok := c.streams[id]; ok {
		return s, false
	}
	s := &StreamContext{
		Conn:     c,
		StreamID: id,
		IsH3:     isH3,
	}
	if isH3 {
		s.h3 = &h3StreamState{}
	} else {
		s.legacy = &legacyState{}
	}
	c.streams[id] = s
	return s, true
}

// findOrCreateUnidirStream is findOrCreateStream's counterpart for
// unidirectional (or, per spec §4.2, server-originated bidir) streams,
// which use the one-shot prefix parser instead of the repeating
// HEADERS/DATA frame parser.
func (c *ConnContext) findOrCreateUnidirStream(id uint64) (stream *StreamContext, created bool) {
	if s, ok := c.streams[id]; ok {
		return s, false
	}
	s := &StreamContext{
		Conn:     c,
		StreamID: id,
		unidir:   &unidirStreamState{},
	}
	c.streams[id] = s
	return s, true
}

// deleteStream removes a stream from the index. Deleting the key a
// range loop is currently visiting is well defined in Go, so callers
// may call this from within a range over Streams().
func (c *ConnContext) deleteStream(id uint64) {
	delete(c.streams, id)
}

// clearAllStreams empties the stream index, used when a connection is
// torn down (spec §4.5: "Connection close ... every stream context is
// freed").
func (c *ConnContext) clearAllStreams() {
	c.streams = make(map[uint64]*StreamContext)
}

// Streams returns the live stream index for iteration (e.g. by the
// packet loop's send pump, scanning for streams with pending data).
func (c *ConnContext) Streams() map[uint64]*StreamContext {
	return c.streams
}

// declarePrefix registers a WebTransport (or other path) prefix handler
// bound to a control stream, grounded on h3zero_declare_stream_prefix.
// It fails with ErrPrefixAlreadyDeclared if controlStreamID already has
// an entry (spec §4.3, §3's "at most one handler per prefix" invariant).
func (c *ConnContext) declarePrefix(controlStreamID uint64, prefix []byte, handler Handler) (*prefixEntry, error) {
	if c.findPrefix(controlStreamID) != nil {
		return nil, ErrPrefixAlreadyDeclared
	}
	e := &prefixEntry{
		ControlStreamID: controlStreamID,
		Prefix:          append([]byte(nil), prefix...),
		Handler:         handler,
	}
	e.node = c.prefixes.PushBack(e)
	return e, nil
}

// findPrefix returns the first registered prefix entry whose
// ControlStreamID matches controlStreamID, grounded on
// h3zero_find_stream_prefix.
func (c *ConnContext) findPrefix(controlStreamID uint64) *prefixEntry {
	for n := c.prefixes.Front(); n != nil; n = n.next {
		if n.Val.ControlStreamID == controlStreamID {
			return n.Val
		}
	}
	return nil
}

// deletePrefix unregisters a single prefix entry, grounded on
// h3zero_delete_stream_prefix.
func (c *ConnContext) deletePrefix(e *prefixEntry) {
	if e == nil || e.node == nil {
		return
	}
	c.prefixes.Remove(e.node)
	e.node = nil
}

// deleteAllPrefixes tears down every registered prefix, notifying each
// handler with EventFree first. Grounded on
// h3zero_delete_all_stream_prefixes, including its re-entrancy guard:
// a handler's EventFree callback may itself delete other prefixes (or
// itself), so the loop always re-reads the list head rather than
// following a cached "next" pointer (spec §4.1: "re-entrancy guard
// re-checking prefixes->first").
func (c *ConnContext) deleteAllPrefixes() {
	for n := c.prefixes.Front(); n != nil; n = c.prefixes.Front() {
		e := n.Val
		if e.Handler != nil {
			_, _ = e.Handler.Handle(nil, EventFree, nil, nil)
		}
		if c.prefixes.Front() == n {
			c.prefixes.Remove(n)
		}
	}
}

// prefixEntry is one registered WebTransport/path-prefix binding (spec
// §3: "prefix record: control-stream-id, prefix bytes, handler").
type prefixEntry struct {
	ControlStreamID uint64
	Prefix          []byte
	Handler         Handler
	node            *prefixNode
}

// StreamContext is the per-stream state the session engine tracks (spec
// §3: "stream context"), grounded on h3zero_stream_ctx_t in
// h3zero_common.c. The parse_state tagged union is split across the h3
// and legacy fields rather than represented with an interface{}, since
// the branch is fixed at creation and never changes (spec §9).
type StreamContext struct {
	Conn     *ConnContext
	StreamID uint64

	// ControlStreamID binds this stream to a WebTransport session's
	// control (CONNECT) stream; zero for ordinary h3 request streams.
	ControlStreamID uint64

	IsH3   bool
	h3     *h3StreamState
	legacy *legacyState
	unidir *unidirStreamState

	Handler      Handler
	HandlerBound bool

	BytesSent     uint64
	BytesReceived uint64

	// responseRemaining counts down the bytes a synthetic response body
	// still owes the peer; Engine.HandlePrepareToSend reports fin once it
	// reaches zero (spec §4.5.1: "GET /NNNNN returns a synthetic body of
	// the requested length").
	responseRemaining uint64

	IsFinReceived bool
	IsFinSent     bool

	// requestProcessed guards against re-running the request processor
	// if more bytes or a second FIN notification arrive on a stream
	// whose response has already been produced (e.g. a GET request,
	// which never binds a Handler).
	requestProcessed bool
}

// H3State returns the stream's HEADERS/DATA frame parser state. It is
// nil for legacy (non-h3) streams.
func (s *StreamContext) H3State() *h3StreamState {
	return s.h3
}

// LegacyState returns the stream's plain-HTTP parse state. It is nil
// for h3 streams.
func (s *StreamContext) LegacyState() *legacyState {
	return s.legacy
}

// UnidirState returns the stream's unidirectional prefix-parser state.
// It is nil for bidirectional streams.
func (s *StreamContext) UnidirState() *unidirStreamState {
	return s.unidir
}
