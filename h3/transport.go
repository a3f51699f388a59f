package h3

import (
	"github.com/lucas-clemente/quic-go"
)

// Transport is everything the session engine needs from the QUIC
// connection underneath it. The QUIC transport itself — connection
// state machines, congestion control, the cryptographic handshake,
// flow-control accounting — is an external collaborator (spec §1) and
// is never implemented in this module; Transport is the seam a real
// quic.Connection (or a test double) is adapted to.
//
// Every error code crossing this seam is a quic.StreamErrorCode or
// quic.ApplicationErrorCode, the same vocabulary quic-go's own public
// API uses, so a Transport implementation can forward these calls to a
// *quic.Conn with no translation layer.
type Transport interface {
	// OpenUniStream opens a new unidirectional stream for locally
	// initiated control/QPACK-encoder/QPACK-decoder streams.
	OpenUniStream() (SendStream, error)

	// WriteStream appends p to the given stream's send buffer. If fin
	// is set, no further writes are permitted on that stream.
	WriteStream(streamID uint64, p []byte, fin bool) error

	// ResetStream resets a stream with the given application error
	// code (spec §4.1, §4.5: "Reset / stop-sending").
	ResetStream(streamID uint64, code quic.StreamErrorCode) error

	// StopSending requests the peer to stop sending data on a stream.
	StopSending(streamID uint64, code quic.StreamErrorCode) error

	// MarkStreamActive flags a stream as having data to deliver via
	// PrepareToSend, without writing bytes immediately (spec §4.5.1
	// step 3: "the stream is marked active so the prepare-to-send path
	// will stream them").
	MarkStreamActive(streamID uint64) error

	// OpenFlowControl widens flow control for a stream expected to
	// carry length bytes (spec §4.5: "open_flow_control").
	OpenFlowControl(streamID uint64, length uint64) error

	// CloseWithError closes the whole connection (spec §4.5 "Connection
	// close", §7 "Protocol error").
	CloseWithError(code quic.ApplicationErrorCode, reason string) error
}

// SendStream is a locally opened, write-only stream, used only during
// the protocol initializer to declare the control/QPACK streams.
type SendStream interface {
	StreamID() uint64
	Write(p []byte) (int, error)
}
