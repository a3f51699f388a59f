package h3

import (
	"io"

	"github.com/francoispqt/gojay"
)

// traceEvent is one qlog-style newline-delimited JSON record describing
// a stream opened, a frame parsed, a prefix bound, or a stream reset.
// Engine itself emits only the stream-opened and stream-reset records.
// Encoded with gojay, the fast JSON
// encoder the teacher's go.mod carries for exactly this purpose in
// quic-go's own qlog writer.
type traceEvent struct {
	Time     float64
	Name     string
	StreamID uint64
	Detail   string
}

// MarshalJSONObject implements gojay.MarshalerJSONObject.
func (e *traceEvent) MarshalJSONObject(enc *gojay.Encoder) {
	enc.Float64Key("time", e.Time)
	enc.StringKey("name", e.Name)
	enc.Uint64Key("stream_id", e.StreamID)
	if e.Detail != "" {
		enc.StringKey("detail", e.Detail)
	}
}

// IsNil implements gojay.MarshalerJSONObject.
func (e *traceEvent) IsNil() bool { return e == nil }

// Tracer writes one traceEvent per line to an underlying writer. A nil
// *Tracer is valid and simply drops every event, so wiring a tracer
// into the engine costs nothing when the caller has none configured.
type Tracer struct {
	w       io.Writer
	clockFn func() float64
}

// NewTracer builds a Tracer writing newline-delimited JSON to w. clock
// supplies the "time" field of each event (seconds since some
// caller-chosen epoch); the engine never calls time.Now itself.
func NewTracer(w io.Writer, clock func() float64) *Tracer {
	return &Tracer{w: w, clockFn: clock}
}

func (t *Tracer) emit(name string, streamID uint64, detail string) {
	if t == nil || t.w == nil {
		return
	}
	var ts float64
	if t.clockFn != nil {
		ts = t.clockFn()
	}
	ev := &traceEvent{Time: ts, Name: name, StreamID: streamID, Detail: detail}
	b, err := gojay.MarshalJSONObject(ev)
	if err != nil {
		return
	}
	_, _ = t.w.Write(b)
	_, _ = t.w.Write([]byte("\n"))
}

func (t *Tracer) StreamOpened(streamID uint64)             { t.emit("stream_opened", streamID, "") }
func (t *Tracer) FrameParsed(streamID uint64, kind string)  { t.emit("frame_parsed", streamID, kind) }
func (t *Tracer) PrefixBound(streamID uint64, prefix string) {
	t.emit("prefix_bound", streamID, prefix)
}
func (t *Tracer) StreamReset(streamID uint64, code errorCode) {
	t.emit("stream_reset", streamID, code.String())
}
