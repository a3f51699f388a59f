package h3

import (
	"bytes"

	"github.com/marten-seemann/qpack"
)

// QPACK static-table header encoding/decoding is an external
// collaborator (spec §1); this file only calls marten-seemann/qpack's
// encoder/decoder, it never re-implements the codec itself. Only the
// static table is exercised — no dynamic table instructions are ever
// sent or expected, matching the Non-goal on dynamic QPACK.

const (
	pseudoHeaderMethod = ":method"
	pseudoHeaderPath   = ":path"
	pseudoHeaderStatus = ":status"

	headerContentType = "content-type"

	contentTypeTextHTML  = "text/html"
	contentTypeTextPlain = "text/plain"
	contentTypeNone      = ""
)

// requestHeader is the decoded subset of a request's HEADERS frame this
// engine cares about (spec §3: "header record with method/path/content-type").
type requestHeader struct {
	Method      string
	Path        []byte
	ContentType string
}

// decodeRequestHeaders runs the QPACK static-table decoder over a
// complete HEADERS frame payload and extracts method/path/content-type.
func decodeRequestHeaders(payload []byte) (requestHeader, error) {
	var h requestHeader
	decoder := qpack.NewDecoder(nil)
	fields, err := decoder.DecodeFull(payload)
	if err != nil {
		return h, err
	}
	for _, f := range fields {
		switch f.Name {
		case pseudoHeaderMethod:
			h.Method = f.Value
		case pseudoHeaderPath:
			h.Path = []byte(f.Value)
		case headerContentType:
			h.ContentType = f.Value
		}
	}
	return h, nil
}

// encodeStatusHeaders QPACK-encodes a minimal response header block: a
// :status pseudo-header and, if non-empty, a content-type.
func encodeStatusHeaders(status string, contentType string) ([]byte, error) {
	var buf bytes.Buffer
	encoder := qpack.NewEncoder(&buf)
	if err := encoder.WriteField(qpack.HeaderField{Name: pseudoHeaderStatus, Value: status}); err != nil {
		return nil, err
	}
	if contentType != "" {
		if err := encoder.WriteField(qpack.HeaderField{Name: headerContentType, Value: contentType}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func createResponseHeaderFrame(buf []byte, lenOffset int, status string, contentType string) ([]byte, error) {
	payload, err := encodeStatusHeaders(status, contentType)
	if err != nil {
		return nil, err
	}
	buf = append(buf, payload...)
	patchHeadersLength(buf, lenOffset, len(payload))
	return buf, nil
}
