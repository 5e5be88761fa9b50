// Package client defines the Response value the engine hands back to
// callers: parsed status line and headers plus a pull-based body
// stream, generalizing client.go's fully-buffered Response into one
// where draining the body is the caller's job.
package client

import (
	"io"

	"github.com/teaberrycow/asynchttp/pkg/errors"
	"github.com/teaberrycow/asynchttp/pkg/pipeline"
	"github.com/teaberrycow/asynchttp/pkg/pool"
)

// Response is the result of one completed request/response exchange.
// Its BodyStream must be fully drained (ReadSome until io.EOF) or the
// Response dropped via Close before the underlying connection can
// return to the pool; Close drains whatever is left first, and
// discards the connection only if that drain fails.
type Response struct {
	StatusCode   int
	ReasonPhrase string
	Headers      pipeline.Headers
	Trailers     pipeline.Headers
	BodyStream   pipeline.Reader

	// Connection/TLS/proxy diagnostics, carried from pool.Metadata.
	Metadata pool.Metadata

	disposition *connDisposition
}

// connDisposition is the hook the engine wires up so Response.Close
// can return-or-discard the connection without Response itself
// knowing about pool.Pool or pool.Key.
type connDisposition struct {
	release func(discard bool)
	done    bool
	drained bool
}

func newDisposition(release func(discard bool)) *connDisposition {
	return &connDisposition{release: release}
}

// AttachDisposition wires the engine's release callback into r. Used
// only by pkg/engine.
func AttachDisposition(r *Response, release func(discard bool)) {
	r.disposition = newDisposition(release)
}

// ReadAll drains BodyStream into memory and returns the full payload,
// releasing the connection to the pool (or discarding it, on a
// framing error) once the drain completes.
func (r *Response) ReadAll() ([]byte, error) {
	defer r.Close()
	if r.BodyStream == nil {
		return nil, nil
	}
	var out []byte
	for !r.BodyStream.IsEOF() {
		data, err := r.BodyStream.ReadSome()
		if err != nil {
			if err == io.EOF {
				break
			}
			return out, err
		}
		out = append(out, data...)
	}
	return out, nil
}

// Close drains any unread body bytes so the connection can be
// returned to the pool cleanly; if the body reader reports an error
// mid-drain the connection is discarded instead. Calling Close more
// than once is a no-op.
func (r *Response) Close() error {
	if r.disposition == nil || r.disposition.done {
		return nil
	}
	r.disposition.done = true

	discard := false
	if r.BodyStream != nil && !r.BodyStream.IsEOF() {
		for !r.BodyStream.IsEOF() {
			if _, err := r.BodyStream.ReadSome(); err != nil {
				if err != io.EOF {
					discard = true
				}
				break
			}
		}
	}
	r.disposition.release(discard)
	return nil
}

// IsSuccess reports whether StatusCode is in the 2xx range.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// AsHTTPError builds the typed error returned when ThrowOnHTTPError
// is true and the response isn't 2xx.
func (r *Response) AsHTTPError() error {
	if r.IsSuccess() {
		return nil
	}
	return errors.NewHTTPError(r.StatusCode, r.ReasonPhrase)
}
