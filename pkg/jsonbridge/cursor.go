package jsonbridge

import (
	"encoding/json"
	"io"
	"reflect"

	"github.com/teaberrycow/asynchttp/pkg/errors"
	"github.com/teaberrycow/asynchttp/pkg/pipeline"
)

// pullReader adapts a pipeline.Reader (ReadSome/IsEOF) to io.Reader so
// encoding/json.Decoder, which wants the standard interface, can pull
// straight from a client.Response.BodyStream.
type pullReader struct {
	src     pipeline.Reader
	pending []byte
}

func (a *pullReader) Read(p []byte) (int, error) {
	if len(a.pending) == 0 {
		if a.src.IsEOF() {
			return 0, io.EOF
		}
		data, err := a.src.ReadSome()
		if err != nil {
			return 0, err
		}
		if len(data) == 0 {
			if a.src.IsEOF() {
				return 0, io.EOF
			}
			return 0, nil
		}
		a.pending = data
	}
	n := copy(p, a.pending)
	a.pending = a.pending[n:]
	return n, nil
}

// ArrayCursor streams a JSON array of T one element at a time from a
// response body, so a caller never buffers the whole array. Initial
// state waits for '[', each Next skips the comma encoding/json's
// Decoder.More already handles, and ']' ends the iteration.
type ArrayCursor[T any] struct {
	dec     *Decoder
	started bool
	done    bool
}

// NewArrayCursor wraps r. opts carries the same strictness/budget
// knobs as NewDecoder, applied per element.
func NewArrayCursor[T any](r pipeline.Reader, opts DecodeOptions) *ArrayCursor[T] {
	return &ArrayCursor[T]{dec: NewDecoder(&pullReader{src: r}, opts)}
}

// Next returns the next element, or ok == false once the array is
// exhausted.
func (c *ArrayCursor[T]) Next() (T, bool, error) {
	var zero T
	if c.done {
		return zero, false, nil
	}
	if !c.started {
		tok, err := c.dec.tok.Token()
		if err != nil {
			return zero, false, errors.NewParseError("json decode", "expected array start", err)
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			return zero, false, errors.NewParseError("json decode", "expected '['", nil)
		}
		c.started = true
	}
	if !c.dec.tok.More() {
		if _, err := c.dec.tok.Token(); err != nil {
			return zero, false, errors.NewParseError("json decode", "expected ']'", err)
		}
		c.done = true
		return zero, false, nil
	}
	var v T
	if err := c.dec.decodeValue(reflect.ValueOf(&v).Elem()); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Done reports whether the cursor has consumed the closing ']'.
func (c *ArrayCursor[T]) Done() bool { return c.done }
