package jsonbridge

import (
	"io"

	"github.com/teaberrycow/asynchttp/pkg/body"
	"github.com/teaberrycow/asynchttp/pkg/buffer"
	"github.com/teaberrycow/asynchttp/pkg/errors"
)

// EncodeBody renders v as JSON into a pkg/buffer.Buffer — spilling to
// disk past buffer.DefaultMemoryLimit instead of growing an
// unbounded in-memory payload — and wraps it as a chunked lazy-push
// request body, so a caller never holds the whole serialized record in
// memory at once.
func EncodeBody(v interface{}, opts EncodeOptions) (*body.Body, error) {
	buf := buffer.New(buffer.DefaultMemoryLimit)
	if err := NewEncoder(buf, opts).Encode(v); err != nil {
		buf.Close()
		return nil, err
	}
	b := body.ChunkedLazyPush(func() body.PushFunc {
		return func(w body.Writer) error {
			// buf itself is closed via WithCloser below, not here: a
			// redirect replay calls this factory again and needs buf's
			// data intact across the retry.
			r, err := buf.Reader()
			if err != nil {
				return err
			}
			defer r.Close()
			chunk := make([]byte, 32*1024)
			for {
				n, rerr := r.Read(chunk)
				if n > 0 {
					if _, werr := w.Write(chunk[:n]); werr != nil {
						return werr
					}
				}
				if rerr == io.EOF {
					return nil
				}
				if rerr != nil {
					return errors.NewIOError("reading encoded json body", rerr)
				}
			}
		}
	})
	return b.WithCloser(buf.Close), nil
}
