package pipeline

import (
	"strconv"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/teaberrycow/asynchttp/pkg/errors"
)

// Writer is the outgoing-body filter interface. Write runs the full
// chain's transforms (compression, then framing); WriteDirect skips
// every filter's own transform and hands bytes straight to the
// socket, used for request-line and header bytes that must never be
// compressed or chunk-framed. Finish flushes bottom-up and, for
// chunked encoding, emits the terminating zero chunk and trailers.
type Writer interface {
	Write(p []byte) (int, error)
	WriteDirect(p []byte) (int, error)
	Finish() error
	SetHeaders(h Headers)
}

// Compression selects the request-body compression filter, if any.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionDeflate
)

// WriterOptions configures NewWriterChain.
type WriterOptions struct {
	// ContentLength is used by plainWriter when Chunked is false.
	ContentLength int64
	Chunked       bool
	Compression   Compression
}

// NewWriterChain builds the bottom-up writer chain:
// ioWriter -> {plainWriter | chunkedWriter} ->
// {gzipWriter | deflateWriter}?
func NewWriterChain(conn Conn, writeTimeout time.Duration, opts WriterOptions) (Writer, error) {
	bottom := &ioWriter{conn: conn, writeTimeout: writeTimeout}

	var framed Writer
	if opts.Chunked {
		framed = &chunkedWriter{next: bottom}
	} else {
		framed = &plainWriter{next: bottom, contentLength: opts.ContentLength}
	}

	switch opts.Compression {
	case CompressionGzip:
		return newGzipWriter(framed)
	case CompressionDeflate:
		return newDeflateWriter(framed)
	default:
		return framed, nil
	}
}

// ioWriter is the bottom of the chain: it owns the socket and is the
// only layer that performs a real blocking Write.
type ioWriter struct {
	conn         Conn
	writeTimeout time.Duration
}

func (w *ioWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if w.writeTimeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
			return 0, errors.NewIOError("setting write deadline", err)
		}
	}
	written := 0
	for written < len(p) {
		n, err := w.conn.Write(p[written:])
		written += n
		if err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				return written, errors.NewIOTimeoutError("write", w.writeTimeout)
			}
			return written, errors.NewIOError("writing request", err)
		}
	}
	return written, nil
}

func (w *ioWriter) WriteDirect(p []byte) (int, error) { return w.Write(p) }
func (w *ioWriter) Finish() error                     { return nil }
func (w *ioWriter) SetHeaders(Headers)                {}

// plainWriter passes bytes through untouched and stamps
// Content-Length, used whenever the body's length is known ahead of
// time (FixedString/FixedFile bodies).
type plainWriter struct {
	next          Writer
	contentLength int64
}

func (w *plainWriter) Write(p []byte) (int, error)       { return w.next.Write(p) }
func (w *plainWriter) WriteDirect(p []byte) (int, error) { return w.next.WriteDirect(p) }
func (w *plainWriter) Finish() error                     { return w.next.Finish() }
func (w *plainWriter) SetHeaders(h Headers) {
	h.Set("Content-Length", strconv.FormatInt(w.contentLength, 10))
	w.next.SetHeaders(h)
}

// chunkedWriter frames every Write in HTTP/1.1 chunked encoding, used
// for the two lazy body variants whose total length isn't known up
// front.
type chunkedWriter struct {
	next     Writer
	trailers Headers
}

func (w *chunkedWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	size := []byte(strconv.FormatInt(int64(len(p)), 16) + "\r\n")
	if _, err := w.next.WriteDirect(size); err != nil {
		return 0, err
	}
	n, err := w.next.WriteDirect(p)
	if err != nil {
		return n, err
	}
	if _, err := w.next.WriteDirect([]byte("\r\n")); err != nil {
		return n, err
	}
	return n, nil
}

func (w *chunkedWriter) WriteDirect(p []byte) (int, error) { return w.next.WriteDirect(p) }

func (w *chunkedWriter) Finish() error {
	if _, err := w.next.WriteDirect([]byte("0\r\n")); err != nil {
		return err
	}
	for key, values := range w.trailers {
		for _, v := range values {
			if _, err := w.next.WriteDirect([]byte(key + ": " + v + "\r\n")); err != nil {
				return err
			}
		}
	}
	if _, err := w.next.WriteDirect([]byte("\r\n")); err != nil {
		return err
	}
	return w.next.Finish()
}

func (w *chunkedWriter) SetHeaders(h Headers) {
	h.Set("Transfer-Encoding", "chunked")
	w.next.SetHeaders(h)
}

// SetTrailers records trailer headers to be emitted by Finish. It is a
// method of chunkedWriter only; the Writer interface and the other
// layers do not have it.
func (w *chunkedWriter) SetTrailers(h Headers) { w.trailers = h }

// funcWriter adapts a plain func([]byte) (int, error) to io.Writer so
// klauspost's gzip/flate writers can target the writer chain's Write
// method without the chain implementing io.Writer itself.
type funcWriter func(p []byte) (int, error)

func (f funcWriter) Write(p []byte) (int, error) { return f(p) }

// gzipWriter compresses everything written to it before handing the
// compressed bytes down to the framing layer.
type gzipWriter struct {
	next Writer
	gz   *gzip.Writer
}

func newGzipWriter(next Writer) (*gzipWriter, error) {
	return &gzipWriter{next: next, gz: gzip.NewWriter(funcWriter(next.Write))}, nil
}

func (w *gzipWriter) Write(p []byte) (int, error) {
	n, err := w.gz.Write(p)
	if err != nil {
		return n, errors.NewIOError("gzip compress", err)
	}
	return n, nil
}

func (w *gzipWriter) WriteDirect(p []byte) (int, error) { return w.next.WriteDirect(p) }

func (w *gzipWriter) Finish() error {
	if err := w.gz.Close(); err != nil {
		return errors.NewIOError("gzip finish", err)
	}
	return w.next.Finish()
}

func (w *gzipWriter) SetHeaders(h Headers) {
	h.Set("Content-Encoding", "gzip")
	w.next.SetHeaders(h)
}

// deflateWriter compresses with raw DEFLATE before handing the result
// to the framing layer.
type deflateWriter struct {
	next Writer
	fl   *flate.Writer
}

func newDeflateWriter(next Writer) (*deflateWriter, error) {
	fl, err := flate.NewWriter(funcWriter(next.Write), flate.DefaultCompression)
	if err != nil {
		return nil, errors.NewIOError("creating deflate writer", err)
	}
	return &deflateWriter{next: next, fl: fl}, nil
}

func (w *deflateWriter) Write(p []byte) (int, error) {
	n, err := w.fl.Write(p)
	if err != nil {
		return n, errors.NewIOError("deflate compress", err)
	}
	return n, nil
}

func (w *deflateWriter) WriteDirect(p []byte) (int, error) { return w.next.WriteDirect(p) }

func (w *deflateWriter) Finish() error {
	if err := w.fl.Close(); err != nil {
		return errors.NewIOError("deflate finish", err)
	}
	return w.next.Finish()
}

func (w *deflateWriter) SetHeaders(h Headers) {
	h.Set("Content-Encoding", "deflate")
	w.next.SetHeaders(h)
}
