package pipeline

import (
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/teaberrycow/asynchttp/pkg/errors"
)

// Reader is the incoming-body filter interface. Buffers returned by
// ReadSome alias internal storage and are valid only until the next
// call, matching client.go's buffer-reuse style in
// readChunkedBody/readFixedBody.
type Reader interface {
	ReadSome() ([]byte, error)
	IsEOF() bool
}

// Decompression selects the response-body decompression filter, if
// any, driven by the Content-Encoding header.
type Decompression int

const (
	DecompressionNone Decompression = iota
	DecompressionGzip
	DecompressionDeflate
)

// ReaderOptions configures NewReaderChain.
type ReaderOptions struct {
	Chunked bool
	NoBody  bool
	// UntilClose selects client.go's readUntilClose behavior: no
	// Content-Length and no chunked framing, so the body runs until
	// the connection closes. Mutually exclusive with Chunked/NoBody.
	UntilClose    bool
	ContentLength int64 // used when none of Chunked/NoBody/UntilClose
	Decompression Decompression
}

// NewReaderChain builds the top-down reader chain:
// lineFramingStream -> {chunkedReader | plainReader | noBodyReader}
// -> {gzipReader | deflateReader}?. lr is shared with
// the status-line/header scanner that read from the same connection
// before the body reader was built.
func NewReaderChain(lr *LineReader, opts ReaderOptions) (Reader, Headers, error) {
	var base Reader
	trailers := NewHeaders()
	switch {
	case opts.NoBody:
		base = &noBodyReader{}
	case opts.Chunked:
		cr := &chunkedReader{lr: lr, trailers: trailers}
		base = cr
	case opts.UntilClose:
		base = &untilCloseReader{lr: lr}
	default:
		base = &plainReader{lr: lr, remaining: opts.ContentLength}
	}

	switch opts.Decompression {
	case DecompressionGzip:
		r, err := newGzipReader(base)
		return r, trailers, err
	case DecompressionDeflate:
		r, err := newDeflateReader(base)
		return r, trailers, err
	default:
		return base, trailers, nil
	}
}

// noBodyReader backs HEAD responses and the bodyless status codes
// (1xx, 204, 304) client.go special-cases in readBody.
type noBodyReader struct{}

func (r *noBodyReader) ReadSome() ([]byte, error) { return nil, io.EOF }
func (r *noBodyReader) IsEOF() bool               { return true }

// plainReader reads exactly Content-Length bytes and no more.
type plainReader struct {
	lr        *LineReader
	remaining int64
	eof       bool
}

func (r *plainReader) ReadSome() ([]byte, error) {
	if r.remaining <= 0 {
		r.eof = true
		return nil, io.EOF
	}
	max := r.remaining
	if max > 65536 {
		max = 65536
	}
	data, err := r.lr.GetData(int(max))
	if err != nil {
		if err == io.EOF {
			// Content-Length overstated what the server actually sent;
			// client.go's readFixedBody accepts this silently.
			r.eof = true
			return nil, io.EOF
		}
		return nil, err
	}
	r.remaining -= int64(len(data))
	if r.remaining <= 0 {
		r.eof = true
	}
	return data, nil
}

func (r *plainReader) IsEOF() bool { return r.eof }

// chunkedReader reassembles an HTTP/1.1 chunked body, recording
// trailer headers into the shared Headers the caller passed to
// NewReaderChain.
type chunkedReader struct {
	lr        *LineReader
	trailers  Headers
	remaining int64
	eof       bool
	inTrailer bool
}

func (r *chunkedReader) ReadSome() ([]byte, error) {
	if r.eof {
		return nil, io.EOF
	}
	if r.remaining == 0 {
		if err := r.readChunkHeader(); err != nil {
			return nil, err
		}
		if r.eof {
			return nil, io.EOF
		}
	}

	max := r.remaining
	if max > 65536 {
		max = 65536
	}
	data, err := r.lr.GetData(int(max))
	if err != nil {
		return nil, errors.NewIOError("reading chunk body", err)
	}
	r.remaining -= int64(len(data))
	if r.remaining == 0 {
		if _, err := r.consumeCRLF(); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (r *chunkedReader) readChunkHeader() error {
	line, err := r.lr.ReadLine()
	if err != nil {
		return errors.NewProtocolError("chunk size", "reading chunk size", err)
	}
	sizeStr := line
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		sizeStr = line[:idx]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(sizeStr), 16, 64)
	if err != nil {
		return errors.NewParseError("chunk size", "invalid chunk size", err)
	}
	if size == 0 {
		return r.readTrailers()
	}
	r.remaining = size
	return nil
}

func (r *chunkedReader) consumeCRLF() (bool, error) {
	line, err := r.lr.ReadLine()
	if err != nil {
		return false, errors.NewIOError("reading chunk CRLF", err)
	}
	if line != "" {
		return false, errors.NewProtocolError("chunk terminator", "malformed chunk terminator", nil)
	}
	return true, nil
}

func (r *chunkedReader) readTrailers() error {
	for {
		line, err := r.lr.ReadLine()
		if err != nil {
			return errors.NewProtocolError("chunk trailer", "reading chunk trailer", err)
		}
		if line == "" {
			break
		}
		if idx := strings.IndexByte(line, ':'); idx >= 0 {
			r.trailers.Add(line[:idx], strings.TrimSpace(line[idx+1:]))
		}
	}
	r.eof = true
	return nil
}

func (r *chunkedReader) IsEOF() bool { return r.eof }

// untilCloseReader reads until the server closes the connection,
// generalizing client.go's readUntilClose for responses with
// neither Content-Length nor chunked framing.
type untilCloseReader struct {
	lr  *LineReader
	eof bool
}

func (r *untilCloseReader) ReadSome() ([]byte, error) {
	if r.eof {
		return nil, io.EOF
	}
	data, err := r.lr.GetData(65536)
	if err != nil {
		if err == io.EOF {
			r.eof = true
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (r *untilCloseReader) IsEOF() bool { return r.eof }

// readerAdapter exposes a Reader as io.Reader so klauspost's gzip/
// flate decoders, which want the standard interface, can sit on top
// of the chunked/plain readers without those readers themselves
// implementing io.Reader.
type readerAdapter struct {
	src     Reader
	pending []byte
}

func (a *readerAdapter) Read(p []byte) (int, error) {
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

// gzipReader decompresses a lower Reader's bytes into a fixed output
// buffer per ReadSome call.
type gzipReader struct {
	adapter *readerAdapter
	gz      *gzip.Reader
	out     []byte
	eof     bool
}

func newGzipReader(lower Reader) (*gzipReader, error) {
	adapter := &readerAdapter{src: lower}
	gz, err := gzip.NewReader(adapter)
	if err != nil {
		return nil, errors.NewDecompressError("gzip init", err)
	}
	return &gzipReader{adapter: adapter, gz: gz, out: make([]byte, 65536)}, nil
}

func (r *gzipReader) ReadSome() ([]byte, error) {
	if r.eof {
		return nil, io.EOF
	}
	n, err := r.gz.Read(r.out)
	if err != nil {
		if err == io.EOF {
			r.eof = true
			if n == 0 {
				return nil, io.EOF
			}
			return r.out[:n], nil
		}
		return nil, errors.NewDecompressError("gzip inflate", err)
	}
	return r.out[:n], nil
}

func (r *gzipReader) IsEOF() bool { return r.eof }

// deflateReader decompresses a lower Reader's bytes as raw DEFLATE
// into a fixed output buffer per ReadSome call.
type deflateReader struct {
	adapter *readerAdapter
	fl      io.ReadCloser
	out     []byte
	eof     bool
}

func newDeflateReader(lower Reader) (*deflateReader, error) {
	adapter := &readerAdapter{src: lower}
	return &deflateReader{adapter: adapter, fl: flate.NewReader(adapter), out: make([]byte, 65536)}, nil
}

func (r *deflateReader) ReadSome() ([]byte, error) {
	if r.eof {
		return nil, io.EOF
	}
	n, err := r.fl.Read(r.out)
	if err != nil {
		if err == io.EOF {
			r.eof = true
			if n == 0 {
				return nil, io.EOF
			}
			return r.out[:n], nil
		}
		return nil, errors.NewDecompressError("deflate inflate", err)
	}
	return r.out[:n], nil
}

func (r *deflateReader) IsEOF() bool { return r.eof }
