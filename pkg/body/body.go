// Package body implements the tagged union of request body producers
// the engine can serialize: one known-length in-memory payload, one
// known-length file, and two streaming flavors for bodies whose total
// length isn't known up front.
package body

import (
	"io"
	"os"

	"github.com/teaberrycow/asynchttp/pkg/errors"
)

// Writer is the minimal surface a ChunkedLazyPush producer writes
// into. pkg/pipeline's Writer implements this structurally; body does
// not import pipeline to avoid a cycle between the two packages.
type Writer interface {
	Write(p []byte) (int, error)
}

// Kind tags which variant of the union is active.
type Kind int

const (
	KindFixedString Kind = iota
	KindFixedFile
	KindChunkedLazyPull
	KindChunkedLazyPush
)

func (k Kind) String() string {
	switch k {
	case KindFixedString:
		return "fixed_string"
	case KindFixedFile:
		return "fixed_file"
	case KindChunkedLazyPull:
		return "chunked_lazy_pull"
	case KindChunkedLazyPush:
		return "chunked_lazy_push"
	default:
		return "unknown"
	}
}

// PullFunc produces the next chunk of body data. more reports whether
// another call will yield additional data.
type PullFunc func() (data []byte, more bool, err error)

// PushFunc writes the entire body directly into w.
type PushFunc func(w Writer) error

// Body is the tagged union consumed by the writer chain. The zero
// value is an empty FixedString body.
type Body struct {
	kind Kind

	fixedData []byte

	filePath string
	file     *os.File
	fileSize int64

	pullFactory func() PullFunc
	pull        PullFunc

	pushFactory func() PushFunc
	push        PushFunc

	closer func() error
}

// WithCloser attaches a cleanup hook Close invokes once, after any
// kind-specific cleanup. It lets a lazy body's factory own a resource
// (a spooled buffer, a pipe) that outlives any single Pull/Push call —
// freed only when the engine is done with the body entirely, not on
// every redirect replay.
func (b *Body) WithCloser(f func() error) *Body {
	b.closer = f
	return b
}

// FixedString returns a body whose entire content is data, with a
// known Content-Length.
func FixedString(data []byte) *Body {
	return &Body{kind: KindFixedString, fixedData: data}
}

// FixedFile returns a body backed by the file at path, opened right
// away; Reset rewinds it for replay, reopening it if it was closed.
func FixedFile(path string) (*Body, error) {
	b := &Body{kind: KindFixedFile, filePath: path}
	if err := b.openFile(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Body) openFile() error {
	f, err := os.Open(b.filePath)
	if err != nil {
		return errors.NewIOError("opening body file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return errors.NewIOError("stat body file", err)
	}
	b.file = f
	b.fileSize = info.Size()
	return nil
}

// ChunkedLazyPull returns a body whose bytes are produced on demand by
// calls to the function factory() returns. factory is invoked again on
// Reset so a redirect replay starts the producer over from scratch.
func ChunkedLazyPull(factory func() PullFunc) *Body {
	b := &Body{kind: KindChunkedLazyPull, pullFactory: factory}
	b.pull = factory()
	return b
}

// ChunkedLazyPush returns a body whose bytes are written directly into
// the active writer chain by the function factory() returns.
func ChunkedLazyPush(factory func() PushFunc) *Body {
	b := &Body{kind: KindChunkedLazyPush, pushFactory: factory}
	b.push = factory()
	return b
}

// Kind reports which variant is active.
func (b *Body) Kind() Kind { return b.kind }

// KnownLength reports the body's byte count and whether that count is
// known ahead of serialization. Only FixedString/FixedFile bodies have
// a known length; the two lazy variants require chunked framing.
func (b *Body) KnownLength() (int64, bool) {
	switch b.kind {
	case KindFixedString:
		return int64(len(b.fixedData)), true
	case KindFixedFile:
		return b.fileSize, true
	default:
		return 0, false
	}
}

// FixedBytes returns the payload for a FixedString body.
func (b *Body) FixedBytes() []byte { return b.fixedData }

// FileReader returns the open file for a FixedFile body.
func (b *Body) FileReader() io.Reader { return b.file }

// Pull advances a ChunkedLazyPull body by one chunk.
func (b *Body) Pull() ([]byte, bool, error) {
	if b.pull == nil {
		return nil, false, errors.NewValidationError("Pull called on a body with no pull producer")
	}
	return b.pull()
}

// Push drains a ChunkedLazyPush body directly into w.
func (b *Body) Push(w Writer) error {
	if b.push == nil {
		return errors.NewValidationError("Push called on a body with no push producer")
	}
	return b.push(w)
}

// Reset rewinds the body so it can be replayed, required after a
// redirect that preserves the request method and body (307/308, and
// 301/302 for methods other than POST) and before the 401 basic-auth
// retry.
func (b *Body) Reset() error {
	switch b.kind {
	case KindFixedString:
		return nil
	case KindFixedFile:
		if b.file != nil {
			if _, err := b.file.Seek(0, io.SeekStart); err == nil {
				return nil
			}
			b.file.Close()
		}
		return b.openFile()
	case KindChunkedLazyPull:
		if b.pullFactory == nil {
			return errors.NewValidationError("cannot reset a chunked pull body with no factory")
		}
		b.pull = b.pullFactory()
		return nil
	case KindChunkedLazyPush:
		if b.pushFactory == nil {
			return errors.NewValidationError("cannot reset a chunked push body with no factory")
		}
		b.push = b.pushFactory()
		return nil
	default:
		return errors.NewValidationError("unknown body kind")
	}
}

// Close releases any resources the body holds open (the file handle of
// a FixedFile body) and runs the WithCloser hook, if any, once.
func (b *Body) Close() error {
	var err error
	if b.kind == KindFixedFile && b.file != nil {
		err = b.file.Close()
		b.file = nil
	}
	if b.closer != nil {
		if cerr := b.closer(); err == nil {
			err = cerr
		}
		b.closer = nil
	}
	return err
}
