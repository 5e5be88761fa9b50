package pipeline

import (
	"io"
	"strings"
	"time"

	"github.com/teaberrycow/asynchttp/pkg/errors"
)

const defaultLineReaderBufSize = 8192

// LineReader is the framing helper that replaces client.go's ad hoc
// bufio.Reader + textproto.Reader pairing with one explicit type. It
// serves two callers: the status-line/header scanner, which wants a
// char-at-a-time view with one-byte pushback, and the body readers,
// which want GetData's zero-copy bulk view straight into the internal
// buffer (valid only until the next call, same contract as
// Reader.ReadSome).
type LineReader struct {
	conn        Conn
	readTimeout time.Duration

	buf  []byte
	r, w int
	eof  bool
}

// NewLineReader wraps conn, applying readTimeout to every underlying
// fill before reporting an IoTimeoutError.
func NewLineReader(conn Conn, readTimeout time.Duration) *LineReader {
	return &LineReader{conn: conn, readTimeout: readTimeout, buf: make([]byte, defaultLineReaderBufSize)}
}

// fill reads more data from conn into buf, compacting first if the
// unread region has drifted to the end of the backing array.
func (lr *LineReader) fill() error {
	if lr.eof {
		return io.EOF
	}
	if lr.r > 0 && lr.w == len(lr.buf) {
		copy(lr.buf, lr.buf[lr.r:lr.w])
		lr.w -= lr.r
		lr.r = 0
	}
	if lr.w == len(lr.buf) {
		grown := make([]byte, len(lr.buf)*2)
		copy(grown, lr.buf[lr.r:lr.w])
		lr.w -= lr.r
		lr.r = 0
		lr.buf = grown
	}

	if lr.readTimeout > 0 {
		if err := lr.conn.SetReadDeadline(time.Now().Add(lr.readTimeout)); err != nil {
			return errors.NewIOError("setting read deadline", err)
		}
	}
	n, err := lr.conn.Read(lr.buf[lr.w:])
	lr.w += n
	if err != nil {
		if err == io.EOF {
			lr.eof = true
			if n > 0 {
				return nil
			}
			return io.EOF
		}
		return lr.translateReadErr(err)
	}
	return nil
}

// ReadByte returns the next unread byte, filling from conn if needed.
func (lr *LineReader) ReadByte() (byte, error) {
	if lr.r == lr.w {
		if err := lr.fill(); err != nil {
			return 0, err
		}
	}
	b := lr.buf[lr.r]
	lr.r++
	return b, nil
}

// UnreadByte pushes the last read byte back. Only a single level of
// pushback is guaranteed, matching bufio.Reader's own contract.
func (lr *LineReader) UnreadByte() error {
	if lr.r == 0 {
		return errors.NewValidationError("UnreadByte called with nothing to push back")
	}
	lr.r--
	return nil
}

// ReadLine reads up to and including the next "\n", returning the
// line with any trailing "\r\n" or "\n" stripped.
func (lr *LineReader) ReadLine() (string, error) {
	var sb strings.Builder
	for {
		b, err := lr.ReadByte()
		if err != nil {
			if err == io.EOF && sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
		if b == '\n' {
			line := sb.String()
			if strings.HasSuffix(line, "\r") {
				line = line[:len(line)-1]
			}
			return line, nil
		}
		sb.WriteByte(b)
	}
}

// GetData returns a zero-copy slice of up to max bytes of already
// buffered or freshly read data. The slice aliases LineReader's
// internal buffer and is only valid until the next call into lr.
func (lr *LineReader) GetData(max int) ([]byte, error) {
	if lr.r == lr.w {
		if err := lr.fill(); err != nil {
			return nil, err
		}
	}
	n := lr.w - lr.r
	if n > max {
		n = max
	}
	data := lr.buf[lr.r : lr.r+n]
	lr.r += n
	return data, nil
}

// Buffered reports how many bytes are immediately available without a
// further Read on the underlying connection.
func (lr *LineReader) Buffered() int {
	return lr.w - lr.r
}

// Peek returns up to n buffered bytes without consuming them,
// mirroring client.go's bufio.Reader.Peek usage for pipelined-
// response detection.
func (lr *LineReader) Peek(n int) ([]byte, error) {
	for lr.w-lr.r < n && !lr.eof {
		if err := lr.fill(); err != nil {
			break
		}
	}
	avail := lr.w - lr.r
	if avail < n {
		n = avail
	}
	return lr.buf[lr.r : lr.r+n], nil
}

func (lr *LineReader) translateReadErr(err error) error {
	if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		return errors.NewIOTimeoutError("read", lr.readTimeout)
	}
	return errors.NewIOError("read", err)
}
