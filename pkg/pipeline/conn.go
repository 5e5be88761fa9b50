package pipeline

import (
	"io"
	"time"
)

// Conn is the subset of net.Conn the pipeline needs: a byte stream
// plus per-call deadlines, exactly what ioWriter/ioReader set before
// every blocking Read/Write the way client.go's sendRequest and
// readResponse do with conn.SetWriteDeadline/SetReadDeadline.
type Conn interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}
