package pipeline

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

// newTestConnPair returns both ends of an in-memory net.Pipe for tests
// that don't need a real socket.
func newTestConnPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	return a, b
}

func TestHeadersCaseInsensitive(t *testing.T) {
	h := NewHeaders()
	h.Set("content-type", "text/plain")
	if h.Get("Content-Type") != "text/plain" {
		t.Fatalf("Get = %q", h.Get("Content-Type"))
	}
	h.Add("X-Multi", "a")
	h.Add("x-multi", "b")
	if got := h.Values("X-MULTI"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Values = %v", got)
	}
}

func TestHeadersCloneIsIndependent(t *testing.T) {
	h := NewHeaders()
	h.Set("A", "1")
	c := h.Clone()
	c.Set("A", "2")
	if h.Get("A") != "1" {
		t.Fatal("clone mutation leaked into original")
	}
}

func TestPlainWriterStampsContentLength(t *testing.T) {
	client, server := newTestConnPair(t)
	defer client.Close()
	defer server.Close()

	w, err := NewWriterChain(client, 2*time.Second, WriterOptions{ContentLength: 5})
	if err != nil {
		t.Fatalf("NewWriterChain: %v", err)
	}
	h := NewHeaders()
	w.SetHeaders(h)
	if h.Get("Content-Length") != "5" {
		t.Fatalf("Content-Length = %q", h.Get("Content-Length"))
	}

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 5)
		io.ReadFull(server, buf)
		done <- buf
	}()

	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got := <-done
	if string(got) != "hello" {
		t.Fatalf("received %q", got)
	}
}

func TestChunkedWriterFramesAndTerminates(t *testing.T) {
	client, server := newTestConnPair(t)
	defer client.Close()
	defer server.Close()

	w, err := NewWriterChain(client, 2*time.Second, WriterOptions{Chunked: true})
	if err != nil {
		t.Fatalf("NewWriterChain: %v", err)
	}
	h := NewHeaders()
	w.SetHeaders(h)
	if h.Get("Transfer-Encoding") != "chunked" {
		t.Fatalf("Transfer-Encoding = %q", h.Get("Transfer-Encoding"))
	}

	recvDone := make(chan []byte, 1)
	go func() {
		buf, _ := io.ReadAll(server)
		recvDone <- buf
	}()

	if _, err := w.Write([]byte("hi")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	client.Close()

	got := <-recvDone
	want := "2\r\nhi\r\n0\r\n\r\n"
	if string(got) != want {
		t.Fatalf("framed bytes = %q, want %q", got, want)
	}
}

func TestLineReaderReadLine(t *testing.T) {
	client, server := newTestConnPair(t)
	defer client.Close()
	defer server.Close()

	go func() {
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"))
		server.Close()
	}()

	lr := NewLineReader(client, 2*time.Second)
	line, err := lr.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "HTTP/1.1 200 OK" {
		t.Fatalf("line = %q", line)
	}
	line2, err := lr.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line2 != "Content-Length: 2" {
		t.Fatalf("line2 = %q", line2)
	}
	blank, err := lr.ReadLine()
	if err != nil || blank != "" {
		t.Fatalf("blank = %q, err = %v", blank, err)
	}
	data, err := lr.GetData(2)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if string(data) != "hi" {
		t.Fatalf("GetData = %q", data)
	}
}

func TestPlainReaderRespectsContentLength(t *testing.T) {
	client, server := newTestConnPair(t)
	defer client.Close()
	defer server.Close()

	go func() {
		server.Write([]byte("hello world extra"))
		server.Close()
	}()

	lr := NewLineReader(client, 2*time.Second)
	reader, _, err := NewReaderChain(lr, ReaderOptions{ContentLength: 11})
	if err != nil {
		t.Fatalf("NewReaderChain: %v", err)
	}

	var got bytes.Buffer
	for !reader.IsEOF() {
		data, err := reader.ReadSome()
		if err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("ReadSome: %v", err)
		}
		got.Write(data)
	}
	if got.String() != "hello world" {
		t.Fatalf("got %q, want %q", got.String(), "hello world")
	}
}

func TestChunkedReaderReassemblesBodyAndTrailers(t *testing.T) {
	client, server := newTestConnPair(t)
	defer client.Close()
	defer server.Close()

	go func() {
		server.Write([]byte("5\r\nhello\r\n6\r\n world\r\n0\r\nX-Trailer: done\r\n\r\n"))
		server.Close()
	}()

	lr := NewLineReader(client, 2*time.Second)
	reader, trailers, err := NewReaderChain(lr, ReaderOptions{Chunked: true})
	if err != nil {
		t.Fatalf("NewReaderChain: %v", err)
	}

	var got bytes.Buffer
	for !reader.IsEOF() {
		data, err := reader.ReadSome()
		if err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("ReadSome: %v", err)
		}
		got.Write(data)
	}
	if got.String() != "hello world" {
		t.Fatalf("got %q", got.String())
	}
	if trailers.Get("X-Trailer") != "done" {
		t.Fatalf("trailer = %q", trailers.Get("X-Trailer"))
	}
}

func TestNoBodyReaderIsImmediatelyEOF(t *testing.T) {
	client, server := newTestConnPair(t)
	defer client.Close()
	defer server.Close()

	lr := NewLineReader(client, 2*time.Second)
	reader, _, err := NewReaderChain(lr, ReaderOptions{NoBody: true})
	if err != nil {
		t.Fatalf("NewReaderChain: %v", err)
	}
	if !reader.IsEOF() {
		t.Fatal("expected immediate EOF")
	}
	if _, err := reader.ReadSome(); err != io.EOF {
		t.Fatalf("ReadSome err = %v, want io.EOF", err)
	}
}

func TestUntilCloseReaderReadsToEOF(t *testing.T) {
	client, server := newTestConnPair(t)
	defer client.Close()
	defer server.Close()

	go func() {
		server.Write([]byte("streamed until close"))
		server.Close()
	}()

	lr := NewLineReader(client, 2*time.Second)
	reader, _, err := NewReaderChain(lr, ReaderOptions{UntilClose: true})
	if err != nil {
		t.Fatalf("NewReaderChain: %v", err)
	}

	var got bytes.Buffer
	for !reader.IsEOF() {
		data, err := reader.ReadSome()
		if err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("ReadSome: %v", err)
		}
		got.Write(data)
	}
	if got.String() != "streamed until close" {
		t.Fatalf("got %q", got.String())
	}
}

func TestGzipRoundTrip(t *testing.T) {
	clientW, serverW := newTestConnPair(t)
	defer clientW.Close()
	defer serverW.Close()

	w, err := NewWriterChain(clientW, 2*time.Second, WriterOptions{Chunked: true, Compression: CompressionGzip})
	if err != nil {
		t.Fatalf("NewWriterChain: %v", err)
	}

	recvDone := make(chan []byte, 1)
	go func() {
		buf, _ := io.ReadAll(serverW)
		recvDone <- buf
	}()

	payload := []byte("the quick brown fox jumps over the lazy dog, repeated for compressibility, repeated for compressibility")
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	clientW.Close()
	compressed := <-recvDone

	clientR, serverR := newTestConnPair(t)
	defer clientR.Close()
	defer serverR.Close()
	go func() {
		serverR.Write(compressed)
		serverR.Close()
	}()

	lr := NewLineReader(clientR, 2*time.Second)
	reader, _, err := NewReaderChain(lr, ReaderOptions{Chunked: true, Decompression: DecompressionGzip})
	if err != nil {
		t.Fatalf("NewReaderChain: %v", err)
	}
	var got bytes.Buffer
	for !reader.IsEOF() {
		data, err := reader.ReadSome()
		if err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("ReadSome: %v", err)
		}
		got.Write(data)
	}
	if got.String() != string(payload) {
		t.Fatalf("round trip mismatch: got %q", got.String())
	}
}
