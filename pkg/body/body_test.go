package body

import (
	"os"
	"testing"
)

func TestFixedStringKnownLength(t *testing.T) {
	b := FixedString([]byte("hello"))
	n, ok := b.KnownLength()
	if !ok || n != 5 {
		t.Fatalf("KnownLength = %d, %v; want 5, true", n, ok)
	}
	if string(b.FixedBytes()) != "hello" {
		t.Fatalf("FixedBytes = %q", b.FixedBytes())
	}
	if err := b.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
}

func TestFixedFileRoundTrip(t *testing.T) {
	f, err := os.CreateTemp("", "body-test-*.txt")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString("file payload"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	f.Close()

	b, err := FixedFile(f.Name())
	if err != nil {
		t.Fatalf("FixedFile: %v", err)
	}
	defer b.Close()

	n, ok := b.KnownLength()
	if !ok || n != int64(len("file payload")) {
		t.Fatalf("KnownLength = %d, %v", n, ok)
	}

	buf := make([]byte, n)
	if _, err := b.FileReader().Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "file payload" {
		t.Fatalf("content = %q", buf)
	}

	if err := b.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	buf2 := make([]byte, n)
	if _, err := b.FileReader().Read(buf2); err != nil {
		t.Fatalf("Read after reset: %v", err)
	}
	if string(buf2) != "file payload" {
		t.Fatalf("content after reset = %q", buf2)
	}
}

func TestChunkedLazyPullResetReinvokesFactory(t *testing.T) {
	calls := 0
	factory := func() PullFunc {
		calls++
		chunks := [][]byte{[]byte("a"), []byte("b")}
		i := 0
		return func() ([]byte, bool, error) {
			if i >= len(chunks) {
				return nil, false, nil
			}
			c := chunks[i]
			i++
			return c, i < len(chunks), nil
		}
	}

	b := ChunkedLazyPull(factory)
	if calls != 1 {
		t.Fatalf("factory called %d times on construction, want 1", calls)
	}

	data, more, err := b.Pull()
	if err != nil || string(data) != "a" || !more {
		t.Fatalf("Pull = %q, %v, %v", data, more, err)
	}
	if _, _, err := b.Pull(); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	if err := b.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if calls != 2 {
		t.Fatalf("factory called %d times after Reset, want 2", calls)
	}
	data, more, err = b.Pull()
	if err != nil || string(data) != "a" || !more {
		t.Fatalf("Pull after reset = %q, %v, %v", data, more, err)
	}
}

type recordingWriter struct {
	written []byte
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.written = append(w.written, p...)
	return len(p), nil
}

func TestChunkedLazyPushWritesIntoWriter(t *testing.T) {
	factory := func() PushFunc {
		return func(w Writer) error {
			_, err := w.Write([]byte("pushed"))
			return err
		}
	}
	b := ChunkedLazyPush(factory)

	w := &recordingWriter{}
	if err := b.Push(w); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if string(w.written) != "pushed" {
		t.Fatalf("written = %q", w.written)
	}
}

func TestUnknownLengthForLazyVariants(t *testing.T) {
	b := ChunkedLazyPull(func() PullFunc { return func() ([]byte, bool, error) { return nil, false, nil } })
	if _, ok := b.KnownLength(); ok {
		t.Fatal("expected KnownLength to report unknown for a lazy-pull body")
	}
}
