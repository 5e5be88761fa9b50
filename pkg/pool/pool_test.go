package pool

import (
	"net"
	"testing"
	"time"

	"github.com/teaberrycow/asynchttp/pkg/errors"
)

// fakeConn is a minimal net.Conn for pool bookkeeping tests; no bytes
// ever cross it.
type fakeConn struct {
	net.Conn
	closed bool
}

func (c *fakeConn) Close() error                       { c.closed = true; return nil }
func (c *fakeConn) LocalAddr() net.Addr                { return fakeAddr("local") }
func (c *fakeConn) RemoteAddr() net.Addr               { return fakeAddr("remote") }
func (c *fakeConn) SetDeadline(time.Time) error        { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error    { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error   { return nil }

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

func newFakeConn() *fakeConn { return &fakeConn{} }

func TestAcquireOnEmptyPoolReservesSlot(t *testing.T) {
	p := New(Config{CleanupInterval: time.Hour})
	defer p.Close()

	key := Key{Endpoint: "example.com:443", Transport: "tls"}
	conn, _, reused, err := p.Acquire(key)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if reused || conn != nil {
		t.Fatalf("expected no idle conn on empty pool, got reused=%v conn=%v", reused, conn)
	}
}

func TestReleaseThenAcquireReusesConnection(t *testing.T) {
	p := New(Config{CleanupInterval: time.Hour})
	defer p.Close()

	key := Key{Endpoint: "example.com:443", Transport: "tls"}
	p.Acquire(key)
	c := newFakeConn()
	p.Release(key, c, Metadata{ConnectionID: 1})

	conn, meta, reused, err := p.Acquire(key)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !reused {
		t.Fatal("expected reused connection")
	}
	if conn != c {
		t.Fatal("expected the same connection back")
	}
	if !meta.ConnectionReused {
		t.Fatal("expected ConnectionReused to be set")
	}
}

func TestReleaseBeyondPerEndpointCapCloses(t *testing.T) {
	p := New(Config{MaxConnectionsPerEndpoint: 1, CleanupInterval: time.Hour})
	defer p.Close()

	key := Key{Endpoint: "example.com:443", Transport: "tls"}
	// AcquireFresh bypasses the per-endpoint cap the way a forced-fresh
	// dial does, so two connections can be active at once here to
	// exercise Release's own idle-list eviction below.
	p.AcquireFresh(key)
	p.AcquireFresh(key)

	first := newFakeConn()
	second := newFakeConn()
	p.Release(key, first, Metadata{})
	p.Release(key, second, Metadata{})

	if !second.closed {
		t.Fatal("expected second connection to be closed once per-endpoint cap was hit")
	}
	if first.closed {
		t.Fatal("expected first connection to remain idle")
	}
}

func TestReleaseBeyondGlobalCapEvictsLRU(t *testing.T) {
	p := New(Config{MaxConnections: 1, MaxConnectionsPerEndpoint: 8, CleanupInterval: time.Hour})
	defer p.Close()

	keyA := Key{Endpoint: "a.example.com:443", Transport: "tls"}
	keyB := Key{Endpoint: "b.example.com:443", Transport: "tls"}

	// AcquireFresh bypasses the global cap the way a forced-fresh dial
	// does, so two connections can be active at once here to exercise
	// Release's own idle-list eviction below, independent of Acquire's
	// cap check.
	p.AcquireFresh(keyA)
	p.AcquireFresh(keyB)

	older := newFakeConn()
	p.Release(keyA, older, Metadata{})
	time.Sleep(2 * time.Millisecond)
	newer := newFakeConn()
	p.Release(keyB, newer, Metadata{})

	if !older.closed {
		t.Fatal("expected globally oldest idle connection to be evicted")
	}
	if newer.closed {
		t.Fatal("expected newest connection to remain idle after eviction")
	}
	if p.Stats().IdleConns != 1 {
		t.Fatalf("IdleConns = %d, want 1", p.Stats().IdleConns)
	}
}

func TestAcquireBeyondPerEndpointCapFailsWithConstraintError(t *testing.T) {
	p := New(Config{MaxConnectionsPerEndpoint: 1, CleanupInterval: time.Hour})
	defer p.Close()

	key := Key{Endpoint: "example.com:443", Transport: "tls"}
	if _, _, _, err := p.Acquire(key); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	_, _, _, err := p.Acquire(key)
	if errors.GetKind(err) != errors.KindConstraint {
		t.Fatalf("second Acquire err = %v, want ConstraintError", err)
	}

	if p.Stats().ActiveConns != 1 {
		t.Fatalf("ActiveConns = %d, want 1", p.Stats().ActiveConns)
	}
}

func TestAcquireFreshBypassesPerEndpointCap(t *testing.T) {
	p := New(Config{MaxConnectionsPerEndpoint: 1, CleanupInterval: time.Hour})
	defer p.Close()

	key := Key{Endpoint: "example.com:443", Transport: "tls"}
	if _, _, _, err := p.Acquire(key); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := p.AcquireFresh(key); err != nil {
		t.Fatalf("AcquireFresh should bypass the per-endpoint cap: %v", err)
	}

	if p.Stats().ActiveConns != 2 {
		t.Fatalf("ActiveConns = %d, want 2", p.Stats().ActiveConns)
	}
}

func TestAcquireBeyondGlobalCapEvictsIdleToMakeRoom(t *testing.T) {
	p := New(Config{MaxConnections: 1, MaxConnectionsPerEndpoint: 8, CleanupInterval: time.Hour})
	defer p.Close()

	keyA := Key{Endpoint: "a.example.com:443", Transport: "tls"}
	keyB := Key{Endpoint: "b.example.com:443", Transport: "tls"}

	p.Acquire(keyA)
	older := newFakeConn()
	p.Release(keyA, older, Metadata{})

	_, _, reused, err := p.Acquire(keyB)
	if err != nil {
		t.Fatalf("Acquire(keyB): %v", err)
	}
	if reused {
		t.Fatal("expected a fresh dial for keyB, not the evicted connection")
	}
	if !older.closed {
		t.Fatal("expected the globally oldest idle connection to be evicted to make room")
	}
	if p.Stats().IdleConns != 0 {
		t.Fatalf("IdleConns = %d, want 0", p.Stats().IdleConns)
	}
}

func TestAcquireBeyondGlobalCapFailsWithNoIdleToEvict(t *testing.T) {
	p := New(Config{MaxConnections: 1, MaxConnectionsPerEndpoint: 8, CleanupInterval: time.Hour})
	defer p.Close()

	keyA := Key{Endpoint: "a.example.com:443", Transport: "tls"}
	keyB := Key{Endpoint: "b.example.com:443", Transport: "tls"}

	if _, _, _, err := p.Acquire(keyA); err != nil {
		t.Fatalf("Acquire(keyA): %v", err)
	}

	_, _, _, err := p.Acquire(keyB)
	if errors.GetKind(err) != errors.KindConstraint {
		t.Fatalf("Acquire(keyB) err = %v, want ConstraintError", err)
	}
}

func TestAcquireAfterCloseReturnsObjectExpired(t *testing.T) {
	p := New(Config{CleanupInterval: time.Hour})
	p.Close()

	_, _, _, err := p.Acquire(Key{Endpoint: "x:443", Transport: "tls"})
	if errors.GetKind(err) != errors.KindObjectExpired {
		t.Fatalf("err = %v, want ObjectExpired", err)
	}
}

func TestCloseClosesIdleConnections(t *testing.T) {
	p := New(Config{CleanupInterval: time.Hour})
	key := Key{Endpoint: "x:443", Transport: "tls"}
	p.Acquire(key)
	c := newFakeConn()
	p.Release(key, c, Metadata{})

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !c.closed {
		t.Fatal("expected idle connection to be closed on pool shutdown")
	}
}

func TestDiscardDecrementsActiveWithoutIdling(t *testing.T) {
	p := New(Config{CleanupInterval: time.Hour})
	defer p.Close()

	key := Key{Endpoint: "x:443", Transport: "tls"}
	p.Acquire(key)
	c := newFakeConn()
	p.Discard(key, c)

	if !c.closed {
		t.Fatal("expected discarded connection to be closed")
	}
	if p.Stats().IdleConns != 0 {
		t.Fatalf("IdleConns = %d, want 0", p.Stats().IdleConns)
	}
}

func TestSweepEvictsExpiredIdleConnections(t *testing.T) {
	p := New(Config{TTL: 5 * time.Millisecond, CleanupInterval: 5 * time.Millisecond})
	defer p.Close()

	key := Key{Endpoint: "x:443", Transport: "tls"}
	p.Acquire(key)
	c := newFakeConn()
	p.Release(key, c, Metadata{})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Stats().IdleConns == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !c.closed {
		t.Fatal("expected sweeper to close expired idle connection")
	}
}

func TestNextConnectionIDIncrements(t *testing.T) {
	p := New(Config{CleanupInterval: time.Hour})
	defer p.Close()

	a := p.NextConnectionID()
	b := p.NextConnectionID()
	if b != a+1 {
		t.Fatalf("expected monotonically increasing IDs, got %d then %d", a, b)
	}
}
