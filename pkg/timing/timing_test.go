package timing

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerRecordsPhaseDurations(t *testing.T) {
	timer := NewTimer()

	timer.StartDNS()
	time.Sleep(5 * time.Millisecond)
	timer.EndDNS()

	timer.StartTCP()
	time.Sleep(5 * time.Millisecond)
	timer.EndTCP()

	timer.StartSend()
	time.Sleep(5 * time.Millisecond)
	timer.EndSend()

	timer.StartTTFB()
	time.Sleep(5 * time.Millisecond)
	timer.EndTTFB()

	m := timer.GetMetrics()
	if m.DNSLookup < time.Millisecond {
		t.Errorf("DNSLookup = %v, want > 1ms", m.DNSLookup)
	}
	if m.TCPConnect < time.Millisecond {
		t.Errorf("TCPConnect = %v, want > 1ms", m.TCPConnect)
	}
	if m.Send < time.Millisecond {
		t.Errorf("Send = %v, want > 1ms", m.Send)
	}
	if m.TTFB < time.Millisecond {
		t.Errorf("TTFB = %v, want > 1ms", m.TTFB)
	}
	if m.TLSHandshake != 0 {
		t.Errorf("TLSHandshake = %v, want 0 (never started)", m.TLSHandshake)
	}
	if m.TotalTime <= 0 {
		t.Error("TotalTime should be positive")
	}
	if m.GetConnectionTime() != m.DNSLookup+m.TCPConnect+m.TLSHandshake {
		t.Error("GetConnectionTime should sum DNS+TCP+TLS")
	}
	if m.String() == "" {
		t.Error("String() should not be empty")
	}
}

type fakeCloser struct {
	closed int32
}

func (f *fakeCloser) Close() error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

func TestCancelTimerFiresAndClosesTarget(t *testing.T) {
	target := &fakeCloser{}
	fired := make(chan struct{})
	ct := NewCancelTimer(5*time.Millisecond, target, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("onFire never ran")
	}
	if atomic.LoadInt32(&target.closed) != 1 {
		t.Fatalf("target.closed = %d, want 1", target.closed)
	}
	if !ct.Fired() {
		t.Error("Fired() = false after firing")
	}
}

func TestCancelTimerCancelPreventsClose(t *testing.T) {
	target := &fakeCloser{}
	ct := NewCancelTimer(20*time.Millisecond, target, nil)
	ct.Cancel()
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&target.closed) != 0 {
		t.Fatal("target closed after Cancel")
	}
	if ct.Fired() {
		t.Error("Fired() = true after Cancel")
	}
}

func TestCancelTimerDetachSurvivesLateFire(t *testing.T) {
	target := &fakeCloser{}
	ct := NewCancelTimer(1*time.Millisecond, target, nil)
	time.Sleep(10 * time.Millisecond) // let it fire
	ct.Detach()                       // idempotent even after firing
	if atomic.LoadInt32(&target.closed) != 1 {
		t.Fatal("expected target closed exactly once before detach")
	}
}

func TestCancelTimerNonPositiveDurationNeverFires(t *testing.T) {
	target := &fakeCloser{}
	ct := NewCancelTimer(0, target, nil)
	time.Sleep(10 * time.Millisecond)
	if atomic.LoadInt32(&target.closed) != 0 {
		t.Fatal("zero-duration CancelTimer fired")
	}
	if ct.Fired() {
		t.Error("Fired() = true for a disabled timer")
	}
}
