// Package timing provides per-phase request timers and the one-shot
// cancellation timer the engine arms over each request/response
// exchange as a backstop to the pipeline's per-call IO deadlines.
package timing

import (
	"fmt"
	"sync"
	"time"
)

// Metrics captures timing information for one request attempt.
type Metrics struct {
	DNSLookup    time.Duration `json:"dns_lookup"`
	TCPConnect   time.Duration `json:"tcp_connect"`
	TLSHandshake time.Duration `json:"tls_handshake"`
	Send         time.Duration `json:"send"`
	TTFB         time.Duration `json:"ttfb"`
	TotalTime    time.Duration `json:"total_time"`
}

// Timer accumulates the phase boundaries for a single request attempt.
type Timer struct {
	start      time.Time
	dnsStart   time.Time
	dnsEnd     time.Time
	tcpStart   time.Time
	tcpEnd     time.Time
	tlsStart   time.Time
	tlsEnd     time.Time
	sendStart  time.Time
	sendEnd    time.Time
	ttfbStart  time.Time
	ttfbEnd    time.Time
}

// NewTimer starts a new timing measurement session.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) StartDNS()  { t.dnsStart = time.Now() }
func (t *Timer) EndDNS()    { t.dnsEnd = time.Now() }
func (t *Timer) StartTCP()  { t.tcpStart = time.Now() }
func (t *Timer) EndTCP()    { t.tcpEnd = time.Now() }
func (t *Timer) StartTLS()  { t.tlsStart = time.Now() }
func (t *Timer) EndTLS()    { t.tlsEnd = time.Now() }
func (t *Timer) StartSend() { t.sendStart = time.Now() }
func (t *Timer) EndSend()   { t.sendEnd = time.Now() }
func (t *Timer) StartTTFB() { t.ttfbStart = time.Now() }
func (t *Timer) EndTTFB()   { t.ttfbEnd = time.Now() }

// GetMetrics returns the calculated timing metrics.
func (t *Timer) GetMetrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}
	if !t.dnsStart.IsZero() && !t.dnsEnd.IsZero() {
		m.DNSLookup = t.dnsEnd.Sub(t.dnsStart)
	}
	if !t.tcpStart.IsZero() && !t.tcpEnd.IsZero() {
		m.TCPConnect = t.tcpEnd.Sub(t.tcpStart)
	}
	if !t.tlsStart.IsZero() && !t.tlsEnd.IsZero() {
		m.TLSHandshake = t.tlsEnd.Sub(t.tlsStart)
	}
	if !t.sendStart.IsZero() && !t.sendEnd.IsZero() {
		m.Send = t.sendEnd.Sub(t.sendStart)
	}
	if !t.ttfbStart.IsZero() && !t.ttfbEnd.IsZero() {
		m.TTFB = t.ttfbEnd.Sub(t.ttfbStart)
	}
	return m
}

// GetConnectionTime returns the total connection establishment time.
func (m Metrics) GetConnectionTime() time.Duration {
	return m.DNSLookup + m.TCPConnect + m.TLSHandshake
}

// String provides a human-readable representation of the metrics.
func (m Metrics) String() string {
	return fmt.Sprintf("DNSLookup: %v, TCPConnect: %v, TLSHandshake: %v, Send: %v, TTFB: %v, TotalTime: %v",
		m.DNSLookup, m.TCPConnect, m.TLSHandshake, m.Send, m.TTFB, m.TotalTime)
}

// Closer is the minimal surface a cancellation timer needs from a
// connection: something it can shut down to wake a blocked read/write.
type Closer interface {
	Close() error
}

// CancelTimer is a one-shot timer that closes an associated connection
// if it is not canceled before the deadline. It holds only a reference
// that the owner can clear: once the owner calls Detach, a subsequent
// fire from the timer goroutine is a no-op.
type CancelTimer struct {
	mu       sync.Mutex
	timer    *time.Timer
	target   Closer
	fired    bool
	canceled bool
	onFire   func()
}

// NewCancelTimer arms a timer for the given duration against target.
// If the timer fires before Cancel is called, target.Close() runs and
// onFire (if non-nil) is invoked after it, with no arguments. A
// non-positive duration disables the timer.
func NewCancelTimer(d time.Duration, target Closer, onFire func()) *CancelTimer {
	ct := &CancelTimer{target: target, onFire: onFire}
	if d <= 0 {
		return ct
	}
	ct.timer = time.AfterFunc(d, ct.fire)
	return ct
}

func (ct *CancelTimer) fire() {
	ct.mu.Lock()
	if ct.canceled || ct.target == nil {
		ct.mu.Unlock()
		return
	}
	ct.fired = true
	target := ct.target
	onFire := ct.onFire
	ct.mu.Unlock()

	// Closing is the only cancellation primitive; it wakes any blocked
	// Read/Write on the connection.
	target.Close()
	if onFire != nil {
		onFire()
	}
}

// Cancel stops the timer. Safe to call multiple times and safe to call
// after the timer has already fired (a fired timer whose owner has
// moved on is a no-op, per the weak-reference contract).
func (ct *CancelTimer) Cancel() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.canceled = true
	if ct.timer != nil {
		ct.timer.Stop()
	}
}

// Fired reports whether the timer already closed its target.
func (ct *CancelTimer) Fired() bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.fired
}

// Detach clears the target reference so a timer that races with
// connection release can never resurrect or touch a freed connection.
func (ct *CancelTimer) Detach() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.target = nil
}
