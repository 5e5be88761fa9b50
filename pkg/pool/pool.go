// Package pool implements the connection cache shared by every
// request the engine issues against a given endpoint: a LIFO idle
// list per endpoint, a background sweeper that evicts entries older
// than the configured TTL, and both a per-endpoint and a global cap on
// how many connections the cache will hold at once.
package pool

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/teaberrycow/asynchttp/pkg/constants"
	"github.com/teaberrycow/asynchttp/pkg/errors"
)

// Key identifies a pool bucket: the dial endpoint plus the transport
// wrapping it, generalizing transport.go's proxy-aware pool key string
// into a comparable struct instead of a formatted string.
type Key struct {
	Endpoint  string // "host:port"
	Transport string // "plain", "tls", or a proxy-qualified variant
}

// Metadata mirrors transport.go's ConnectionMetadata: diagnostic
// information about how a connection was established, carried through
// to the Response the caller eventually sees.
type Metadata struct {
	ConnectedIP        string
	ConnectedPort      int
	LocalAddr          string
	RemoteAddr         string
	ConnectionID       uint64
	TLSVersion         string
	TLSCipherSuite     string
	TLSServerName      string
	ProxyUsed          bool
	ProxyType          string
	ProxyAddr          string
	ConnectionReused   bool
}

// entry wraps a pooled connection with its bookkeeping, equivalent to
// transport.go's pooledConnection.
type entry struct {
	conn     net.Conn
	meta     Metadata
	key      Key
	lastUsed time.Time
}

// bucket is the per-endpoint idle list, locked by the Pool's single
// mutex rather than a per-bucket one: the pool as a whole runs under
// one mutex in threaded mode, so there is
// one lock, not nested per-bucket and per-pool locks.
type bucket struct {
	idle      []*entry // LIFO: append/pop from the tail
	numActive int
}

// Pool is the connection cache. Create with New; the background
// sweeper goroutine it starts is stopped by Close.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[Key]*bucket

	maxGlobal      int
	maxPerEndpoint int
	ttl            time.Duration

	totalIdle   int
	totalActive int
	nextConnID  uint64

	statsReused  uint64
	statsCreated uint64

	closed   bool
	stopSweep chan struct{}
	sweepDone chan struct{}
}

// Config configures a new Pool, named after properties.Properties'
// cache knobs rather than transport.go's PoolConfig so the engine
// can build one directly from pkg/properties.Properties.
type Config struct {
	MaxConnections            int
	MaxConnectionsPerEndpoint int
	TTL                       time.Duration
	CleanupInterval           time.Duration
}

// New creates a Pool and starts its idle sweeper.
func New(cfg Config) *Pool {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 256
	}
	if cfg.MaxConnectionsPerEndpoint <= 0 {
		cfg.MaxConnectionsPerEndpoint = 8
	}
	if cfg.TTL <= 0 {
		cfg.TTL = constants.DefaultIdleTimeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = constants.CleanupInterval
	}

	p := &Pool{
		buckets:        make(map[Key]*bucket),
		maxGlobal:      cfg.MaxConnections,
		maxPerEndpoint: cfg.MaxConnectionsPerEndpoint,
		ttl:            cfg.TTL,
		stopSweep:      make(chan struct{}),
		sweepDone:      make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.sweepLoop(cfg.CleanupInterval)
	return p
}

func (p *Pool) bucketFor(key Key) *bucket {
	b, ok := p.buckets[key]
	if !ok {
		b = &bucket{}
		p.buckets[key] = b
	}
	return b
}

// NextConnectionID hands out a stable identifier for a freshly dialed
// connection, mirroring transport.go's atomic ConnectionID counter.
func (p *Pool) NextConnectionID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextConnID++
	return p.nextConnID
}

// Acquire returns an idle connection for key if one is live and
// unexpired, or (nil, false) meaning the caller should dial fresh
// (the pool reserved an active slot for it). ObjectExpiredError is
// returned if the pool has already been closed. ConstraintError is
// returned if key is already at its per-endpoint cap, or the pool as a
// whole is at its global cap and no idle connection anywhere can be
// evicted to make room; AcquireFresh is the only way past either cap.
func (p *Pool) Acquire(key Key) (net.Conn, Metadata, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, Metadata{}, false, errors.NewObjectExpiredError("pool.Acquire")
	}

	b := p.bucketFor(key)
	for len(b.idle) > 0 {
		n := len(b.idle)
		e := b.idle[n-1]
		b.idle = b.idle[:n-1]
		p.totalIdle--

		if time.Since(e.lastUsed) > p.ttl {
			e.conn.Close()
			continue
		}

		b.numActive++
		p.totalActive++
		p.statsReused++
		meta := e.meta
		meta.ConnectionReused = true
		return e.conn, meta, true, nil
	}

	if b.numActive >= p.maxPerEndpoint {
		return nil, Metadata{}, false, errors.NewConstraintError("pool.Acquire", "per-endpoint connection cap reached for "+key.Endpoint)
	}
	if p.totalActive+p.totalIdle >= p.maxGlobal {
		if !p.evictOneLRU() {
			return nil, Metadata{}, false, errors.NewConstraintError("pool.Acquire", "global connection cap reached")
		}
	}

	b.numActive++
	p.totalActive++
	return nil, Metadata{}, false, nil
}

// AcquireFresh reserves an active slot for key without consulting the
// idle list or either cap, for the engine's final connection attempt
// which demands a brand-new socket rather than a possibly-stuck cached
// one, and for force_new callers who must bypass a saturated pool.
func (p *Pool) AcquireFresh(key Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.NewObjectExpiredError("pool.AcquireFresh")
	}
	b := p.bucketFor(key)
	b.numActive++
	p.totalActive++
	return nil
}

// Release returns conn to the idle list for key, evicting it instead
// if the per-endpoint or global idle cap would be exceeded. The
// global cap extends transport.go's per-host-only limit: when the
// cache is globally full, the
// least-recently-used idle connection across every endpoint is
// evicted to make room, rather than refusing the newest one outright.
func (p *Pool) Release(key Key, conn net.Conn, meta Metadata) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.buckets[key]
	if !ok {
		conn.Close()
		return
	}
	b.numActive--
	p.totalActive--

	if p.closed {
		conn.Close()
		p.cond.Broadcast()
		return
	}

	if len(b.idle) >= p.maxPerEndpoint {
		conn.Close()
		p.cond.Broadcast()
		return
	}

	if p.totalIdle >= p.maxGlobal {
		if !p.evictOneLRU() {
			conn.Close()
			p.cond.Broadcast()
			return
		}
	}

	e := &entry{conn: conn, meta: meta, key: key, lastUsed: time.Now()}
	b.idle = append(b.idle, e)
	p.totalIdle++
	p.cond.Broadcast()
}

// evictOneLRU closes and removes the globally least-recently-used idle
// connection, reporting whether one was found. Caller holds p.mu.
func (p *Pool) evictOneLRU() bool {
	var oldestKey Key
	var oldestIdx = -1
	var oldestTime time.Time

	for key, b := range p.buckets {
		for i, e := range b.idle {
			if oldestIdx == -1 || e.lastUsed.Before(oldestTime) {
				oldestKey, oldestIdx, oldestTime = key, i, e.lastUsed
			}
		}
	}
	if oldestIdx == -1 {
		return false
	}
	b := p.buckets[oldestKey]
	e := b.idle[oldestIdx]
	b.idle = append(b.idle[:oldestIdx], b.idle[oldestIdx+1:]...)
	p.totalIdle--
	e.conn.Close()
	return true
}

// Discard removes conn from the active count for key without
// returning it to the idle list — used when the connection can't be
// reused (Connection: close, a failed exchange or body drain, a failed
// dial).
func (p *Pool) Discard(key Key, conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.buckets[key]; ok {
		b.numActive--
		p.totalActive--
		p.cond.Broadcast()
	}
	conn.Close()
}

// Stats is a read-only snapshot of pool occupancy, named after the
// teacher's PoolStats.
type Stats struct {
	ActiveConns  int
	IdleConns    int
	TotalReused  uint64
	TotalCreated uint64
}

// Stats returns a snapshot of current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var s Stats
	for _, b := range p.buckets {
		s.ActiveConns += b.numActive
		s.IdleConns += len(b.idle)
	}
	s.TotalReused = p.statsReused
	s.TotalCreated = p.statsCreated
	return s
}

// RecordCreated increments the lifetime creation counter; called by
// the engine after a fresh dial, mirroring transport.go's
// statsConnectionsCreated.
func (p *Pool) RecordCreated() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statsCreated++
}

func (p *Pool) sweepLoop(interval time.Duration) {
	defer close(p.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweepOnce()
		case <-p.stopSweep:
			return
		}
	}
}

func (p *Pool) sweepOnce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for _, b := range p.buckets {
		kept := b.idle[:0]
		for _, e := range b.idle {
			if now.Sub(e.lastUsed) > p.ttl {
				e.conn.Close()
				p.totalIdle--
			} else {
				kept = append(kept, e)
			}
		}
		b.idle = kept
	}
}

// Close stops the sweeper and closes every idle connection. In-use
// connections that are later released are discarded silently instead
// of rejoining a closed pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopSweep)

	var keys []Key
	for k := range p.buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Endpoint < keys[j].Endpoint })
	for _, k := range keys {
		b := p.buckets[k]
		for _, e := range b.idle {
			e.conn.Close()
		}
		b.idle = nil
	}
	p.totalIdle = 0
	p.cond.Broadcast()
	p.mu.Unlock()

	<-p.sweepDone
	return nil
}
