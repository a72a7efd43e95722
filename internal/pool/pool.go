package pool

import (
	"sync"
	"time"

	"shardpipe/internal/logger"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultMaxIdle     = 8
)

type config struct {
	dialTimeout    time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	maxIdle        int
	retryOnTimeout bool
}

// Option configures a pool.
type Option func(*config)

// WithDialTimeout bounds how long a new connection may take to come up.
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) { c.dialTimeout = d }
}

// WithReadTimeout bounds individual reply reads.
func WithReadTimeout(d time.Duration) Option {
	return func(c *config) { c.readTimeout = d }
}

// WithWriteTimeout bounds pipeline writes.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) { c.writeTimeout = d }
}

// WithMaxIdle caps how many idle connections the pool keeps warm.
func WithMaxIdle(n int) Option {
	return func(c *config) { c.maxIdle = n }
}

// WithRetryOnTimeout allows the inline execute path to retry once after
// a timeout error.
func WithRetryOnTimeout(retry bool) Option {
	return func(c *config) { c.retryOnTimeout = retry }
}

// Pool hands out connections to a single backend host.  It keeps a
// bounded free list; connections beyond the idle cap are closed on
// return.  All methods are safe for concurrent use.
type Pool struct {
	addr string
	cfg  config

	mu   sync.Mutex
	idle []*Conn
}

// New creates a pool for the given host address.
func New(addr string, opts ...Option) *Pool {
	cfg := config{
		dialTimeout: defaultDialTimeout,
		maxIdle:     defaultMaxIdle,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Pool{addr: addr, cfg: cfg}
}

// Addr returns the host address the pool dials.
func (p *Pool) Addr() string { return p.addr }

// Get returns an idle connection if one is available, otherwise a fresh
// unconnected one.  The caller connects it on first use and must hand
// it back with Put.
func (p *Pool) Get() *Conn {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return c
	}
	p.mu.Unlock()
	return &Conn{addr: p.addr, cfg: p.cfg}
}

// Put returns a connection to the free list.  Dead connections and
// connections beyond the idle cap are closed instead.
func (p *Pool) Put(c *Conn) {
	if c == nil {
		return
	}
	if !c.Connected() {
		return
	}
	if c.Buffered() > 0 {
		// Unread reply bytes would leak into the next checkout.
		logger.Warnf("discarding connection to %s with %d unread bytes", p.addr, c.Buffered())
		_ = c.Close()
		return
	}

	p.mu.Lock()
	if len(p.idle) < p.cfg.maxIdle {
		p.idle = append(p.idle, c)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	logger.Debugf("idle cap reached for %s, closing surplus connection", p.addr)
	_ = c.Close()
}

// IdleCount reports how many connections sit on the free list.
func (p *Pool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Disconnect closes every idle connection.  Connections currently
// checked out are unaffected and will be closed when returned dead or
// over cap.
func (p *Pool) Disconnect() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, c := range idle {
		_ = c.Close()
	}
}
