package client

import (
	"sync/atomic"
	"time"

	"shardpipe/internal/logger"
	"shardpipe/internal/promise"
	"shardpipe/internal/resp"
	"shardpipe/internal/router"
	"shardpipe/internal/telemetry"
)

// backpressureTick bounds one back-pressure drain attempt when the
// concurrency cap is hit.
const backpressureTick = time.Second

// ownerGuard makes the single-owner constraint on sessions explicit:
// overlapping entry from two goroutines fails fast instead of
// corrupting buffer state.
type ownerGuard struct {
	busy atomic.Bool
}

func (g *ownerGuard) enter() bool { return g.busy.CompareAndSwap(false, true) }
func (g *ownerGuard) leave()      { g.busy.Store(false) }

// MappingClient routes each command to the host owning its key and
// pipelines per host.  Execute returns immediately with a promise;
// results arrive when the session is joined.  A mapping client is
// single-owner and must not be shared across goroutines.
type MappingClient struct {
	unsupportedFeatures

	cluster        Cluster
	pool           *RoutingPool
	maxConcurrency int
	autoBatch      bool

	registry *pollRegistry
	guard    *ownerGuard
}

// NewMappingClient creates a thread-unsafe mapping client.  Prefer the
// RoutingClient.Map session, which joins automatically.
func NewMappingClient(cluster Cluster, maxConcurrency int, autoBatch bool) *MappingClient {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &MappingClient{
		cluster:        cluster,
		pool:           NewRoutingPool(cluster),
		maxConcurrency: maxConcurrency,
		autoBatch:      autoBatch,
		registry:       newPollRegistry(),
		guard:          &ownerGuard{},
	}
}

// Execute routes the command via the cluster's router, enqueues it on
// the owning host's buffer and returns its promise.  It fails
// synchronously when the command is unroutable.
func (m *MappingClient) Execute(name string, args ...string) (*promise.Promise[resp.Value], error) {
	if !m.guard.enter() {
		return nil, ErrConcurrentUse
	}
	defer m.guard.leave()

	hostID, err := m.cluster.Router().HostFor(name, args)
	if err != nil {
		return nil, err
	}
	buf, err := m.getCommandBuffer(hostID)
	if err != nil {
		return nil, err
	}
	telemetry.CommandsRouted.Inc()
	return buf.Enqueue(name, args...)
}

// getCommandBuffer returns the host's buffer, creating and registering
// one when needed.  Creation applies back-pressure: while the registry
// is at the concurrency cap, all buffers are flushed and whatever
// becomes ready within one tick is drained and released.
func (m *MappingClient) getCommandBuffer(hostID router.HostID) (*CommandBuffer, error) {
	if buf := m.registry.get(hostID); buf != nil {
		return buf, nil
	}

	for m.registry.len() >= m.maxConcurrency {
		m.clearOutstanding(backpressureTick)
	}

	l, err := m.pool.Get(hostID)
	if err != nil {
		return nil, err
	}
	buf, err := newCommandBuffer(hostID, l, m.autoBatch)
	if err != nil {
		return nil, err
	}
	m.registry.register(hostID, buf)
	return buf, nil
}

// releaseBuffer detaches a buffer and returns its connection to the
// originating pool.  Connections with replies still in flight are
// closed rather than pooled.
func (m *MappingClient) releaseBuffer(buf *CommandBuffer) {
	if buf == nil {
		return
	}
	m.registry.unregister(buf.hostID)
	if buf.lease.conn == nil {
		return
	}
	if buf.OutstandingReplies() > 0 || len(buf.commands) > 0 {
		// Cancelled mid-flight; the server may still answer, so the
		// socket cannot be reused.
		_ = buf.lease.conn.Close()
	}
	m.pool.Release(buf.lease)
	buf.lease = lease{}
}

// clearOutstanding flushes every registered buffer, then drains and
// releases whatever becomes ready within the timeout.  One tick is not
// guaranteed to make progress; callers loop.
func (m *MappingClient) clearOutstanding(timeout time.Duration) {
	if m.registry.len() == 0 {
		return
	}
	for _, buf := range m.registry.iterate() {
		if err := buf.SendPending(); err != nil {
			logger.Warnf("flush to host %d failed: %v", buf.hostID, err)
			m.releaseBuffer(buf)
		}
	}
	for _, buf := range m.registry.poll(timeout) {
		if err := buf.WaitForResponses(); err != nil {
			logger.Warnf("drain from host %d failed: %v", buf.hostID, err)
		}
		m.releaseBuffer(buf)
	}
}

// Join flushes all buffers and polls until every outstanding reply has
// been drained or the timeout is exhausted.  Zero means wait without
// bound.  Buffers that fail to drain reject their promises and are
// released like any other; Join keeps going for the remaining hosts.
func (m *MappingClient) Join(timeout time.Duration) error {
	if !m.guard.enter() {
		return ErrConcurrentUse
	}
	defer m.guard.leave()

	for _, buf := range m.registry.iterate() {
		if err := buf.SendPending(); err != nil {
			logger.Warnf("flush to host %d failed: %v", buf.hostID, err)
			m.releaseBuffer(buf)
		}
	}

	remaining := timeout
	for m.registry.len() > 0 && (timeout == 0 || remaining > 0) {
		pollTimeout := -time.Nanosecond
		if timeout != 0 {
			pollTimeout = remaining
		}
		start := time.Now()
		ready := m.registry.poll(pollTimeout)
		if timeout != 0 {
			remaining -= time.Since(start)
		}
		for _, buf := range ready {
			if err := buf.WaitForResponses(); err != nil {
				logger.Warnf("drain from host %d failed: %v", buf.hostID, err)
			}
			m.releaseBuffer(buf)
		}
	}

	if m.registry.len() > 0 {
		return ErrJoinTimeout
	}
	return nil
}

// Cancel releases every buffer immediately without draining.  Promises
// of unsent or unread commands stay pending forever; reading their
// value yields promise.ErrNotReady.
func (m *MappingClient) Cancel() {
	if !m.guard.enter() {
		return
	}
	defer m.guard.leave()

	for _, buf := range m.registry.iterate() {
		m.releaseBuffer(buf)
	}
}

// Outstanding reports how many host buffers are currently registered.
func (m *MappingClient) Outstanding() int { return m.registry.len() }

// unsupportedFeatures pins down the surface the routing clients refuse
// to provide.
type unsupportedFeatures struct{}

// Subscribe is unsupported: pub/sub needs a dedicated connection that
// the pipelining model cannot provide.
func (unsupportedFeatures) Subscribe(...string) error { return ErrUnsupported }

// Pipeline is unsupported: commands are pipelined automatically.
func (unsupportedFeatures) Pipeline() error { return ErrUnsupported }

// Lock is unsupported: distributed locks need multi-command
// transactions against a single host.
func (unsupportedFeatures) Lock(string) error { return ErrUnsupported }
