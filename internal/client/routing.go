package client

import (
	"time"

	"shardpipe/internal/logger"
	"shardpipe/internal/pool"
	"shardpipe/internal/resp"
	"shardpipe/internal/router"
	"shardpipe/internal/telemetry"
)

// DefaultMaxConcurrency caps how many host buffers a session keeps open
// at once unless configured otherwise.
const DefaultMaxConcurrency = 64

// SessionOption configures a Map or Fanout session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	timeout        time.Duration
	maxConcurrency int
	autoBatch      bool
}

// WithTimeout bounds the session's terminal join.  Zero waits without
// bound.
func WithTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.timeout = d }
}

// WithMaxConcurrency caps the number of simultaneously open host
// buffers.
func WithMaxConcurrency(n int) SessionOption {
	return func(c *sessionConfig) { c.maxConcurrency = n }
}

// WithAutoBatch overrides the client's coalescing default for one
// session.
func WithAutoBatch(enabled bool) SessionOption {
	return func(c *sessionConfig) { c.autoBatch = enabled }
}

// RoutingClient executes single commands synchronously with automatic
// routing, and is the factory for mapping and fanout sessions.
type RoutingClient struct {
	unsupportedFeatures

	cluster   Cluster
	autoBatch bool
}

// NewRoutingClient creates a routing client over the cluster.
// autoBatch is inherited by sessions that do not override it.
func NewRoutingClient(cluster Cluster, autoBatch bool) *RoutingClient {
	return &RoutingClient{cluster: cluster, autoBatch: autoBatch}
}

// Execute routes one command to the host owning its key and runs it
// inline: send, then read the reply.  On a connection or timeout error
// the connection is torn down and the command retried exactly once —
// unless the error is a timeout and the connection opts out of timeout
// retries.  Server error replies surface as a ReplyError.
func (rc *RoutingClient) Execute(name string, args ...string) (resp.Value, error) {
	hostID, err := rc.cluster.Router().HostFor(name, args)
	if err != nil {
		return resp.Value{}, err
	}

	real, err := rc.cluster.PoolFor(hostID)
	if err != nil {
		return resp.Value{}, err
	}
	conn := real.Get()
	defer real.Put(conn)

	value, err := rc.sendAndReceive(conn, name, args)
	if err == nil {
		if value.Type == resp.Error {
			return resp.Value{}, &ReplyError{Message: value.Str}
		}
		return value, nil
	}

	if isProtocolErr(err) {
		// The reply stream is in an unknown position; the socket is
		// useless from here on.
		_ = conn.Close()
		return resp.Value{}, &ProtocolError{Host: hostID, Err: err}
	}

	// Transport failure: drop the socket and retry once on a fresh one.
	_ = conn.Close()
	if pool.IsTimeout(err) && !conn.RetryOnTimeout() {
		return resp.Value{}, &TransportError{Host: hostID, Err: err}
	}

	telemetry.InlineRetries.Inc()
	logger.Debugf("retrying %s on host %d after transport error: %v", name, hostID, err)

	value, err = rc.sendAndReceive(conn, name, args)
	if err != nil {
		_ = conn.Close()
		return resp.Value{}, &TransportError{Host: hostID, Err: err}
	}
	if value.Type == resp.Error {
		return resp.Value{}, &ReplyError{Message: value.Str}
	}
	return value, nil
}

func (rc *RoutingClient) sendAndReceive(conn *pool.Conn, name string, args []string) (resp.Value, error) {
	if err := conn.Connect(); err != nil {
		return resp.Value{}, err
	}
	if err := conn.Write(resp.PackCommand(name, args...)); err != nil {
		return resp.Value{}, err
	}
	return conn.ReadReply()
}

// MappingClient returns a fresh thread-unsafe mapping client.  It must
// be joined or cancelled; prefer Map.
func (rc *RoutingClient) MappingClient(opts ...SessionOption) *MappingClient {
	cfg := rc.sessionConfig(opts)
	return NewMappingClient(rc.cluster, cfg.maxConcurrency, cfg.autoBatch)
}

// FanoutClient returns a fresh thread-unsafe fanout client.  It must be
// joined or cancelled; prefer Fanout or FanoutAll.
func (rc *RoutingClient) FanoutClient(hosts []router.HostID, opts ...SessionOption) *FanoutClient {
	cfg := rc.sessionConfig(opts)
	return NewFanoutClient(rc.cluster, hosts, cfg.maxConcurrency, cfg.autoBatch)
}

// Map returns a scoped session around a fresh mapping client.  The
// session joins on success and cancels when the scope fails.
func (rc *RoutingClient) Map(opts ...SessionOption) *MapManager[*MappingClient] {
	cfg := rc.sessionConfig(opts)
	return newMapManager(NewMappingClient(rc.cluster, cfg.maxConcurrency, cfg.autoBatch), cfg.timeout)
}

// Fanout returns a scoped session around a fanout client targeting the
// given hosts.
func (rc *RoutingClient) Fanout(hosts []router.HostID, opts ...SessionOption) *MapManager[*FanoutClient] {
	cfg := rc.sessionConfig(opts)
	return newMapManager(NewFanoutClient(rc.cluster, hosts, cfg.maxConcurrency, cfg.autoBatch), cfg.timeout)
}

// FanoutAll returns a scoped session around a fanout client targeting
// every known host.
func (rc *RoutingClient) FanoutAll(opts ...SessionOption) *MapManager[*FanoutClient] {
	cfg := rc.sessionConfig(opts)
	return newMapManager(NewFanoutAllClient(rc.cluster, cfg.maxConcurrency, cfg.autoBatch), cfg.timeout)
}

func (rc *RoutingClient) sessionConfig(opts []SessionOption) sessionConfig {
	cfg := sessionConfig{
		maxConcurrency: DefaultMaxConcurrency,
		autoBatch:      rc.autoBatch,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
