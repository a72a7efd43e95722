// Package cluster holds the static topology of a sharded deployment:
// which hosts exist, how to reach them, and the per-host connection
// pools the routing layer draws from.
package cluster

import (
	"fmt"
	"sort"

	"shardpipe/internal/client"
	"shardpipe/internal/logger"
	"shardpipe/internal/pool"
	"shardpipe/internal/router"
)

// HostSpec describes one backend host.
type HostSpec struct {
	ID   router.HostID
	Addr string
}

// Option configures a cluster.
type Option func(*config)

type config struct {
	router   router.Router
	poolOpts []pool.Option
}

// WithRouter replaces the default partition router.
func WithRouter(r router.Router) Option {
	return func(c *config) { c.router = r }
}

// WithPoolOptions applies connection pool options to every host pool.
func WithPoolOptions(opts ...pool.Option) Option {
	return func(c *config) { c.poolOpts = append(c.poolOpts, opts...) }
}

// Cluster is the topology snapshot plus one connection pool per host.
// It implements the collaborator surface the routing clients consume
// and is safe for concurrent use.
type Cluster struct {
	hosts map[router.HostID]HostSpec
	order []router.HostID
	pools map[router.HostID]*pool.Pool
	rtr   router.Router
}

// New builds a cluster over the given hosts.  Host ids must be unique
// and every host needs an address.
func New(hosts []HostSpec, opts ...Option) (*Cluster, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("cluster: at least one host is required")
	}

	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Cluster{
		hosts: make(map[router.HostID]HostSpec, len(hosts)),
		pools: make(map[router.HostID]*pool.Pool, len(hosts)),
	}
	for _, spec := range hosts {
		if spec.Addr == "" {
			return nil, fmt.Errorf("cluster: host %d has no address", spec.ID)
		}
		if _, dup := c.hosts[spec.ID]; dup {
			return nil, fmt.Errorf("cluster: duplicate host id %d", spec.ID)
		}
		c.hosts[spec.ID] = spec
		c.pools[spec.ID] = pool.New(spec.Addr, cfg.poolOpts...)
		c.order = append(c.order, spec.ID)
	}
	sort.Slice(c.order, func(i, j int) bool { return c.order[i] < c.order[j] })

	if cfg.router != nil {
		c.rtr = cfg.router
	} else {
		rtr, err := router.NewPartitionRouter(c.order)
		if err != nil {
			return nil, err
		}
		c.rtr = rtr
	}

	logger.Debugf("cluster created with %d hosts", len(hosts))
	return c, nil
}

// Router returns the routing function for this topology.
func (c *Cluster) Router() router.Router { return c.rtr }

// PoolFor returns the connection pool of one host.
func (c *Cluster) PoolFor(id router.HostID) (*pool.Pool, error) {
	p, ok := c.pools[id]
	if !ok {
		return nil, fmt.Errorf("cluster: unknown host id %d", id)
	}
	return p, nil
}

// Hosts lists every known host id in ascending order.
func (c *Cluster) Hosts() []router.HostID {
	out := make([]router.HostID, len(c.order))
	copy(out, c.order)
	return out
}

// Addr returns the address of one host.
func (c *Cluster) Addr(id router.HostID) (string, error) {
	spec, ok := c.hosts[id]
	if !ok {
		return "", fmt.Errorf("cluster: unknown host id %d", id)
	}
	return spec.Addr, nil
}

// DisconnectAll closes every idle pooled connection on every host.
func (c *Cluster) DisconnectAll() {
	for _, p := range c.pools {
		p.Disconnect()
	}
}

// RoutingClient returns a synchronous routing client over this cluster.
// Sessions created from it inherit the autoBatch setting.
func (c *Cluster) RoutingClient(autoBatch bool) *client.RoutingClient {
	return client.NewRoutingClient(c, autoBatch)
}
