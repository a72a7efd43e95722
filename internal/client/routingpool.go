package client

import (
	"shardpipe/internal/pool"
	"shardpipe/internal/router"
)

// Cluster is the topology surface the routing clients consume.  The
// concrete implementation lives in internal/cluster; tests provide
// their own.
type Cluster interface {
	// Router returns the routing function for the current topology.
	Router() router.Router
	// PoolFor returns the connection pool of one host.
	PoolFor(id router.HostID) (*pool.Pool, error)
	// Hosts lists every known host id.
	Hosts() []router.HostID
}

// lease pairs a checked-out connection with the pool it came from, so
// release never has to re-dispatch through the cluster.
type lease struct {
	conn   *pool.Conn
	origin *pool.Pool
}

// RoutingPool looks like a connection pool but delegates every checkout
// to the per-host pool selected by an explicit host id.
type RoutingPool struct {
	cluster Cluster
}

// NewRoutingPool wraps a cluster's per-host pools behind one facade.
func NewRoutingPool(cluster Cluster) *RoutingPool {
	return &RoutingPool{cluster: cluster}
}

// Get checks a connection out of the pool owning hostID.
func (rp *RoutingPool) Get(hostID router.HostID) (lease, error) {
	real, err := rp.cluster.PoolFor(hostID)
	if err != nil {
		return lease{}, err
	}
	return lease{conn: real.Get(), origin: real}, nil
}

// Release hands the connection back to its originating pool.
func (rp *RoutingPool) Release(l lease) {
	if l.origin == nil {
		return
	}
	l.origin.Put(l.conn)
}
