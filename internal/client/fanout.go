package client

import (
	"shardpipe/internal/promise"
	"shardpipe/internal/resp"
	"shardpipe/internal/router"
	"shardpipe/internal/telemetry"
)

// FanoutClient dispatches every command to an explicit set of hosts
// instead of routing by key.  Results accumulate per host; Execute
// returns the combined promise.
type FanoutClient struct {
	*MappingClient

	targets    []router.HostID
	allHosts   bool
	retargeted bool
}

// NewFanoutClient creates a thread-unsafe fanout client targeting the
// given hosts.  Prefer the RoutingClient.Fanout session.  A nil target
// set leaves the client untargeted; use NewFanoutAllClient to broadcast
// to every known host.
func NewFanoutClient(cluster Cluster, hosts []router.HostID, maxConcurrency int, autoBatch bool) *FanoutClient {
	return &FanoutClient{
		MappingClient: NewMappingClient(cluster, maxConcurrency, autoBatch),
		targets:       hosts,
	}
}

// NewFanoutAllClient creates a fanout client that targets every host
// the cluster knows about.
func NewFanoutAllClient(cluster Cluster, maxConcurrency int, autoBatch bool) *FanoutClient {
	f := NewFanoutClient(cluster, nil, maxConcurrency, autoBatch)
	f.allHosts = true
	return f
}

// Execute enqueues the command on every targeted host and returns a
// promise resolving to the per-host result map.
func (f *FanoutClient) Execute(name string, args ...string) (*promise.Promise[map[router.HostID]resp.Value], error) {
	if !f.guard.enter() {
		return nil, ErrConcurrentUse
	}
	defer f.guard.leave()

	hosts := f.targets
	if f.allHosts {
		hosts = f.cluster.Hosts()
	}
	if len(hosts) == 0 {
		return nil, ErrUntargeted
	}

	promises := make(map[router.HostID]*promise.Promise[resp.Value], len(hosts))
	for _, hostID := range hosts {
		buf, err := f.getCommandBuffer(hostID)
		if err != nil {
			return nil, err
		}
		p, err := buf.Enqueue(name, args...)
		if err != nil {
			return nil, err
		}
		promises[hostID] = p
		telemetry.FanoutCommands.Inc()
	}
	return promise.All(promises), nil
}

// Retarget returns a shallow alias of the client aimed at a different
// host set for one call.  The alias borrows the parent's poll registry,
// so flushes and drains are shared; it cannot be retargeted again.
func (f *FanoutClient) Retarget(hosts []router.HostID) (*FanoutClient, error) {
	if f.retargeted {
		return nil, ErrAlreadyRetargeted
	}
	alias := &FanoutClient{
		MappingClient: f.MappingClient,
		targets:       hosts,
		retargeted:    true,
	}
	return alias, nil
}
