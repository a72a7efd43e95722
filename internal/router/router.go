// Package router maps commands to the backend host that owns their key.
package router

import (
	"errors"
	"fmt"
	"hash/crc32"
	"sort"
)

// HostID identifies one backend server in the cluster.
type HostID int

// ErrNoRoute is returned when a command cannot be placed on a host,
// either because it carries no key or because it only makes sense
// against every host at once.
var ErrNoRoute = errors.New("router: command is unroutable")

// Router resolves a command and its arguments to the owning host.
// Implementations are pure functions over a topology snapshot.
type Router interface {
	HostFor(name string, args []string) (HostID, error)
}

// Commands that operate on the whole server rather than a key.  Routing
// them through the keyspace would silently target an arbitrary host, so
// they fail with ErrNoRoute and must go through a fanout instead.
var unroutableCommands = map[string]struct{}{
	"BGREWRITEAOF": {},
	"BGSAVE":       {},
	"CLIENT":       {},
	"CONFIG":       {},
	"DBSIZE":       {},
	"FLUSHALL":     {},
	"FLUSHDB":      {},
	"INFO":         {},
	"KEYS":         {},
	"LASTSAVE":     {},
	"PING":         {},
	"RANDOMKEY":    {},
	"SAVE":         {},
	"SCAN":         {},
	"SHUTDOWN":     {},
	"SLAVEOF":      {},
	"TIME":         {},
}

// PartitionRouter assigns keys to hosts by hashing the routing key over
// a fixed, sorted host list.  It is the default router and matches what
// a statically sharded deployment expects: the same key always lands on
// the same host as long as the host list is unchanged.
type PartitionRouter struct {
	hosts []HostID
}

// NewPartitionRouter builds a router over the given hosts.  The host
// list is copied and sorted so that routing is independent of the
// caller's ordering.
func NewPartitionRouter(hosts []HostID) (*PartitionRouter, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("router: at least one host is required")
	}
	sorted := make([]HostID, len(hosts))
	copy(sorted, hosts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &PartitionRouter{hosts: sorted}, nil
}

// HostFor resolves the host owning the command's routing key.
func (r *PartitionRouter) HostFor(name string, args []string) (HostID, error) {
	key, err := RoutingKey(name, args)
	if err != nil {
		return 0, err
	}
	idx := crc32.ChecksumIEEE([]byte(key)) % uint32(len(r.hosts))
	return r.hosts[idx], nil
}

// RoutingKey extracts the key a command routes on.  The first argument
// is the key for every keyed command in the supported surface.
func RoutingKey(name string, args []string) (string, error) {
	if _, ok := unroutableCommands[name]; ok {
		return "", fmt.Errorf("%w: %s targets the whole server", ErrNoRoute, name)
	}
	if len(args) == 0 {
		return "", fmt.Errorf("%w: %s carries no key", ErrNoRoute, name)
	}
	return args[0], nil
}
