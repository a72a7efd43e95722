package client

import (
	"errors"
	"fmt"

	"shardpipe/internal/router"
)

var (
	// ErrUnsupported marks features the routing clients deliberately do
	// not offer: pub/sub, manual pipelines and distributed locks.
	ErrUnsupported = errors.New("client: operation is unsupported on routing clients")

	// ErrUntargeted is returned when a fanout client executes without a
	// configured target set.
	ErrUntargeted = errors.New("client: fanout client has no target hosts")

	// ErrBufferClosed is returned for operations on a released buffer.
	ErrBufferClosed = errors.New("client: command buffer is closed")

	// ErrAlreadyRetargeted is returned when Retarget is called on a
	// fanout alias that is itself the product of a Retarget.
	ErrAlreadyRetargeted = errors.New("client: fanout client was already retargeted")

	// ErrConcurrentUse is returned when a single-owner session is
	// entered from two goroutines at once.
	ErrConcurrentUse = errors.New("client: session is not safe for concurrent use")

	// ErrJoinTimeout is returned when Join gives up with buffers still
	// outstanding.  Their promises remain pending.
	ErrJoinTimeout = errors.New("client: join timed out with outstanding buffers")
)

// TransportError wraps a connection-level failure on the path to one
// host.  Promises riding on the failed connection reject with it.
type TransportError struct {
	Host router.HostID
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("client: transport failure on host %d: %v", e.Host, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError wraps a malformed or unexpected reply.
type ProtocolError struct {
	Host router.HostID
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("client: protocol failure on host %d: %v", e.Host, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ReplyError carries a server error reply (the "-ERR ..." form).  It
// affects only the command that triggered it; the connection stays
// healthy.
type ReplyError struct {
	Message string
}

func (e *ReplyError) Error() string { return "client: server replied: " + e.Message }
