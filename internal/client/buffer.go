package client

import (
	"errors"

	"shardpipe/internal/logger"
	"shardpipe/internal/promise"
	"shardpipe/internal/resp"
	"shardpipe/internal/router"
	"shardpipe/internal/telemetry"
)

// queuedCommand is one not-yet-sent command with the promise its caller
// observes.
type queuedCommand struct {
	name    string
	args    []string
	promise *promise.Promise[resp.Value]
}

// pendingReply is one sent-but-not-yet-parsed command.
type pendingReply struct {
	name    string
	promise *promise.Promise[resp.Value]
}

// CommandBuffer is the per-host pipeline accumulator.  It exclusively
// owns one connection for its lifetime: commands are enqueued, flushed
// as a single packed pipeline, and their replies drained in FIFO order.
type CommandBuffer struct {
	hostID    router.HostID
	lease     lease
	autoBatch bool

	commands []queuedCommand
	pending  []pendingReply
}

// newCommandBuffer binds a buffer to a live connection, connecting it if
// necessary so there is a socket to poll over.
func newCommandBuffer(hostID router.HostID, l lease, autoBatch bool) (*CommandBuffer, error) {
	if err := l.conn.Connect(); err != nil {
		l.origin.Put(l.conn)
		return nil, &TransportError{Host: hostID, Err: err}
	}
	return &CommandBuffer{hostID: hostID, lease: l, autoBatch: autoBatch}, nil
}

// HostID returns the host this buffer pipelines to.
func (b *CommandBuffer) HostID() router.HostID { return b.hostID }

// Closed reports whether the buffer has been released or lost its
// connection.
func (b *CommandBuffer) Closed() bool {
	return b.lease.conn == nil || !b.lease.conn.Connected()
}

// Fd exposes the connection's file descriptor for readiness polling.
func (b *CommandBuffer) Fd() int {
	if b.lease.conn == nil {
		return -1
	}
	return b.lease.conn.Fd()
}

// Enqueue appends a command to the pipeline and returns its promise.
func (b *CommandBuffer) Enqueue(name string, args ...string) (*promise.Promise[resp.Value], error) {
	if b.Closed() {
		return nil, ErrBufferClosed
	}
	p := promise.New[resp.Value]()
	b.commands = append(b.commands, queuedCommand{name: name, args: args, promise: p})
	return p, nil
}

// OutstandingReplies reports how many sent commands still await their
// reply.
func (b *CommandBuffer) OutstandingReplies() int { return len(b.pending) }

// SendPending packs all queued commands into one pipeline payload and
// writes it.  With auto-batching enabled the coalescer runs first.  A
// write failure rejects every promise accepted into this flush and
// closes the buffer.
func (b *CommandBuffer) SendPending() error {
	if b.Closed() {
		return ErrBufferClosed
	}

	unsent := b.commands
	if len(unsent) == 0 {
		return nil
	}
	b.commands = nil

	if b.autoBatch {
		unsent = coalesceCommands(unsent)
	}

	rows := make([][]string, len(unsent))
	for i, cmd := range unsent {
		row := make([]string, 1+len(cmd.args))
		row[0] = cmd.name
		copy(row[1:], cmd.args)
		rows[i] = row
	}

	if err := b.lease.conn.Write(resp.PackCommands(rows)); err != nil {
		terr := &TransportError{Host: b.hostID, Err: err}
		for _, cmd := range unsent {
			_ = cmd.promise.Reject(terr)
		}
		b.abandonConnection()
		return terr
	}

	for _, cmd := range unsent {
		b.pending = append(b.pending, pendingReply{name: cmd.name, promise: cmd.promise})
	}

	telemetry.PipelineFlushes.Inc()
	logger.Debugf("flushed %d commands to host %d", len(unsent), b.hostID)
	return nil
}

// WaitForResponses drains one reply per pending command, resolving the
// promises in FIFO order.  A read or parse failure rejects the current
// and all remaining promises and closes the buffer; a server error
// reply rejects only its own command.
func (b *CommandBuffer) WaitForResponses() error {
	if b.Closed() {
		return ErrBufferClosed
	}

	pending := b.pending
	b.pending = nil

	for i, pr := range pending {
		value, err := b.lease.conn.ReadReply()
		if err != nil {
			var failure error
			if isProtocolErr(err) {
				failure = &ProtocolError{Host: b.hostID, Err: err}
			} else {
				failure = &TransportError{Host: b.hostID, Err: err}
			}
			for _, rest := range pending[i:] {
				_ = rest.promise.Reject(failure)
			}
			b.abandonConnection()
			return failure
		}
		if value.Type == resp.Error {
			_ = pr.promise.Reject(&ReplyError{Message: value.Str})
			continue
		}
		_ = pr.promise.Resolve(value)
	}
	return nil
}

// buffered reports reply bytes already sitting in the connection's read
// buffer.  The poll registry treats those as immediate readiness.
func (b *CommandBuffer) buffered() int {
	if b.lease.conn == nil {
		return 0
	}
	return b.lease.conn.Buffered()
}

// isProtocolErr separates malformed-reply failures from transport ones.
func isProtocolErr(err error) bool {
	for _, sentinel := range []error{
		resp.ErrUnknownPrefix,
		resp.ErrBadLineEnding,
		resp.ErrInvalidArrayLen,
		resp.ErrInvalidBulkLen,
		resp.ErrTooLarge,
		resp.ErrPartialFrame,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// abandonConnection closes the socket in place.  The buffer is released
// by its owning client, which returns the (now dead) connection to its
// pool.
func (b *CommandBuffer) abandonConnection() {
	telemetry.BufferFailures.Inc()
	if b.lease.conn != nil {
		_ = b.lease.conn.Close()
	}
}
