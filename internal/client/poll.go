package client

import (
	"time"

	"golang.org/x/sys/unix"

	"shardpipe/internal/router"
)

// pollRegistry is an insertion-ordered mapping from host id to command
// buffer with a readiness primitive over the buffers' sockets.  The
// preserved order makes flush order deterministic.
type pollRegistry struct {
	order   []router.HostID
	buffers map[router.HostID]*CommandBuffer
}

func newPollRegistry() *pollRegistry {
	return &pollRegistry{buffers: make(map[router.HostID]*CommandBuffer)}
}

func (r *pollRegistry) register(hostID router.HostID, buf *CommandBuffer) {
	if _, ok := r.buffers[hostID]; !ok {
		r.order = append(r.order, hostID)
	}
	r.buffers[hostID] = buf
}

func (r *pollRegistry) unregister(hostID router.HostID) {
	if _, ok := r.buffers[hostID]; !ok {
		return
	}
	delete(r.buffers, hostID)
	for i, id := range r.order {
		if id == hostID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *pollRegistry) get(hostID router.HostID) *CommandBuffer {
	return r.buffers[hostID]
}

func (r *pollRegistry) len() int { return len(r.buffers) }

// iterate snapshots the registered buffers in insertion order.  The
// snapshot stays valid while callers unregister during iteration.
func (r *pollRegistry) iterate() []*CommandBuffer {
	out := make([]*CommandBuffer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.buffers[id])
	}
	return out
}

// poll blocks until at least one registered buffer has reply bytes to
// read, returning the ready subset.  A negative timeout waits
// indefinitely, zero polls without blocking.  Buffers with data already
// sitting in their read buffer count as ready without consulting the
// kernel.
func (r *pollRegistry) poll(timeout time.Duration) []*CommandBuffer {
	var ready []*CommandBuffer

	fds := make([]unix.PollFd, 0, len(r.order))
	polled := make([]*CommandBuffer, 0, len(r.order))
	for _, buf := range r.iterate() {
		if buf.buffered() > 0 {
			ready = append(ready, buf)
			continue
		}
		fd := buf.Fd()
		if fd < 0 {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		polled = append(polled, buf)
	}

	if len(fds) == 0 {
		return ready
	}
	// Data buffered on some connection means there is work to hand back
	// right away; only sweep the kernel non-blockingly for more.
	if len(ready) > 0 {
		timeout = 0
	}

	for {
		n, err := unix.Poll(fds, pollMillis(timeout))
		if err == unix.EINTR {
			continue
		}
		if err != nil || n == 0 {
			return ready
		}
		break
	}

	for i, pfd := range fds {
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			ready = append(ready, polled[i])
		}
	}
	return ready
}

func pollMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	if timeout == 0 {
		return 0
	}
	ms := int(timeout / time.Millisecond)
	if ms == 0 {
		ms = 1
	}
	return ms
}
