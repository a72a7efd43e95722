package client

import (
	"testing"
	"time"

	"shardpipe/internal/router"

	"github.com/stretchr/testify/require"
)

func TestPollRegistryOrderAndLookup(t *testing.T) {
	srvA, srvB, srvC := newTestServer(t), newTestServer(t), newTestServer(t)
	bufA := newTestBuffer(t, srvA, false)
	bufB := newTestBuffer(t, srvB, false)
	bufC := newTestBuffer(t, srvC, false)

	reg := newPollRegistry()
	reg.register(2, bufC)
	reg.register(0, bufA)
	reg.register(1, bufB)

	require.Equal(t, 3, reg.len())
	require.Same(t, bufA, reg.get(0))
	require.Equal(t, []*CommandBuffer{bufC, bufA, bufB}, reg.iterate())

	// Re-registering must not duplicate the order entry.
	reg.register(0, bufA)
	require.Equal(t, 3, reg.len())

	reg.unregister(0)
	require.Equal(t, []*CommandBuffer{bufC, bufB}, reg.iterate())
	require.Nil(t, reg.get(0))

	reg.unregister(router.HostID(99)) // unknown id is a no-op
	require.Equal(t, 2, reg.len())
}

func TestPollReturnsOnlyReadyBuffers(t *testing.T) {
	srvA, srvB := newTestServer(t), newTestServer(t)
	bufA := newTestBuffer(t, srvA, false)
	bufB := newTestBuffer(t, srvB, false)
	defer bufA.lease.conn.Close()
	defer bufB.lease.conn.Close()

	reg := newPollRegistry()
	reg.register(0, bufA)
	reg.register(1, bufB)

	// Nothing in flight: a non-blocking poll finds nothing.
	require.Empty(t, reg.poll(0))

	_, err := bufA.Enqueue("PING")
	require.NoError(t, err)
	require.NoError(t, bufA.SendPending())

	ready := reg.poll(time.Second)
	require.Equal(t, []*CommandBuffer{bufA}, ready)
	require.NoError(t, bufA.WaitForResponses())
}

func TestPollTimesOutQuietly(t *testing.T) {
	srv := newTestServer(t)
	buf := newTestBuffer(t, srv, false)
	defer buf.lease.conn.Close()

	reg := newPollRegistry()
	reg.register(0, buf)

	start := time.Now()
	require.Empty(t, reg.poll(50*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestPollEmptyRegistry(t *testing.T) {
	reg := newPollRegistry()
	require.Empty(t, reg.poll(0))
	require.Empty(t, reg.poll(10*time.Millisecond))
}
