package client

import (
	"testing"
	"time"

	"shardpipe/internal/pool"
	"shardpipe/internal/router"

	"github.com/stretchr/testify/require"
)

func testLease(t *testing.T, s *testServer) lease {
	t.Helper()
	p := pool.New(s.addr(), pool.WithReadTimeout(2*time.Second))
	return lease{conn: p.Get(), origin: p}
}

func newTestBuffer(t *testing.T, s *testServer, autoBatch bool) *CommandBuffer {
	t.Helper()
	buf, err := newCommandBuffer(router.HostID(0), testLease(t, s), autoBatch)
	require.NoError(t, err)
	return buf
}

func TestBufferEnqueueFlushDrain(t *testing.T) {
	srv := newTestServer(t)
	buf := newTestBuffer(t, srv, false)
	defer buf.lease.conn.Close()

	pGet, err := buf.Enqueue("GET", "a")
	require.NoError(t, err)
	pIncr, err := buf.Enqueue("INCR", "n")
	require.NoError(t, err)

	require.NoError(t, buf.SendPending())
	require.Equal(t, 2, buf.OutstandingReplies())
	require.NoError(t, buf.WaitForResponses())
	require.Zero(t, buf.OutstandingReplies())

	v, err := pGet.Value()
	require.NoError(t, err)
	require.Equal(t, "val-a", v.Str)

	v, err = pIncr.Value()
	require.NoError(t, err)
	require.EqualValues(t, 1, v.Int)

	require.Equal(t, [][]string{{"GET", "a"}, {"INCR", "n"}}, srv.received())
}

func TestBufferFlushWithoutCommandsIsNoop(t *testing.T) {
	srv := newTestServer(t)
	buf := newTestBuffer(t, srv, false)
	defer buf.lease.conn.Close()

	require.NoError(t, buf.SendPending())
	require.Zero(t, buf.OutstandingReplies())
	require.Empty(t, srv.received())
}

func TestBufferClosedAfterConnectionGone(t *testing.T) {
	srv := newTestServer(t)
	buf := newTestBuffer(t, srv, false)

	require.False(t, buf.Closed())
	require.NoError(t, buf.lease.conn.Close())
	require.True(t, buf.Closed())

	_, err := buf.Enqueue("GET", "a")
	require.ErrorIs(t, err, ErrBufferClosed)
	require.ErrorIs(t, buf.SendPending(), ErrBufferClosed)
	require.ErrorIs(t, buf.WaitForResponses(), ErrBufferClosed)
}

func TestBufferServerErrorRejectsOnlyThatCommand(t *testing.T) {
	srv := newTestServer(t)
	buf := newTestBuffer(t, srv, false)
	defer buf.lease.conn.Close()

	pFirst, err := buf.Enqueue("PING")
	require.NoError(t, err)
	pBoom, err := buf.Enqueue("BOOM")
	require.NoError(t, err)
	pLast, err := buf.Enqueue("PING")
	require.NoError(t, err)

	require.NoError(t, buf.SendPending())
	require.NoError(t, buf.WaitForResponses())

	v, err := pFirst.Value()
	require.NoError(t, err)
	require.Equal(t, "PONG", v.Str)

	var replyErr *ReplyError
	require.ErrorAs(t, pBoom.Err(), &replyErr)
	require.Contains(t, replyErr.Message, "boom")

	v, err = pLast.Value()
	require.NoError(t, err)
	require.Equal(t, "PONG", v.Str)
	require.False(t, buf.Closed())
}

func TestBufferConnectionDropRejectsRemaining(t *testing.T) {
	srv := newTestServer(t)
	buf := newTestBuffer(t, srv, false)

	pFirst, err := buf.Enqueue("PING")
	require.NoError(t, err)
	pDrop, err := buf.Enqueue("DROP")
	require.NoError(t, err)
	pLast, err := buf.Enqueue("PING")
	require.NoError(t, err)

	require.NoError(t, buf.SendPending())
	err = buf.WaitForResponses()
	require.Error(t, err)

	v, verr := pFirst.Value()
	require.NoError(t, verr)
	require.Equal(t, "PONG", v.Str)

	var terr *TransportError
	require.ErrorAs(t, pDrop.Err(), &terr)
	require.ErrorAs(t, pLast.Err(), &terr)
	require.True(t, buf.Closed())
}

func TestBufferGarbageReplyIsProtocolError(t *testing.T) {
	srv := newTestServer(t)
	buf := newTestBuffer(t, srv, false)

	p, err := buf.Enqueue("GARBAGE")
	require.NoError(t, err)

	require.NoError(t, buf.SendPending())
	err = buf.WaitForResponses()

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	require.ErrorAs(t, p.Err(), &perr)
	require.True(t, buf.Closed())
}

func TestBufferAutoBatchOnTheWire(t *testing.T) {
	srv := newTestServer(t)
	buf := newTestBuffer(t, srv, true)
	defer buf.lease.conn.Close()

	pa, err := buf.Enqueue("GET", "a")
	require.NoError(t, err)
	pb, err := buf.Enqueue("GET", "b")
	require.NoError(t, err)

	require.NoError(t, buf.SendPending())
	// One effective command on the wire, one pending reply.
	require.Equal(t, 1, buf.OutstandingReplies())
	require.NoError(t, buf.WaitForResponses())

	require.Equal(t, [][]string{{"MGET", "a", "b"}}, srv.received())
	require.Equal(t, "val-a", bulkOf(t, pa))
	require.Equal(t, "val-b", bulkOf(t, pb))
}
