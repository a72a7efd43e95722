package client

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"shardpipe/internal/pool"
	"shardpipe/internal/promise"
	"shardpipe/internal/resp"
	"shardpipe/internal/router"

	"github.com/stretchr/testify/require"
)

// testServer is an in-process RESP backend.  It records every command
// it receives and serves canned replies so tests can assert on the
// exact wire traffic a client produced.
type testServer struct {
	ln net.Listener

	mu       sync.Mutex
	commands [][]string
	store    map[string]string
	counters map[string]int64

	// dropFirstConn makes the server close the first accepted
	// connection immediately, exercising retry paths.
	dropFirstConn bool
	accepted      int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &testServer{
		ln:       ln,
		store:    make(map[string]string),
		counters: make(map[string]int64),
	}
	go s.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *testServer) addr() string { return s.ln.Addr().String() }

func (s *testServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.accepted++
		dropIt := s.dropFirstConn && s.accepted == 1
		s.mu.Unlock()
		if dropIt {
			conn.Close()
			continue
		}
		go s.serve(conn)
	}
}

func (s *testServer) serve(c net.Conn) {
	defer c.Close()
	r := bufio.NewReader(c)
	for {
		v, err := resp.ReadReply(r)
		if err != nil {
			return
		}
		row := v.Strings()
		if len(row) == 0 {
			continue
		}
		name := strings.ToUpper(row[0])
		s.mu.Lock()
		s.commands = append(s.commands, append([]string{name}, row[1:]...))
		s.mu.Unlock()

		reply := s.replyFor(name, row[1:])
		if reply == nil {
			return
		}
		if len(reply) == 0 {
			// Swallowed: recorded, never answered, connection kept open.
			continue
		}
		if _, err := c.Write(reply); err != nil {
			return
		}
	}
}

func (s *testServer) replyFor(name string, args []string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case "PING":
		return resp.EncodeSimpleString("PONG")
	case "ECHO":
		return resp.EncodeBulkString([]byte(args[0]))
	case "GET":
		return resp.EncodeBulkString([]byte(s.valueLocked(args[0])))
	case "MGET":
		parts := make([][]byte, len(args))
		for i, key := range args {
			parts[i] = []byte(s.valueLocked(key))
		}
		return resp.EncodeArray(parts...)
	case "SET":
		s.store[args[0]] = args[1]
		return resp.EncodeSimpleString("OK")
	case "MSET":
		for i := 0; i+1 < len(args); i += 2 {
			s.store[args[i]] = args[i+1]
		}
		return resp.EncodeSimpleString("OK")
	case "INCR":
		s.counters[args[0]]++
		return resp.EncodeInteger(s.counters[args[0]])
	case "INFO":
		return resp.EncodeBulkString([]byte("role:master on " + s.ln.Addr().String()))
	case "BOOM":
		return resp.EncodeError("ERR boom")
	case "DROP":
		// Close the connection without replying.
		return nil
	case "STALL":
		// Never reply but keep the connection alive.
		return []byte{}
	case "GARBAGE":
		return []byte("?this is not resp\r\n")
	default:
		return resp.EncodeError("ERR unknown command '" + name + "'")
	}
}

func (s *testServer) valueLocked(key string) string {
	if v, ok := s.store[key]; ok {
		return v
	}
	return "val-" + key
}

// received snapshots the commands seen so far.
func (s *testServer) received() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// tableRouter routes by an explicit key table; unknown keys go to the
// fallback host.
type tableRouter struct {
	byKey    map[string]router.HostID
	fallback router.HostID
}

func (r tableRouter) HostFor(name string, args []string) (router.HostID, error) {
	key, err := router.RoutingKey(name, args)
	if err != nil {
		return 0, err
	}
	if host, ok := r.byKey[key]; ok {
		return host, nil
	}
	return r.fallback, nil
}

// testCluster implements the Cluster surface over in-process servers.
type testCluster struct {
	rtr   router.Router
	order []router.HostID
	pools map[router.HostID]*pool.Pool
}

func (tc *testCluster) Router() router.Router { return tc.rtr }

func (tc *testCluster) PoolFor(id router.HostID) (*pool.Pool, error) {
	p, ok := tc.pools[id]
	if !ok {
		return nil, &TransportError{Host: id, Err: ErrBufferClosed}
	}
	return p, nil
}

func (tc *testCluster) Hosts() []router.HostID {
	out := make([]router.HostID, len(tc.order))
	copy(out, tc.order)
	return out
}

// newTestCluster spins up n servers on loopback, one host id each.
func newTestCluster(t *testing.T, n int, rtr router.Router, poolOpts ...pool.Option) (*testCluster, []*testServer) {
	t.Helper()
	servers := make([]*testServer, n)
	tc := &testCluster{rtr: rtr, pools: make(map[router.HostID]*pool.Pool, n)}
	if len(poolOpts) == 0 {
		poolOpts = []pool.Option{pool.WithReadTimeout(2 * time.Second)}
	}
	for i := 0; i < n; i++ {
		servers[i] = newTestServer(t)
		id := router.HostID(i)
		tc.order = append(tc.order, id)
		tc.pools[id] = pool.New(servers[i].addr(), poolOpts...)
	}
	if tc.rtr == nil {
		var err error
		tc.rtr, err = router.NewPartitionRouter(tc.order)
		require.NoError(t, err)
	}
	return tc, servers
}

// bulkOf reads a settled promise's bulk string payload.
func bulkOf(t *testing.T, p *promise.Promise[resp.Value]) string {
	t.Helper()
	v, err := p.Value()
	require.NoError(t, err)
	return v.Str
}

// itoa keeps table tests terse.
func itoa(n int) string { return strconv.Itoa(n) }
