package client

import (
	"errors"
	"testing"

	"shardpipe/internal/promise"
	"shardpipe/internal/resp"

	"github.com/stretchr/testify/require"
)

func q(name string, args ...string) queuedCommand {
	return queuedCommand{name: name, args: args, promise: promise.New[resp.Value]()}
}

func names(cmds []queuedCommand) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.name
	}
	return out
}

func TestCoalesceConsecutiveGets(t *testing.T) {
	in := []queuedCommand{q("GET", "a"), q("GET", "b"), q("GET", "c")}
	out := coalesceCommands(in)

	require.Equal(t, []string{"MGET"}, names(out))
	require.Equal(t, []string{"a", "b", "c"}, out[0].args)

	// The list reply scatters element-wise back to the originals.
	reply := resp.Value{Type: resp.Array, Array: []resp.Value{
		{Type: resp.BulkString, Str: "1"},
		{Type: resp.BulkString, Str: "2"},
		{Type: resp.BulkString, Str: "3"},
	}}
	require.NoError(t, out[0].promise.Resolve(reply))

	for i, want := range []string{"1", "2", "3"} {
		v, err := in[i].promise.Value()
		require.NoError(t, err)
		require.Equal(t, want, v.Str)
	}
}

func TestCoalesceGroupOfOneStaysUnwrapped(t *testing.T) {
	in := []queuedCommand{q("GET", "a")}
	out := coalesceCommands(in)

	require.Equal(t, []string{"GET"}, names(out))
	require.Same(t, in[0].promise, out[0].promise)
}

func TestCoalesceNeverCrossesOtherCommands(t *testing.T) {
	in := []queuedCommand{q("GET", "a"), q("INCR", "a"), q("GET", "b")}
	out := coalesceCommands(in)

	require.Equal(t, []string{"GET", "INCR", "GET"}, names(out))
	require.Same(t, in[0].promise, out[0].promise)
	require.Same(t, in[1].promise, out[1].promise)
	require.Same(t, in[2].promise, out[2].promise)
}

func TestCoalesceSetBroadcast(t *testing.T) {
	in := []queuedCommand{q("SET", "a", "1"), q("SET", "b", "2")}
	out := coalesceCommands(in)

	require.Equal(t, []string{"MSET"}, names(out))
	require.Equal(t, []string{"a", "1", "b", "2"}, out[0].args)

	ok := resp.Value{Type: resp.SimpleString, Str: "OK"}
	require.NoError(t, out[0].promise.Resolve(ok))

	for _, cmd := range in {
		v, err := cmd.promise.Value()
		require.NoError(t, err)
		require.True(t, v.IsOK())
	}
}

func TestCoalesceDistinctBatchableRuns(t *testing.T) {
	in := []queuedCommand{
		q("GET", "a"), q("GET", "b"),
		q("SET", "c", "1"), q("SET", "d", "2"),
		q("GET", "e"),
	}
	out := coalesceCommands(in)

	require.Equal(t, []string{"MGET", "MSET", "GET"}, names(out))
	require.Equal(t, []string{"a", "b"}, out[0].args)
	require.Equal(t, []string{"c", "1", "d", "2"}, out[1].args)
	require.Equal(t, []string{"e"}, out[2].args)
}

func TestCoalesceSkipsSetWithOptions(t *testing.T) {
	in := []queuedCommand{
		q("SET", "a", "1"),
		q("SET", "b", "2", "EX", "10"),
		q("SET", "c", "3"),
	}
	out := coalesceCommands(in)

	// The optioned SET has no MSET form; it passes through verbatim and
	// splits the run around it.
	require.Equal(t, []string{"SET", "SET", "SET"}, names(out))
	for i := range in {
		require.Same(t, in[i].promise, out[i].promise)
	}
	require.Equal(t, []string{"b", "2", "EX", "10"}, out[1].args)
}

func TestCoalesceBatchFailureRejectsOriginals(t *testing.T) {
	in := []queuedCommand{q("GET", "a"), q("GET", "b")}
	out := coalesceCommands(in)
	require.Len(t, out, 1)

	boom := errors.New("boom")
	require.NoError(t, out[0].promise.Reject(boom))

	for _, cmd := range in {
		require.ErrorIs(t, cmd.promise.Err(), boom)
	}
}

func TestCoalesceScatterLengthMismatch(t *testing.T) {
	in := []queuedCommand{q("GET", "a"), q("GET", "b")}
	out := coalesceCommands(in)
	require.Len(t, out, 1)

	short := resp.Value{Type: resp.Array, Array: []resp.Value{{Type: resp.BulkString, Str: "only"}}}
	require.NoError(t, out[0].promise.Resolve(short))

	for _, cmd := range in {
		var perr *ProtocolError
		require.ErrorAs(t, cmd.promise.Err(), &perr)
	}
}

func TestCoalesceEmptyInput(t *testing.T) {
	require.Empty(t, coalesceCommands(nil))
}
