// Package restore loads a Redis RDB dump into a running cluster by
// replaying its contents as write commands.  Keys land on whichever
// host the cluster's router assigns them, so a single-node dump can be
// spread across a sharded deployment.
package restore

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"shardpipe/internal/client"
	"shardpipe/internal/logger"

	"github.com/hdt3213/rdb/parser"
)

// Summary counts what one load replayed.
type Summary struct {
	Strings    int
	Lists      int
	Hashes     int
	Sets       int
	SortedSets int
	Skipped    int
	Commands   int
}

func (s Summary) Keys() int {
	return s.Strings + s.Lists + s.Hashes + s.Sets + s.SortedSets
}

func (s Summary) String() string {
	return fmt.Sprintf("%d keys (%d strings, %d lists, %d hashes, %d sets, %d sorted sets), %d skipped, %d commands",
		s.Keys(), s.Strings, s.Lists, s.Hashes, s.Sets, s.SortedSets, s.Skipped, s.Commands)
}

// Option configures a Loader.
type Option func(*Loader)

// WithFlushEvery bounds how many commands may be in flight before the
// loader drains the session.  Zero or negative keeps the default.
func WithFlushEvery(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.flushEvery = n
		}
	}
}

// Loader replays RDB contents through a routing client.
type Loader struct {
	rc         *client.RoutingClient
	flushEvery int
}

// NewLoader creates a loader over the given routing client.
func NewLoader(rc *client.RoutingClient, opts ...Option) *Loader {
	l := &Loader{rc: rc, flushEvery: 1000}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadFile opens the dump at path and replays it.
func (l *Loader) LoadFile(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("restore: open dump: %w", err)
	}
	defer f.Close()
	return l.Load(f)
}

// Load parses the dump from r and replays every object into the
// cluster.  Write commands are pipelined per host; the session is
// drained periodically and once more after the last object.
func (l *Loader) Load(r io.Reader) (Summary, error) {
	m := l.rc.MappingClient(client.WithAutoBatch(false))

	var sum Summary
	var replayErr error
	sinceFlush := 0

	run := func(name string, args ...string) bool {
		if _, err := m.Execute(name, args...); err != nil {
			replayErr = fmt.Errorf("restore: %s %q: %w", name, args[0], err)
			return false
		}
		sum.Commands++
		sinceFlush++
		if sinceFlush >= l.flushEvery {
			if err := m.Join(0); err != nil {
				replayErr = fmt.Errorf("restore: drain: %w", err)
				return false
			}
			sinceFlush = 0
		}
		return true
	}

	decoder := parser.NewDecoder(r)
	parseErr := decoder.Parse(func(o parser.RedisObject) bool {
		switch o.GetType() {
		case parser.StringType:
			str := o.(*parser.StringObject)
			if !run("SET", str.Key, string(str.Value)) {
				return false
			}
			sum.Strings++
		case parser.ListType:
			list := o.(*parser.ListObject)
			args := make([]string, 0, len(list.Values)+1)
			args = append(args, list.Key)
			for _, v := range list.Values {
				args = append(args, string(v))
			}
			if !run("RPUSH", args...) {
				return false
			}
			sum.Lists++
		case parser.HashType:
			hash := o.(*parser.HashObject)
			args := make([]string, 0, len(hash.Hash)*2+1)
			args = append(args, hash.Key)
			for k, v := range hash.Hash {
				args = append(args, k, string(v))
			}
			if !run("HSET", args...) {
				return false
			}
			sum.Hashes++
		case parser.SetType:
			set := o.(*parser.SetObject)
			args := make([]string, 0, len(set.Members)+1)
			args = append(args, set.Key)
			for _, v := range set.Members {
				args = append(args, string(v))
			}
			if !run("SADD", args...) {
				return false
			}
			sum.Sets++
		case parser.ZSetType:
			zset := o.(*parser.ZSetObject)
			args := make([]string, 0, len(zset.Entries)*2+1)
			args = append(args, zset.Key)
			for _, e := range zset.Entries {
				args = append(args, strconv.FormatFloat(e.Score, 'f', -1, 64), e.Member)
			}
			if !run("ZADD", args...) {
				return false
			}
			sum.SortedSets++
		default:
			logger.Debugf("restore: skipping unsupported type %s for key %s", o.GetType(), o.GetKey())
			sum.Skipped++
			return true
		}

		if exp := o.GetExpiration(); exp != nil {
			return run("PEXPIREAT", o.GetKey(), strconv.FormatInt(exp.UnixMilli(), 10))
		}
		return true
	})

	if replayErr != nil {
		m.Cancel()
		return sum, replayErr
	}
	if parseErr != nil {
		m.Cancel()
		return sum, fmt.Errorf("restore: parse dump: %w", parseErr)
	}

	start := time.Now()
	if err := m.Join(0); err != nil {
		return sum, fmt.Errorf("restore: final drain: %w", err)
	}
	logger.Debugf("restore: final drain took %s", time.Since(start))
	return sum, nil
}
