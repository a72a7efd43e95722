package client

import (
	"fmt"

	"shardpipe/internal/promise"
	"shardpipe/internal/resp"
	"shardpipe/internal/telemetry"
)

// batchRule describes how one single-key command folds into its
// multi-key form.  Scatter rules expect a list reply distributed back
// element-wise; non-scatter rules broadcast the scalar reply to every
// member of the group.
type batchRule struct {
	batched string
	arity   int
	scatter bool
}

// The coalescing table is data, not code: new command families only
// need an entry here.  Only the plain arity folds: a SET carrying
// options (EX, NX, ...) has no MSET equivalent and must go out as-is.
var autoBatchRules = map[string]batchRule{
	"GET": {batched: "MGET", arity: 1, scatter: true},
	"SET": {batched: "MSET", arity: 2, scatter: false},
}

// coalesceCommands fuses runs of consecutive same-name batchable
// commands into single multi-key commands.  Ordering between distinct
// commands is preserved; a run of one is emitted unchanged.
func coalesceCommands(cmds []queuedCommand) []queuedCommand {
	out := make([]queuedCommand, 0, len(cmds))

	var pendingName string
	var pendingGroup []queuedCommand

	flushPending := func() {
		if len(pendingGroup) == 0 {
			return
		}
		out = append(out, mergeBatch(pendingName, pendingGroup))
		pendingGroup = nil
	}

	for _, cmd := range cmds {
		rule, ok := autoBatchRules[cmd.name]
		if !ok || len(cmd.args) != rule.arity {
			flushPending()
			out = append(out, cmd)
			continue
		}
		if len(pendingGroup) > 0 && pendingName == cmd.name {
			pendingGroup = append(pendingGroup, cmd)
			continue
		}
		flushPending()
		pendingName = cmd.name
		pendingGroup = []queuedCommand{cmd}
	}
	flushPending()
	return out
}

// mergeBatch folds a group of same-name commands into one effective
// command.  The group's original promises settle through the batch
// promise: element-wise for scatter rules, broadcast otherwise.
func mergeBatch(name string, group []queuedCommand) queuedCommand {
	if len(group) == 1 {
		return group[0]
	}

	rule := autoBatchRules[name]

	args := make([]string, 0, len(group)*len(group[0].args))
	for _, cmd := range group {
		args = append(args, cmd.args...)
	}

	batch := promise.New[resp.Value]()
	if rule.scatter {
		batch.OnSuccess(func(v resp.Value) {
			if v.Type != resp.Array || v.IsNull || len(v.Array) != len(group) {
				err := &ProtocolError{Err: fmt.Errorf("%s reply has %d elements, want %d", rule.batched, len(v.Array), len(group))}
				for _, cmd := range group {
					_ = cmd.promise.Reject(err)
				}
				return
			}
			for i, cmd := range group {
				_ = cmd.promise.Resolve(v.Array[i])
			}
		})
	} else {
		batch.OnSuccess(func(v resp.Value) {
			for _, cmd := range group {
				_ = cmd.promise.Resolve(v)
			}
		})
	}
	batch.OnFailure(func(err error) {
		for _, cmd := range group {
			_ = cmd.promise.Reject(err)
		}
	})

	telemetry.CoalescedBatches.Inc()
	telemetry.CommandsCoalesced.Add(float64(len(group)))

	return queuedCommand{name: rule.batched, args: args, promise: batch}
}
