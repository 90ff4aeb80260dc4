package accumulator

import (
	"github.com/l7mp/docpipe/pkg/value"
)

// firstLastAcc captures the first or the latest value of the group's input
// sequence. On the router the per-shard semantics carry over: the merge form
// simply applies the same rule to the shard results in arrival order.
type firstLastAcc struct {
	val   Value
	seen  bool
	first bool
	done  bool
}

func (a *firstLastAcc) Process(v Value) error {
	if a.first && a.seen {
		return nil
	}
	a.val, a.seen = v, true
	return nil
}

func (a *firstLastAcc) Finalize() (Value, error) {
	if a.done {
		return value.Missing(), newOpError("first/last", errFinalized)
	}
	a.done = true
	if !a.seen {
		return value.Null(), nil
	}
	return a.val, nil
}
