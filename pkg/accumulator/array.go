package accumulator

import (
	"fmt"

	"github.com/l7mp/docpipe/pkg/value"
)

// pushAcc collects values into an array in arrival order. The merge form
// receives per-shard arrays and concatenates them.
type pushAcc struct {
	vals    []Value
	flatten bool
	done    bool
}

func (a *pushAcc) Process(v Value) error {
	if v.IsMissing() {
		return nil
	}
	if a.flatten {
		arr, ok := v.Arr()
		if !ok {
			return newOpError("push", fmt.Errorf("expected a partial array, got %s", v.Kind()))
		}
		a.vals = append(a.vals, arr...)
		return nil
	}
	a.vals = append(a.vals, v)
	return nil
}

func (a *pushAcc) Finalize() (Value, error) {
	if a.done {
		return value.Missing(), newOpError("push", errFinalized)
	}
	a.done = true
	return value.Array(a.vals...), nil
}

// setAcc collects distinct values under total-order equality, preserving first
// occurrence order. The merge form unions per-shard arrays.
type setAcc struct {
	vals    []Value
	index   map[uint64][]int
	flatten bool
	done    bool
}

func (a *setAcc) add(v Value) {
	if a.index == nil {
		a.index = make(map[uint64][]int)
	}
	h := value.Hash(v)
	for _, i := range a.index[h] {
		if value.Equal(a.vals[i], v) {
			return
		}
	}
	a.index[h] = append(a.index[h], len(a.vals))
	a.vals = append(a.vals, v)
}

func (a *setAcc) Process(v Value) error {
	if v.IsMissing() {
		return nil
	}
	if a.flatten {
		arr, ok := v.Arr()
		if !ok {
			return newOpError("addToSet", fmt.Errorf("expected a partial array, got %s", v.Kind()))
		}
		for _, e := range arr {
			a.add(e)
		}
		return nil
	}
	a.add(v)
	return nil
}

func (a *setAcc) Finalize() (Value, error) {
	if a.done {
		return value.Missing(), newOpError("addToSet", errFinalized)
	}
	a.done = true
	return value.Array(a.vals...), nil
}
