// Package accumulator implements the per-group state objects of the group
// stage. Every kind comes in three forms: the complete single-node form, the
// shard-side partial form, and the router-side merge form that combines shard
// partials.
package accumulator

import (
	"errors"
	"fmt"

	"github.com/l7mp/docpipe/pkg/value"
)

// Value aliases the engine value type; accumulator state is plain value
// arithmetic.
type Value = value.Value

// Accumulator is incremental per-group state: zero state at construction, one
// Process call per input value, and a single Finalize that consumes the state.
type Accumulator interface {
	Process(v Value) error
	Finalize() (Value, error)
}

// Factory builds a fresh accumulator instance for one group.
type Factory func() Accumulator

// Kind groups the three factory forms of one accumulator operator.
type Kind struct {
	Name string
	// New builds the complete, single-node form.
	New Factory
	// NewShard builds the shard-side partial form.
	NewShard Factory
	// NewMerge builds the router-side form combining shard partials.
	NewMerge Factory
}

var kinds = map[string]*Kind{}

func registerKind(k *Kind) { kinds[k.Name] = k }

// Lookup resolves an accumulator operator name ("sum", "avg", ...).
func Lookup(name string) (*Kind, bool) {
	k, ok := kinds[name]
	return k, ok
}

var errFinalized = errors.New("accumulator state already consumed")

func newOpError(op string, err error) error {
	return fmt.Errorf("accumulator %s: %w", op, err)
}

func init() {
	registerKind(&Kind{Name: "sum",
		New:      func() Accumulator { return &sumAcc{} },
		NewShard: func() Accumulator { return &sumAcc{} },
		NewMerge: func() Accumulator { return &sumAcc{} },
	})
	registerKind(&Kind{Name: "avg",
		New:      func() Accumulator { return &avgAcc{} },
		NewShard: func() Accumulator { return &avgAcc{partial: true} },
		NewMerge: func() Accumulator { return &avgMergeAcc{} },
	})
	registerKind(&Kind{Name: "min",
		New:      func() Accumulator { return &minMaxAcc{sign: -1} },
		NewShard: func() Accumulator { return &minMaxAcc{sign: -1} },
		NewMerge: func() Accumulator { return &minMaxAcc{sign: -1} },
	})
	registerKind(&Kind{Name: "max",
		New:      func() Accumulator { return &minMaxAcc{sign: 1} },
		NewShard: func() Accumulator { return &minMaxAcc{sign: 1} },
		NewMerge: func() Accumulator { return &minMaxAcc{sign: 1} },
	})
	registerKind(&Kind{Name: "first",
		New:      func() Accumulator { return &firstLastAcc{first: true} },
		NewShard: func() Accumulator { return &firstLastAcc{first: true} },
		NewMerge: func() Accumulator { return &firstLastAcc{first: true} },
	})
	registerKind(&Kind{Name: "last",
		New:      func() Accumulator { return &firstLastAcc{} },
		NewShard: func() Accumulator { return &firstLastAcc{} },
		NewMerge: func() Accumulator { return &firstLastAcc{} },
	})
	registerKind(&Kind{Name: "push",
		New:      func() Accumulator { return &pushAcc{} },
		NewShard: func() Accumulator { return &pushAcc{} },
		NewMerge: func() Accumulator { return &pushAcc{flatten: true} },
	})
	registerKind(&Kind{Name: "addToSet",
		New:      func() Accumulator { return &setAcc{} },
		NewShard: func() Accumulator { return &setAcc{} },
		NewMerge: func() Accumulator { return &setAcc{flatten: true} },
	})
}
