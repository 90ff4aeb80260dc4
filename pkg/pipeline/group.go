package pipeline

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/l7mp/docpipe/pkg/accumulator"
	"github.com/l7mp/docpipe/pkg/expression"
	"github.com/l7mp/docpipe/pkg/fieldpath"
	"github.com/l7mp/docpipe/pkg/value"
)

const groupName = "group"

// accForm selects which accumulator factory a group instance runs: the
// complete single-node form, the shard-side partial form, or the router-side
// merge form combining shard partials.
type accForm int

const (
	formComplete accForm = iota
	formShard
	formMerge
)

// groupField is one configured accumulator output.
type groupField struct {
	name string
	kind *accumulator.Kind
	expr expression.Expression
}

// Group buckets its input by the id expression's value under total-order
// equality and reduces each bucket with the configured accumulators. The
// whole input is consumed lazily on the first pull; groups are emitted in
// first-occurrence order of their keys, which callers must not rely on.
type Group struct {
	streamStage
	idExpr expression.Expression
	fields []groupField
	form   accForm
	in     sourceIter

	built bool
	keys  []value.Value
	accs  [][]accumulator.Accumulator
	index map[uint64][]int
	out   []*value.Document
	pos   int
}

// NewGroup parses a group document: an `_id` key expression plus accumulator
// fields of the form `name: {op: expression}`.
func NewGroup(arg value.Value, log logr.Logger) (*Group, error) {
	d, ok := arg.Document()
	if !ok {
		return nil, NewSpecError(arg.String(), fmt.Errorf("group needs a document"))
	}
	if !d.Has("_id") {
		return nil, NewSpecError(arg.String(), fmt.Errorf("group needs an _id key expression"))
	}

	g := newGroupStage(log)

	for _, f := range d.Fields() {
		if f.Name == "_id" {
			idExpr, err := expression.Parse(f.Value)
			if err != nil {
				return nil, NewSpecError(arg.String(), err)
			}
			g.idExpr = idExpr
			continue
		}

		spec, ok := f.Value.Document()
		if !ok || spec.Len() != 1 {
			return nil, NewSpecError(arg.String(),
				fmt.Errorf("accumulator field %q needs a single-operator document", f.Name))
		}
		op := spec.FieldAt(0)
		kind, ok := accumulator.Lookup(strings.TrimPrefix(op.Name, "$"))
		if !ok {
			return nil, NewSpecError(arg.String(), fmt.Errorf("unknown accumulator %q", op.Name))
		}
		expr, err := expression.Parse(op.Value)
		if err != nil {
			return nil, NewSpecError(arg.String(), err)
		}
		g.fields = append(g.fields, groupField{name: f.Name, kind: kind, expr: expr})
	}

	return g, nil
}

func newGroupStage(log logr.Logger) *Group {
	g := &Group{
		streamStage: streamStage{baseStage: newBaseStage(groupName, log)},
		index:       make(map[uint64][]int),
	}
	g.in = sourceIter{owner: &g.baseStage}
	g.gen = g.next
	g.onDispose = func() {
		g.keys, g.accs, g.out, g.index = nil, nil, nil, nil
		g.built = true
	}
	return g
}

func (g *Group) next() (*value.Document, error) {
	if !g.built {
		if err := g.build(); err != nil {
			return nil, err
		}
	}
	if g.pos >= len(g.out) {
		return nil, nil
	}
	doc := g.out[g.pos]
	g.pos++
	return doc, nil
}

func (g *Group) factory(kind *accumulator.Kind) accumulator.Factory {
	switch g.form {
	case formShard:
		return kind.NewShard
	case formMerge:
		return kind.NewMerge
	}
	return kind.New
}

func (g *Group) build() error {
	g.built = true

	for {
		doc, err := g.in.next()
		if err != nil {
			return err
		}
		if doc == nil {
			break
		}

		key, err := g.idExpr.Evaluate(expression.EvalCtx{Doc: doc, Log: g.log})
		if err != nil {
			return NewStageError(groupName, err)
		}
		if key.IsMissing() {
			key = value.Null()
		}

		slot := g.lookup(key)
		for i, f := range g.fields {
			v, err := f.expr.Evaluate(expression.EvalCtx{Doc: doc, Log: g.log})
			if err != nil {
				return NewStageError(groupName, err)
			}
			if err := g.accs[slot][i].Process(v); err != nil {
				return NewStageError(groupName, err)
			}
		}
	}

	// materialize the output documents, consuming the accumulator state
	g.out = make([]*value.Document, 0, len(g.keys))
	for slot, key := range g.keys {
		b := value.NewDocBuilder(len(g.fields) + 1)
		_ = b.Add("_id", key)
		for i, f := range g.fields {
			v, err := g.accs[slot][i].Finalize()
			if err != nil {
				return NewStageError(groupName, err)
			}
			if err := b.Add(f.name, v); err != nil {
				return NewStageError(groupName, err)
			}
		}
		g.out = append(g.out, b.Build())
	}
	g.keys, g.accs, g.index = nil, nil, nil

	g.log.V(2).Info("group built", "groups", len(g.out))
	return nil
}

// lookup finds or inserts the bucket of a key in the equality-hash map.
func (g *Group) lookup(key value.Value) int {
	h := value.Hash(key)
	for _, slot := range g.index[h] {
		if value.Equal(g.keys[slot], key) {
			return slot
		}
	}
	slot := len(g.keys)
	g.keys = append(g.keys, key)
	accs := make([]accumulator.Accumulator, len(g.fields))
	for i, f := range g.fields {
		accs[i] = g.factory(f.kind)()
	}
	g.accs = append(g.accs, accs)
	g.index[h] = append(g.index[h], slot)
	return slot
}

func (g *Group) Optimize() {
	g.idExpr = g.idExpr.Optimize()
	for i := range g.fields {
		g.fields[i].expr = g.fields[i].expr.Optimize()
	}
}

// ManageDependencies bounds the tracker: the group's output consists entirely
// of the key and the accumulator fields, so the surviving source dependencies
// are the group's own expression inputs.
func (g *Group) ManageDependencies(t *Tracker) {
	var deps []fieldpath.Path
	add := func(p fieldpath.Path) { deps = append(deps, p) }
	g.idExpr.AddDependencies(add)
	for _, f := range g.fields {
		f.expr.AddDependencies(add)
	}
	t.ReplaceBound(deps)
}

// ShardSource is the shard-side half of the split: the same key expression
// with every accumulator in its partial form.
func (g *Group) ShardSource() Stage {
	s := newGroupStage(g.log)
	s.form = formShard
	s.idExpr = g.idExpr
	s.fields = g.fields
	return s
}

// RouterSource is the coordinator-side half: keyed on the `_id` field the
// shards emit, with merge-form accumulators reading each shard field by name.
func (g *Group) RouterSource() Stage {
	r := newGroupStage(g.log)
	r.form = formMerge
	r.idExpr = expression.NewFieldRef(fieldpath.Path{"_id"})
	for _, f := range g.fields {
		r.fields = append(r.fields, groupField{
			name: f.name,
			kind: f.kind,
			expr: expression.NewFieldRef(fieldpath.Path{f.name}),
		})
	}
	return r
}

func (g *Group) Serialize(explain bool) *value.Document {
	b := value.NewDocBuilder(len(g.fields) + 1)
	_ = b.Add("_id", g.idExpr.Serialize())
	for _, f := range g.fields {
		_ = b.Add(f.name, value.Doc(value.MustDocument(
			value.Field{Name: f.kind.Name, Value: f.expr.Serialize()})))
	}
	return serializeStage(groupName, value.Doc(b.Build()), explain, g.nOut)
}
