// Package predicate compiles find-style predicate documents into matchers
// over documents. The pipeline's match stage treats this package as a black
// box. The storage layer does not evaluate predicates: its cursors return
// every stored document and matching happens in the match stage.
package predicate

import (
	"strings"

	"github.com/l7mp/docpipe/pkg/fieldpath"
	"github.com/l7mp/docpipe/pkg/value"
)

// Predicate decides whether a document matches.
type Predicate interface {
	Matches(doc *value.Document) (bool, error)
	// Paths enumerates the field paths the predicate reads. The boolean is
	// false when the predicate cannot enumerate its dependencies, which
	// forces dependency tracking into non-authoritative mode.
	Paths() ([]fieldpath.Path, bool)
	// Serialize re-emits the predicate document.
	Serialize() value.Value
}

// True is the vacuous predicate of an empty matcher document.
type True struct{}

func (True) Matches(*value.Document) (bool, error)  { return true, nil }
func (True) Paths() ([]fieldpath.Path, bool)        { return nil, true }
func (True) Serialize() value.Value                 { return value.Doc(value.Empty()) }

// Func wraps an opaque Go predicate. It cannot enumerate its dependencies.
type Func struct {
	F func(doc *value.Document) (bool, error)
}

func (p Func) Matches(doc *value.Document) (bool, error) { return p.F(doc) }
func (p Func) Paths() ([]fieldpath.Path, bool)           { return nil, false }
func (p Func) Serialize() value.Value                    { return value.Doc(value.Empty()) }

// And conjoins two predicates; used when neighbouring match stages coalesce.
func And(a, b Predicate) Predicate {
	if _, ok := a.(True); ok {
		return b
	}
	if _, ok := b.(True); ok {
		return a
	}
	return &andPred{children: []Predicate{a, b}}
}

type andPred struct {
	children []Predicate
}

func (p *andPred) Matches(doc *value.Document) (bool, error) {
	for _, c := range p.children {
		ok, err := c.Matches(doc)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (p *andPred) Paths() ([]fieldpath.Path, bool) {
	var paths []fieldpath.Path
	for _, c := range p.children {
		ps, ok := c.Paths()
		if !ok {
			return nil, false
		}
		paths = append(paths, ps...)
	}
	return paths, true
}

func (p *andPred) Serialize() value.Value {
	args := make([]value.Value, len(p.children))
	for i, c := range p.children {
		args[i] = c.Serialize()
	}
	return value.Doc(value.MustDocument(
		value.Field{Name: "$and", Value: value.Array(args...)}))
}

type orPred struct {
	children []Predicate
}

func (p *orPred) Matches(doc *value.Document) (bool, error) {
	for _, c := range p.children {
		ok, err := c.Matches(doc)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (p *orPred) Paths() ([]fieldpath.Path, bool) {
	var paths []fieldpath.Path
	for _, c := range p.children {
		ps, ok := c.Paths()
		if !ok {
			return nil, false
		}
		paths = append(paths, ps...)
	}
	return paths, true
}

func (p *orPred) Serialize() value.Value {
	args := make([]value.Value, len(p.children))
	for i, c := range p.children {
		args[i] = c.Serialize()
	}
	return value.Doc(value.MustDocument(
		value.Field{Name: "$or", Value: value.Array(args...)}))
}

// fieldCond is one comparison over one field path.
type fieldCond struct {
	path    fieldpath.Path
	op      string // $eq, $ne, $gt, $gte, $lt, $lte, $in, $nin, $exists
	operand value.Value
}

func (p *fieldCond) Matches(doc *value.Document) (bool, error) {
	v := p.path.Get(doc)

	switch p.op {
	case "$exists":
		want := p.operand.Truthy()
		return v.IsMissing() != want, nil

	case "$eq":
		return value.SameClass(v, p.operand) && value.Equal(v, p.operand), nil

	case "$ne":
		return !(value.SameClass(v, p.operand) && value.Equal(v, p.operand)), nil

	case "$in", "$nin":
		arr, _ := p.operand.Arr()
		found := false
		for _, e := range arr {
			if value.SameClass(v, e) && value.Equal(v, e) {
				found = true
				break
			}
		}
		if p.op == "$in" {
			return found, nil
		}
		return !found, nil

	default:
		if !value.SameClass(v, p.operand) {
			return false, nil
		}
		c := value.Compare(v, p.operand)
		switch p.op {
		case "$gt":
			return c > 0, nil
		case "$gte":
			return c >= 0, nil
		case "$lt":
			return c < 0, nil
		case "$lte":
			return c <= 0, nil
		}
		return false, NewParseError("unknown operator " + p.op)
	}
}

func (p *fieldCond) Paths() ([]fieldpath.Path, bool) {
	return []fieldpath.Path{p.path}, true
}

func (p *fieldCond) Serialize() value.Value {
	cond := value.MustDocument(value.Field{Name: p.op, Value: p.operand})
	return value.Doc(value.MustDocument(
		value.Field{Name: p.path.String(), Value: value.Doc(cond)}))
}

// Parse compiles a predicate document. Grammar: `{$and: [...]}` and
// `{$or: [...]}` combine sub-predicates; `{field: literal}` is equality;
// `{field: {$op: operand, ...}}` applies comparison operators; multiple
// top-level fields conjoin.
func Parse(d *value.Document) (Predicate, error) {
	if d.Len() == 0 {
		return True{}, nil
	}

	var preds []Predicate
	for _, f := range d.Fields() {
		switch {
		case f.Name == "$and" || f.Name == "$or":
			arr, ok := f.Value.Arr()
			if !ok || len(arr) == 0 {
				return nil, NewParseError(d.String())
			}
			children := make([]Predicate, 0, len(arr))
			for _, e := range arr {
				sub, ok := e.Document()
				if !ok {
					return nil, NewParseError(d.String())
				}
				c, err := Parse(sub)
				if err != nil {
					return nil, err
				}
				children = append(children, c)
			}
			if f.Name == "$and" {
				preds = append(preds, &andPred{children: children})
			} else {
				preds = append(preds, &orPred{children: children})
			}

		case strings.HasPrefix(f.Name, "$"):
			return nil, NewParseError(d.String())

		default:
			p, err := fieldpath.Parse(f.Name)
			if err != nil {
				return nil, NewParseError(d.String())
			}
			conds, err := parseFieldConds(p, f.Value)
			if err != nil {
				return nil, err
			}
			preds = append(preds, conds...)
		}
	}

	if len(preds) == 1 {
		return preds[0], nil
	}
	return &andPred{children: preds}, nil
}

func parseFieldConds(p fieldpath.Path, v value.Value) ([]Predicate, error) {
	d, ok := v.Document()
	if !ok || !isOperatorDoc(d) {
		// literal equality
		return []Predicate{&fieldCond{path: p, op: "$eq", operand: v}}, nil
	}

	conds := make([]Predicate, 0, d.Len())
	for _, f := range d.Fields() {
		switch f.Name {
		case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte", "$exists":
			conds = append(conds, &fieldCond{path: p, op: f.Name, operand: f.Value})
		case "$in", "$nin":
			if _, ok := f.Value.Arr(); !ok {
				return nil, NewParseError(d.String())
			}
			conds = append(conds, &fieldCond{path: p, op: f.Name, operand: f.Value})
		default:
			return nil, NewParseError(d.String())
		}
	}
	return conds, nil
}

func isOperatorDoc(d *value.Document) bool {
	if d.Len() == 0 {
		return false
	}
	for _, f := range d.Fields() {
		if !strings.HasPrefix(f.Name, "$") {
			return false
		}
	}
	return true
}
