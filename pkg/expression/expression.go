// Package expression implements the tree language stages evaluate over a
// single document: constants, field references, ordered object constructors
// and scalar operators, with a constant-folding optimize pass.
package expression

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/docpipe/pkg/fieldpath"
	"github.com/l7mp/docpipe/pkg/value"
)

// EvalCtx carries the document an expression is evaluated against.
type EvalCtx struct {
	Doc *value.Document
	Log logr.Logger
}

// Expression is an evaluable node.
type Expression interface {
	// Evaluate computes the node's value over the context document.
	Evaluate(ctx EvalCtx) (value.Value, error)
	// Optimize returns an equivalent, possibly constant-folded node.
	Optimize() Expression
	// AddDependencies reports every field path the node reads.
	AddDependencies(add func(fieldpath.Path))
	// Serialize produces the round-trippable spec form of the node.
	Serialize() value.Value
}

// Constant wraps a fixed value.
type Constant struct {
	val value.Value
}

func NewConstant(v value.Value) *Constant { return &Constant{val: v} }

func (e *Constant) Value() value.Value { return e.val }

func (e *Constant) Evaluate(_ EvalCtx) (value.Value, error) { return e.val, nil }

func (e *Constant) Optimize() Expression { return e }

func (e *Constant) AddDependencies(_ func(fieldpath.Path)) {}

func (e *Constant) Serialize() value.Value {
	// a bare string constant would read back as a field reference: keep
	// string constants behind an explicit $literal
	if e.val.Kind() == value.StringKind {
		return value.Doc(value.MustDocument(value.Field{Name: "$literal", Value: e.val}))
	}
	return e.val
}

// FieldRef resolves a dotted path against the context document. An absent path
// yields Missing, which callers treat per the missing-vs-null rules.
type FieldRef struct {
	path fieldpath.Path
}

func NewFieldRef(p fieldpath.Path) *FieldRef { return &FieldRef{path: p} }

func (e *FieldRef) Path() fieldpath.Path { return e.path }

func (e *FieldRef) Evaluate(ctx EvalCtx) (value.Value, error) {
	v := e.path.Get(ctx.Doc)
	ctx.Log.V(8).Info("eval ready", "expression", e.path.Ref(), "result", v.String())
	return v, nil
}

func (e *FieldRef) Optimize() Expression { return e }

func (e *FieldRef) AddDependencies(add func(fieldpath.Path)) { add(e.path) }

func (e *FieldRef) Serialize() value.Value { return value.String(e.path.Ref()) }

// ObjectField is one named member of an object constructor.
type ObjectField struct {
	Name string
	Expr Expression
}

// Object constructs a document field by field, in declaration order. Members
// whose expression yields Missing are omitted from the output.
type Object struct {
	fields []ObjectField
}

func NewObject(fields []ObjectField) *Object { return &Object{fields: fields} }

func (e *Object) Fields() []ObjectField { return e.fields }

func (e *Object) Evaluate(ctx EvalCtx) (value.Value, error) {
	b := value.NewDocBuilder(len(e.fields))
	for _, f := range e.fields {
		v, err := f.Expr.Evaluate(ctx)
		if err != nil {
			return value.Missing(), err
		}
		if err := b.Add(f.Name, v); err != nil {
			return value.Missing(), err
		}
	}
	out := value.Doc(b.Build())
	ctx.Log.V(8).Info("eval ready", "expression", "object", "result", out.String())
	return out, nil
}

func (e *Object) Optimize() Expression {
	opt := make([]ObjectField, len(e.fields))
	for i, f := range e.fields {
		opt[i] = ObjectField{Name: f.Name, Expr: f.Expr.Optimize()}
	}
	return &Object{fields: opt}
}

func (e *Object) AddDependencies(add func(fieldpath.Path)) {
	for _, f := range e.fields {
		f.Expr.AddDependencies(add)
	}
}

func (e *Object) Serialize() value.Value {
	b := value.NewDocBuilder(len(e.fields))
	for _, f := range e.fields {
		_ = b.Add(f.Name, f.Expr.Serialize())
	}
	return value.Doc(b.Build())
}

// Op applies a named scalar operator to its argument expressions.
type Op struct {
	def  *opDef
	args []Expression
}

func NewOp(name string, args []Expression) (*Op, error) {
	def, ok := opTable[name]
	if !ok {
		return nil, NewUnknownOperatorError(name)
	}
	if len(args) < def.minArgs || (def.maxArgs >= 0 && len(args) > def.maxArgs) {
		return nil, NewInvalidArgumentsError(name, len(args))
	}
	return &Op{def: def, args: args}, nil
}

func (e *Op) Name() string { return e.def.name }

func (e *Op) Evaluate(ctx EvalCtx) (value.Value, error) {
	if e.def.evalLazy != nil {
		v, err := e.def.evalLazy(ctx, e.args)
		if err != nil {
			return value.Missing(), NewExpressionError(e.def.name, err)
		}
		ctx.Log.V(8).Info("eval ready", "expression", e.def.name, "result", v.String())
		return v, nil
	}

	args := make([]value.Value, len(e.args))
	for i, a := range e.args {
		v, err := a.Evaluate(ctx)
		if err != nil {
			return value.Missing(), err
		}
		args[i] = v
	}
	v, err := e.def.eval(args)
	if err != nil {
		return value.Missing(), NewExpressionError(e.def.name, err)
	}
	ctx.Log.V(8).Info("eval ready", "expression", e.def.name, "result", v.String())
	return v, nil
}

// Optimize constant-folds the subtree when every child folded to a constant.
// Folding errors are deferred: the node is left untouched and the error
// resurfaces at evaluation time.
func (e *Op) Optimize() Expression {
	opt := make([]Expression, len(e.args))
	constant := true
	for i, a := range e.args {
		opt[i] = a.Optimize()
		if _, ok := opt[i].(*Constant); !ok {
			constant = false
		}
	}
	folded := &Op{def: e.def, args: opt}
	if !constant {
		return folded
	}
	v, err := folded.Evaluate(EvalCtx{Doc: value.Empty(), Log: logr.Discard()})
	if err != nil {
		return folded
	}
	return NewConstant(v)
}

func (e *Op) AddDependencies(add func(fieldpath.Path)) {
	for _, a := range e.args {
		a.AddDependencies(add)
	}
}

func (e *Op) Serialize() value.Value {
	args := make([]value.Value, len(e.args))
	for i, a := range e.args {
		args[i] = a.Serialize()
	}
	return value.Doc(value.MustDocument(
		value.Field{Name: e.def.name, Value: value.Array(args...)}))
}
