package pipeline

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/l7mp/docpipe/pkg/expression"
	"github.com/l7mp/docpipe/pkg/predicate"
	"github.com/l7mp/docpipe/pkg/value"
)

// filterNext is the common filter skeleton: pull the predecessor, evaluate the
// acceptance test, emit on true, loop on false.
func filterNext(in *sourceIter, accept func(*value.Document) (bool, error)) (*value.Document, error) {
	for {
		doc, err := in.next()
		if err != nil || doc == nil {
			return nil, err
		}
		ok, err := accept(doc)
		if err != nil {
			return nil, err
		}
		if ok {
			return doc, nil
		}
	}
}

const filterName = "filter"

// Filter keeps the documents for which an expression evaluates truthy.
type Filter struct {
	streamStage
	expr expression.Expression
	in   sourceIter
}

// NewFilter builds a filter stage from an expression spec.
func NewFilter(arg value.Value, log logr.Logger) (*Filter, error) {
	expr, err := expression.Parse(arg)
	if err != nil {
		return nil, NewSpecError(arg.String(), err)
	}
	f := &Filter{streamStage: streamStage{baseStage: newBaseStage(filterName, log)}, expr: expr}
	f.in = sourceIter{owner: &f.baseStage}
	f.gen = f.next
	return f, nil
}

func (f *Filter) next() (*value.Document, error) {
	return filterNext(&f.in, func(doc *value.Document) (bool, error) {
		v, err := f.expr.Evaluate(expression.EvalCtx{Doc: doc, Log: f.log})
		if err != nil {
			return false, NewStageError(filterName, err)
		}
		return v.Truthy(), nil
	})
}

// Coalesce fuses a following filter into a conjunction.
func (f *Filter) Coalesce(next Stage) bool {
	nf, ok := next.(*Filter)
	if !ok {
		return false
	}
	and, err := expression.NewOp("$and", []expression.Expression{f.expr, nf.expr})
	if err != nil {
		return false
	}
	f.expr = and
	f.log.V(4).Info("coalesced following filter")
	return true
}

func (f *Filter) Optimize() { f.expr = f.expr.Optimize() }

func (f *Filter) ManageDependencies(t *Tracker) { f.expr.AddDependencies(t.Add) }

func (f *Filter) ShardSource() Stage  { return f }
func (f *Filter) RouterSource() Stage { return nil }

func (f *Filter) Serialize(explain bool) *value.Document {
	return serializeStage(filterName, f.expr.Serialize(), explain, f.nOut)
}

const matchName = "match"

// Match keeps the documents accepted by a compiled find-predicate. The source
// predicate document is kept so the stage can re-emit it when serialized;
// store cursors do not apply it, so every document is tested here.
type Match struct {
	streamStage
	pred predicate.Predicate
	raw  *value.Document
	in   sourceIter
}

// NewMatch compiles a predicate document into a match stage.
func NewMatch(arg value.Value, log logr.Logger) (*Match, error) {
	d, ok := arg.Document()
	if !ok {
		return nil, NewSpecError(arg.String(), fmt.Errorf("match needs a predicate document"))
	}
	pred, err := predicate.Parse(d)
	if err != nil {
		return nil, NewSpecError(arg.String(), err)
	}
	return NewMatchFromPredicate(pred, d, log), nil
}

// NewMatchFromPredicate wraps an already compiled predicate.
func NewMatchFromPredicate(pred predicate.Predicate, raw *value.Document, log logr.Logger) *Match {
	m := &Match{streamStage: streamStage{baseStage: newBaseStage(matchName, log)}, pred: pred, raw: raw}
	m.in = sourceIter{owner: &m.baseStage}
	m.gen = m.next
	return m
}

// Predicate exposes the compiled predicate.
func (m *Match) Predicate() predicate.Predicate { return m.pred }

func (m *Match) next() (*value.Document, error) {
	return filterNext(&m.in, func(doc *value.Document) (bool, error) {
		ok, err := m.pred.Matches(doc)
		if err != nil {
			return false, NewStageError(matchName, err)
		}
		return ok, nil
	})
}

// Coalesce fuses a following match into a predicate conjunction.
func (m *Match) Coalesce(next Stage) bool {
	nm, ok := next.(*Match)
	if !ok {
		return false
	}
	m.pred = predicate.And(m.pred, nm.pred)
	m.raw = value.MustDocument(value.Field{
		Name:  "$and",
		Value: value.Array(value.Doc(m.raw), value.Doc(nm.raw)),
	})
	m.log.V(4).Info("coalesced following match")
	return true
}

func (m *Match) ManageDependencies(t *Tracker) {
	paths, ok := m.pred.Paths()
	if !ok {
		t.SetNonAuthoritative()
		return
	}
	for _, p := range paths {
		t.Add(p)
	}
}

func (m *Match) ShardSource() Stage  { return m }
func (m *Match) RouterSource() Stage { return nil }

func (m *Match) Serialize(explain bool) *value.Document {
	return serializeStage(matchName, value.Doc(m.raw), explain, m.nOut)
}
