package pipeline

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/l7mp/docpipe/pkg/value"
)

const limitName = "limit"

// Limit passes through at most n documents.
type Limit struct {
	streamStage
	n    int64
	seen int64
	in   sourceIter
}

// NewLimit parses a positive integer limit.
func NewLimit(arg value.Value, log logr.Logger) (*Limit, error) {
	n, ok := arg.Int64()
	if !ok || n <= 0 {
		return nil, NewSpecError(arg.String(), fmt.Errorf("limit must be a positive integer"))
	}
	return newLimitN(n, log), nil
}

func newLimitN(n int64, log logr.Logger) *Limit {
	l := &Limit{streamStage: streamStage{baseStage: newBaseStage(limitName, log)}, n: n}
	l.in = sourceIter{owner: &l.baseStage}
	l.gen = l.next
	return l
}

func (l *Limit) next() (*value.Document, error) {
	if l.seen >= l.n {
		return nil, nil
	}
	doc, err := l.in.next()
	if err != nil || doc == nil {
		return nil, err
	}
	l.seen++
	return doc, nil
}

// Coalesce fuses a following limit into the smaller bound.
func (l *Limit) Coalesce(next Stage) bool {
	nl, ok := next.(*Limit)
	if !ok {
		return false
	}
	if nl.n < l.n {
		l.n = nl.n
	}
	l.log.V(4).Info("coalesced following limit", "limit", l.n)
	return true
}

// A limit splits into a copy on every shard (each shard emits at most n) and
// the original on the router re-establishing the global bound.
func (l *Limit) ShardSource() Stage  { return newLimitN(l.n, l.log) }
func (l *Limit) RouterSource() Stage { return l }

func (l *Limit) Serialize(explain bool) *value.Document {
	return serializeStage(limitName, value.Int64(l.n), explain, l.nOut)
}
