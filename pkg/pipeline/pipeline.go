// Package pipeline implements the streaming document aggregation engine: a
// chain of pull-iterator stages parsed from a declarative specification, a
// rule-based coalescing optimizer, dependency-driven projection pushdown into
// the leading cursor, and the shard/router split for distributed execution.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/l7mp/docpipe/pkg/value"
)

// Options configures pipeline construction.
type Options struct {
	// Log is the base logger; logr.Discard is used when unset.
	Log logr.Logger
	// Interrupt is polled between pulls; a non-nil return cancels the run.
	Interrupt func() error
	// OutSink opens output collections for the out stage.
	OutSink SinkFactory
}

// Pipeline is an ordered stage chain with a single source and a single sink.
type Pipeline struct {
	id        uuid.UUID
	stages    []Stage
	log       logr.Logger
	interrupt func() error
	outSink   SinkFactory
	prepared  bool
	nReturned int64
}

const maxOptimizeIterations = 20

// New parses a declarative stage list: an array of single-field documents
// keyed by stage name. The result has no source; bind one with BindArray,
// BindCursor, BindShards or BindSource before running.
func New(spec value.Value, opts Options) (*Pipeline, error) {
	log := opts.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	p := &Pipeline{
		id:        uuid.New(),
		log:       log.WithName("pipeline"),
		interrupt: opts.Interrupt,
		outSink:   opts.OutSink,
	}

	arr, ok := spec.Arr()
	if !ok {
		return nil, NewSpecError(spec.String(), fmt.Errorf("pipeline must be an array of stages"))
	}

	for i, e := range arr {
		d, ok := e.Document()
		if !ok || d.Len() != 1 {
			return nil, NewSpecError(e.String(), fmt.Errorf("each stage must be a single-field document"))
		}
		f := d.FieldAt(0)

		stage, err := p.parseStage(f.Name, f.Value)
		if err != nil {
			return nil, err
		}
		if _, isOut := stage.(*Out); isOut && i != len(arr)-1 {
			return nil, NewSpecError(e.String(), ErrPipelinePosition)
		}
		p.stages = append(p.stages, stage)
	}

	// link the chain head to tail; the source comes later
	for i := 1; i < len(p.stages); i++ {
		if err := p.stages[i].SetSource(p.stages[i-1]); err != nil {
			return nil, err
		}
	}

	p.log.V(2).Info("pipeline parsed", "pipeline-id", p.id.String(), "stages", len(p.stages))
	return p, nil
}

func (p *Pipeline) parseStage(name string, arg value.Value) (Stage, error) {
	switch name {
	case matchName:
		return NewMatch(arg, p.log)
	case filterName:
		return NewFilter(arg, p.log)
	case projectName:
		return NewProject(arg, p.log)
	case groupName:
		return NewGroup(arg, p.log)
	case sortName:
		return NewSort(arg, p.log)
	case limitName:
		return NewLimit(arg, p.log)
	case skipName:
		return NewSkip(arg, p.log)
	case unwindName:
		return NewUnwind(arg, p.log)
	case outName:
		return NewOut(arg, p.outSink, p.log)
	}
	return nil, NewSpecError(name, ErrUnknownStage)
}

// Stages exposes the current chain, e.g. for explain tests.
func (p *Pipeline) Stages() []Stage { return p.stages }

func isSource(s Stage) bool {
	switch s.(type) {
	case *ArraySource, *CursorSource, *ShardsSource:
		return true
	}
	return false
}

// BindSource attaches the given source stage in front of the chain.
func (p *Pipeline) BindSource(src Stage) error {
	if len(p.stages) > 0 && isSource(p.stages[0]) {
		return NewPipelineError(ErrAlreadyBound)
	}
	if len(p.stages) > 0 {
		if err := p.stages[0].SetSource(src); err != nil {
			return err
		}
	}
	p.stages = append([]Stage{src}, p.stages...)
	return nil
}

// BindArray feeds the pipeline from a literal document array.
func (p *Pipeline) BindArray(arr value.Value) error {
	src, err := NewArraySource(arr, p.log)
	if err != nil {
		return err
	}
	return p.BindSource(src)
}

// BindDocs feeds the pipeline from already-decoded documents.
func (p *Pipeline) BindDocs(docs []*value.Document) error {
	return p.BindSource(NewArraySourceFromDocs(docs, p.log))
}

// BindCursor feeds the pipeline from an external storage cursor.
func (p *Pipeline) BindCursor(cur Cursor) error {
	return p.BindSource(NewCursorSource(cur, p.log))
}

// BindShards feeds a router-side pipeline from per-shard result arrays.
func (p *Pipeline) BindShards(results map[string][]*value.Document) error {
	return p.BindSource(NewShardsSource(results, p.log))
}

// Optimize runs local stage optimization, neighbour coalescing and match
// motion to fixpoint. Idempotent.
func (p *Pipeline) Optimize() {
	changed := true
	for iter := 0; changed && iter < maxOptimizeIterations; iter++ {
		changed = false

		for _, s := range p.stages {
			s.Optimize()
		}

		// fuse neighbours until no pair coalesces
		for i := 0; i < len(p.stages)-1; {
			if p.stages[i].Coalesce(p.stages[i+1]) {
				p.stages = append(p.stages[:i+1], p.stages[i+2:]...)
				p.relink()
				changed = true
				continue
			}
			i++
		}

		// move match stages toward the data source where semantics allow
		for i := 1; i < len(p.stages); i++ {
			m, ok := p.stages[i].(*Match)
			if !ok {
				continue
			}
			if movableBefore(m, p.stages[i-1]) {
				p.stages[i-1], p.stages[i] = m, p.stages[i-1]
				p.relink()
				changed = true
			}
		}
	}
}

// movableBefore decides whether a match may swap with its predecessor: past a
// sort always (filtering commutes with reordering), past a simple projection
// when every predicate path survives it verbatim. Never past stages that
// change cardinality or compute fields.
func movableBefore(m *Match, prev Stage) bool {
	switch s := prev.(type) {
	case *Sort:
		return true
	case *Project:
		paths, ok := m.pred.Paths()
		if !ok {
			return false
		}
		for _, q := range paths {
			if !s.survives(q) {
				return false
			}
		}
		return true
	}
	return false
}

func (p *Pipeline) relink() {
	for i, s := range p.stages {
		r, ok := s.(relinker)
		if !ok {
			continue
		}
		if i == 0 {
			r.relink(nil)
		} else {
			r.relink(p.stages[i-1])
		}
	}
}

// manageDependencies walks the chain tail to head collecting needed paths and
// pushes the surviving projection into a leading cursor when the tracker
// stayed authoritative.
func (p *Pipeline) manageDependencies() {
	if len(p.stages) == 0 {
		return
	}
	t := NewTracker()
	for i := len(p.stages) - 1; i >= 0; i-- {
		p.stages[i].ManageDependencies(t)
	}
	if !t.Authoritative() {
		return
	}
	head, ok := p.stages[0].(*CursorSource)
	if !ok {
		return
	}
	if err := head.PushProjection(t.Paths(), t.NeedsID()); err != nil {
		p.log.Error(err, "projection pushdown skipped")
	}
}

// Prepare optimizes the chain and runs dependency pushdown; called once,
// implicitly, by the first Run.
func (p *Pipeline) Prepare() {
	if p.prepared {
		return
	}
	p.prepared = true
	p.Optimize()
	p.manageDependencies()
}

// SplitForSharded divides the pipeline into the shard-resident prefix and the
// coordinator-side suffix. The chain is walked head to tail: stages stay on
// the shard while their router part is nil; the first stage with a router
// part contributes its shard half (if any) to the shard plan, its router half
// to the router plan, and every later stage runs on the router unchanged.
// Bind the shard plan to per-shard sources and the router plan to a
// ShardsSource over the shard outputs.
func (p *Pipeline) SplitForSharded() (*Pipeline, *Pipeline) {
	p.Prepare()

	shard := &Pipeline{id: uuid.New(), log: p.log.WithName("shard"),
		interrupt: p.interrupt, outSink: p.outSink, prepared: true}
	router := &Pipeline{id: uuid.New(), log: p.log.WithName("router"),
		interrupt: p.interrupt, outSink: p.outSink, prepared: true}

	onRouter := false
	for _, s := range p.stages {
		if onRouter {
			router.stages = append(router.stages, s)
			continue
		}
		rp := s.RouterSource()
		if rp == nil {
			shard.stages = append(shard.stages, s.ShardSource())
			continue
		}
		if sp := s.ShardSource(); sp != nil {
			shard.stages = append(shard.stages, sp)
		}
		router.stages = append(router.stages, rp)
		onRouter = true
	}

	shard.relink()
	router.relink()
	p.log.V(2).Info("pipeline split for sharded execution",
		"shard-stages", len(shard.stages), "router-stages", len(router.stages))
	return shard, router
}

func (p *Pipeline) checkInterrupt(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return NewPipelineError(fmt.Errorf("%w: %w", ErrCancelled, err))
	}
	if p.interrupt != nil {
		if err := p.interrupt(); err != nil {
			return NewPipelineError(fmt.Errorf("%w: %w", ErrCancelled, err))
		}
	}
	return nil
}

// Run drives the terminal stage to exhaustion, handing each result document
// to emit. Every stage is disposed on return, normal or not.
func (p *Pipeline) Run(ctx context.Context, emit func(*value.Document) error) (err error) {
	defer p.Dispose()

	if len(p.stages) == 0 {
		return NewPipelineError(errors.New("empty pipeline"))
	}
	if !isSource(p.stages[0]) {
		return NewPipelineError(errors.New("pipeline has no bound source"))
	}
	p.Prepare()

	tail := p.stages[len(p.stages)-1]
	for {
		if err := p.checkInterrupt(ctx); err != nil {
			return err
		}
		eof, err := tail.EOF()
		if err != nil {
			return NewPipelineError(err)
		}
		if eof {
			return nil
		}
		doc, err := tail.Current()
		if err != nil {
			return NewPipelineError(err)
		}
		p.nReturned++
		if emit != nil {
			if err := emit(doc); err != nil {
				return NewPipelineError(err)
			}
		}
		if _, err := tail.Advance(); err != nil {
			return NewPipelineError(err)
		}
	}
}

// Documents runs the pipeline and collects the result stream.
func (p *Pipeline) Documents(ctx context.Context) ([]*value.Document, error) {
	var out []*value.Document
	err := p.Run(ctx, func(doc *value.Document) error {
		out = append(out, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Dispose releases every stage. Idempotent; safe at any point after
// construction.
func (p *Pipeline) Dispose() {
	for _, s := range p.stages {
		s.Dispose()
	}
}

// Serialize renders the explain/round-trip view: the serialized stage list
// plus the returned-document counter, with per-stage emission counters in
// explain mode.
func (p *Pipeline) Serialize(explain bool) *value.Document {
	stages := make([]value.Value, 0, len(p.stages))
	for _, s := range p.stages {
		stages = append(stages, value.Doc(s.Serialize(explain)))
	}
	b := value.NewDocBuilder(2)
	_ = b.Add("pipeline", value.Array(stages...))
	_ = b.Add("nReturned", value.Int64(p.nReturned))
	return b.Build()
}
