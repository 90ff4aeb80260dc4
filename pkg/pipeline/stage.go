package pipeline

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/docpipe/pkg/value"
)

// Stage is a pull-iterator over a document stream. All calls are made from the
// single thread owning the pipeline. A freshly built stage is unstarted; the
// first EOF or Advance call positions it on its first output document. A
// stage that must consume its whole input (group, sort) does so lazily on
// that first call.
type Stage interface {
	// Name returns the stage's spec name.
	Name() string

	// EOF reports whether the stream is exhausted. Stable once true.
	EOF() (bool, error)

	// Advance moves to the next document; false means the stream is now
	// exhausted. Calling Advance on an exhausted stage is undefined.
	Advance() (bool, error)

	// Current returns the document the stage is positioned on, or
	// ErrExhausted past the end of the stream. The document must not be
	// mutated.
	Current() (*value.Document, error)

	// SetSource attaches the predecessor. A second call fails with
	// ErrAlreadyBound; source stages fail with ErrNotASink.
	SetSource(s Stage) error

	// Dispose releases held resources. Idempotent; EOF answers true
	// afterwards.
	Dispose()

	// Coalesce tries to fuse the next stage into this one; true means the
	// caller must drop next from the chain.
	Coalesce(next Stage) bool

	// Optimize applies local optimization, typically expression folding.
	Optimize()

	// ManageDependencies reports the field paths the stage consumes into the
	// tracker during the tail-to-head dependency walk.
	ManageDependencies(t *Tracker)

	// ShardSource and RouterSource split the stage for sharded execution. A
	// nil router part means the stage runs entirely on the shards; otherwise
	// the shard part (possibly nil) runs on every shard and the router part
	// runs on the coordinator, as does everything after this stage.
	ShardSource() Stage
	RouterSource() Stage

	// Serialize renders the one-field explain/round-trip view of the stage.
	Serialize(explain bool) *value.Document

	// NOut returns the number of documents the stage has emitted.
	NOut() int64
}

// baseStage carries the chain link, logging and the emission counter shared
// by every stage.
type baseStage struct {
	name     string
	source   Stage
	log      logr.Logger
	disposed bool
	nOut     int64
}

func newBaseStage(name string, log logr.Logger) baseStage {
	return baseStage{name: name, log: log.WithName(name)}
}

func (s *baseStage) Name() string { return s.name }

func (s *baseStage) SetSource(src Stage) error {
	if s.source != nil {
		return NewStageError(s.name, ErrAlreadyBound)
	}
	s.source = src
	return nil
}

// relink rewires the predecessor after the optimizer mutates the chain.
func (s *baseStage) relink(src Stage) { s.source = src }

func (s *baseStage) Coalesce(Stage) bool { return false }

func (s *baseStage) Optimize() {}

func (s *baseStage) ManageDependencies(*Tracker) {}

func (s *baseStage) NOut() int64 { return s.nOut }

// relinker is implemented by every stage through baseStage; the optimizer
// uses it to rewire the chain without tripping the set-once SetSource check.
type relinker interface {
	relink(src Stage)
}

// streamStage implements the iterator protocol over a stage-specific
// generator. The generator returns the next output document, or nil at the
// end of the stream; errors latch the stage into eof.
type streamStage struct {
	baseStage
	gen       func() (*value.Document, error)
	cur       *value.Document
	started   bool
	eof       bool
	onDispose func()
}

func (s *streamStage) start() error {
	if s.started {
		return nil
	}
	s.started = true
	return s.step()
}

func (s *streamStage) step() error {
	doc, err := s.gen()
	if err != nil {
		s.eof = true
		s.cur = nil
		return err
	}
	if doc == nil {
		s.eof = true
		s.cur = nil
		return nil
	}
	s.cur = doc
	s.nOut++
	return nil
}

func (s *streamStage) EOF() (bool, error) {
	if s.disposed {
		return true, nil
	}
	if err := s.start(); err != nil {
		return true, err
	}
	return s.eof, nil
}

func (s *streamStage) Advance() (bool, error) {
	if s.disposed {
		return false, nil
	}
	if !s.started {
		// an unstarted stream advances onto its first document
		if err := s.start(); err != nil {
			return false, err
		}
		return !s.eof, nil
	}
	if s.eof {
		return false, nil
	}
	if err := s.step(); err != nil {
		return false, err
	}
	return !s.eof, nil
}

func (s *streamStage) Current() (*value.Document, error) {
	if s.disposed {
		return nil, NewStageError(s.name, ErrExhausted)
	}
	if err := s.start(); err != nil {
		return nil, err
	}
	if s.eof {
		return nil, NewStageError(s.name, ErrExhausted)
	}
	return s.cur, nil
}

func (s *streamStage) Dispose() {
	if s.disposed {
		return
	}
	s.disposed = true
	s.eof = true
	s.cur = nil
	if s.onDispose != nil {
		s.onDispose()
	}
	s.log.V(6).Info("disposed")
}

// sourceIter adapts the predecessor's protocol into a plain next-document
// pull for the stage generators. The predecessor is resolved per pull so the
// optimizer may rewire the chain before iteration starts.
type sourceIter struct {
	owner   *baseStage
	started bool
}

func (it *sourceIter) next() (*value.Document, error) {
	src := it.owner.source
	if src == nil {
		return nil, nil
	}
	if !it.started {
		it.started = true
		eof, err := src.EOF()
		if err != nil || eof {
			return nil, err
		}
		return src.Current()
	}
	ok, err := src.Advance()
	if err != nil || !ok {
		return nil, err
	}
	return src.Current()
}

// serializeStage renders the single-field stage view, with the emission
// counter attached in explain mode.
func serializeStage(name string, view value.Value, explain bool, nOut int64) *value.Document {
	b := value.NewDocBuilder(2)
	_ = b.Add(name, view)
	if explain {
		_ = b.Add("nOut", value.Int64(nOut))
	}
	return b.Build()
}
