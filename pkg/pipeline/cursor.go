package pipeline

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/docpipe/pkg/fieldpath"
	"github.com/l7mp/docpipe/pkg/value"
)

// Cursor is the external storage iterator a CursorSource wraps. The cursor
// owns whatever read lock the storage engine needs; Close releases it. A
// cursor that yields its lock during a pull and finds its position gone must
// fail the pull with ErrCursorInvalidated.
type Cursor interface {
	Next() (*value.Document, bool, error)
	Close() error
}

// ProjectableCursor is a cursor that can apply a field projection natively,
// the hook dependency pushdown uses.
type ProjectableCursor interface {
	Cursor
	SetProjection(paths []fieldpath.Path, includeID bool)
}

const cursorName = "cursor"

// CursorSource feeds a pipeline from a storage cursor. It reports the
// originating query, sort and projection for explain only, and accepts at
// most one pushed-down projection from the dependency walk.
type CursorSource struct {
	streamStage
	cursor     Cursor
	query      *value.Document
	sort       *value.Document
	projection *value.Document
	pushed     bool
}

// NewCursorSource wraps an external cursor. The cursor is adopted: disposing
// the stage closes it and releases its lock.
func NewCursorSource(cur Cursor, log logr.Logger) *CursorSource {
	s := &CursorSource{streamStage: streamStage{baseStage: newBaseStage(cursorName, log)}, cursor: cur}
	s.gen = s.next
	s.onDispose = func() {
		if err := s.cursor.Close(); err != nil {
			s.log.Error(err, "failed to close cursor")
		}
	}
	return s
}

func (s *CursorSource) next() (*value.Document, error) {
	doc, ok, err := s.cursor.Next()
	if err != nil {
		return nil, NewStageError(cursorName, err)
	}
	if !ok {
		return nil, nil
	}
	return doc, nil
}

func (s *CursorSource) SetSource(Stage) error {
	return NewStageError(cursorName, ErrNotASink)
}

// SetQuery, SetSort and SetProjectionView record the originating request for
// explain output only.
func (s *CursorSource) SetQuery(q *value.Document)          { s.query = q }
func (s *CursorSource) SetSort(sort *value.Document)        { s.sort = sort }
func (s *CursorSource) SetProjectionView(p *value.Document) { s.projection = p }

// PushProjection injects the dependency-derived projection into the cursor.
// At most one projection may be pushed over the stage's lifetime.
func (s *CursorSource) PushProjection(paths []fieldpath.Path, includeID bool) error {
	if s.pushed {
		return NewStageError(cursorName, ErrProjectionAlreadyPushed)
	}
	s.pushed = true

	pc, ok := s.cursor.(ProjectableCursor)
	if !ok {
		return nil
	}
	pc.SetProjection(paths, includeID)

	b := value.NewDocBuilder(len(paths) + 1)
	for _, p := range paths {
		b.Set(p.String(), value.Int64(1))
	}
	if !includeID {
		b.Set("_id", value.Int64(0))
	}
	s.projection = b.Build()
	s.log.V(2).Info("projection pushed down", "projection", s.projection.String())
	return nil
}

func (s *CursorSource) ShardSource() Stage  { return s }
func (s *CursorSource) RouterSource() Stage { return nil }

func (s *CursorSource) Serialize(explain bool) *value.Document {
	b := value.NewDocBuilder(3)
	if s.query != nil {
		_ = b.Add("query", value.Doc(s.query))
	}
	if s.sort != nil {
		_ = b.Add("sort", value.Doc(s.sort))
	}
	if s.projection != nil {
		_ = b.Add("projection", value.Doc(s.projection))
	}
	return serializeStage(cursorName, value.Doc(b.Build()), explain, s.nOut)
}
