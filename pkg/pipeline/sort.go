package pipeline

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"github.com/l7mp/docpipe/pkg/fieldpath"
	"github.com/l7mp/docpipe/pkg/value"
)

const sortName = "sort"

type sortKey struct {
	path      fieldpath.Path
	ascending bool
}

// Sort consumes its whole input on the first pull and emits it ordered by the
// configured keys under the value total ordering. The sort is stable: ties
// across all keys preserve input order.
type Sort struct {
	streamStage
	keys  []sortKey
	in    sourceIter
	built bool
	docs  []*value.Document
	pos   int
}

// NewSort parses a sort document; key order is sort precedence, values 1/-1
// select the direction.
func NewSort(arg value.Value, log logr.Logger) (*Sort, error) {
	d, ok := arg.Document()
	if !ok || d.Len() == 0 {
		return nil, NewSpecError(arg.String(), fmt.Errorf("sort needs a non-empty document"))
	}

	s := &Sort{streamStage: streamStage{baseStage: newBaseStage(sortName, log)}}
	for _, f := range d.Fields() {
		path, err := fieldpath.Parse(f.Name)
		if err != nil {
			return nil, NewSpecError(arg.String(), err)
		}
		dir, ok := f.Value.Int64()
		if !ok || (dir != 1 && dir != -1) {
			return nil, NewSpecError(arg.String(),
				fmt.Errorf("sort direction for %q must be 1 or -1", f.Name))
		}
		s.keys = append(s.keys, sortKey{path: path, ascending: dir == 1})
	}

	s.in = sourceIter{owner: &s.baseStage}
	s.gen = s.next
	s.onDispose = func() { s.docs = nil; s.built = true }
	return s, nil
}

func (s *Sort) next() (*value.Document, error) {
	if !s.built {
		if err := s.build(); err != nil {
			return nil, err
		}
	}
	if s.pos >= len(s.docs) {
		return nil, nil
	}
	doc := s.docs[s.pos]
	s.pos++
	return doc, nil
}

func (s *Sort) build() error {
	s.built = true
	for {
		doc, err := s.in.next()
		if err != nil {
			return err
		}
		if doc == nil {
			break
		}
		s.docs = append(s.docs, doc)
	}

	sort.SliceStable(s.docs, func(i, j int) bool {
		return s.less(s.docs[i], s.docs[j])
	})
	s.log.V(2).Info("sort built", "docs", len(s.docs))
	return nil
}

func (s *Sort) less(a, b *value.Document) bool {
	for _, k := range s.keys {
		c := value.Compare(k.path.Get(a), k.path.Get(b))
		if !k.ascending {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	return false
}

func (s *Sort) ManageDependencies(t *Tracker) {
	for _, k := range s.keys {
		t.Add(k.path)
	}
}

// The sort runs on the router: shards return unsorted chunks and the
// coordinator establishes the order once.
func (s *Sort) ShardSource() Stage  { return nil }
func (s *Sort) RouterSource() Stage { return s }

func (s *Sort) Serialize(explain bool) *value.Document {
	b := value.NewDocBuilder(len(s.keys))
	for _, k := range s.keys {
		dir := int64(1)
		if !k.ascending {
			dir = -1
		}
		b.Set(k.path.String(), value.Int64(dir))
	}
	return serializeStage(sortName, value.Doc(b.Build()), explain, s.nOut)
}
