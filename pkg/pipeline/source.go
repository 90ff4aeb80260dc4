package pipeline

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"github.com/l7mp/docpipe/pkg/value"
)

const arrayName = "array"

// ArraySource produces the elements of a literal array value; every element
// must itself be a document.
type ArraySource struct {
	streamStage
	docs []*value.Document
	pos  int
}

// NewArraySource builds a source from an array value.
func NewArraySource(arr value.Value, log logr.Logger) (*ArraySource, error) {
	elems, ok := arr.Arr()
	if !ok {
		return nil, NewSpecError(arr.String(), fmt.Errorf("array source needs an array, got %s", arr.Kind()))
	}
	docs := make([]*value.Document, 0, len(elems))
	for _, e := range elems {
		d, ok := e.Document()
		if !ok {
			return nil, NewSpecError(arr.String(), fmt.Errorf("array source element is not a document: %s", e.String()))
		}
		docs = append(docs, d)
	}
	return NewArraySourceFromDocs(docs, log), nil
}

// NewArraySourceFromDocs builds a source over already-decoded documents.
func NewArraySourceFromDocs(docs []*value.Document, log logr.Logger) *ArraySource {
	s := &ArraySource{streamStage: streamStage{baseStage: newBaseStage(arrayName, log)}, docs: docs}
	s.gen = s.next
	return s
}

func (s *ArraySource) next() (*value.Document, error) {
	if s.pos >= len(s.docs) {
		return nil, nil
	}
	doc := s.docs[s.pos]
	s.pos++
	return doc, nil
}

func (s *ArraySource) SetSource(Stage) error {
	return NewStageError(arrayName, ErrNotASink)
}

func (s *ArraySource) ShardSource() Stage  { return s }
func (s *ArraySource) RouterSource() Stage { return nil }

func (s *ArraySource) Serialize(explain bool) *value.Document {
	view := value.MustDocument(value.Field{Name: "nDocs", Value: value.Int64(int64(len(s.docs)))})
	return serializeStage(arrayName, value.Doc(view), explain, s.nOut)
}

const shardsName = "shards"

// ShardsSource flattens per-shard result arrays, one inner array source per
// shard, in lexicographic shard id order so iteration is stable.
type ShardsSource struct {
	streamStage
	shardIDs []string
	sources  []*ArraySource
	pos      int
}

// NewShardsSource wraps the per-shard document arrays a sharded run produced.
func NewShardsSource(results map[string][]*value.Document, log logr.Logger) *ShardsSource {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	s := &ShardsSource{streamStage: streamStage{baseStage: newBaseStage(shardsName, log)}, shardIDs: ids}
	for _, id := range ids {
		s.sources = append(s.sources, NewArraySourceFromDocs(results[id], log))
	}
	s.gen = s.next
	return s
}

func (s *ShardsSource) next() (*value.Document, error) {
	for s.pos < len(s.sources) {
		doc, err := s.sources[s.pos].next()
		if err != nil {
			return nil, err
		}
		if doc != nil {
			return doc, nil
		}
		s.pos++
	}
	return nil, nil
}

func (s *ShardsSource) SetSource(Stage) error {
	return NewStageError(shardsName, ErrNotASink)
}

func (s *ShardsSource) ShardSource() Stage  { return nil }
func (s *ShardsSource) RouterSource() Stage { return s }

func (s *ShardsSource) Serialize(explain bool) *value.Document {
	b := value.NewDocBuilder(len(s.shardIDs))
	for i, id := range s.shardIDs {
		_ = b.Add(id, value.Int64(int64(len(s.sources[i].docs))))
	}
	return serializeStage(shardsName, value.Doc(b.Build()), explain, s.nOut)
}
