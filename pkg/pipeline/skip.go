package pipeline

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/l7mp/docpipe/pkg/value"
)

const skipName = "skip"

// Skip drops the first k documents by pulling and discarding them, then
// passes everything through.
type Skip struct {
	streamStage
	k       int64
	skipped int64
	in      sourceIter
}

// NewSkip parses a non-negative integer skip.
func NewSkip(arg value.Value, log logr.Logger) (*Skip, error) {
	k, ok := arg.Int64()
	if !ok || k < 0 {
		return nil, NewSpecError(arg.String(), fmt.Errorf("skip must be a non-negative integer"))
	}
	s := &Skip{streamStage: streamStage{baseStage: newBaseStage(skipName, log)}, k: k}
	s.in = sourceIter{owner: &s.baseStage}
	s.gen = s.next
	return s, nil
}

func (s *Skip) next() (*value.Document, error) {
	for s.skipped < s.k {
		doc, err := s.in.next()
		if err != nil || doc == nil {
			return nil, err
		}
		s.skipped++
	}
	return s.in.next()
}

// Coalesce fuses a following skip into the summed offset.
func (s *Skip) Coalesce(next Stage) bool {
	ns, ok := next.(*Skip)
	if !ok {
		return false
	}
	s.k += ns.k
	s.log.V(4).Info("coalesced following skip", "skip", s.k)
	return true
}

// Skipping is global: nothing runs on the shards, the router drops the first
// k documents of the merged stream.
func (s *Skip) ShardSource() Stage  { return nil }
func (s *Skip) RouterSource() Stage { return s }

func (s *Skip) Serialize(explain bool) *value.Document {
	return serializeStage(skipName, value.Int64(s.k), explain, s.nOut)
}
