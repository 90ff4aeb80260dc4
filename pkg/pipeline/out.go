package pipeline

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/l7mp/docpipe/pkg/value"
)

const outName = "out"

// DocumentWriter is the external sink the out stage writes into.
type DocumentWriter interface {
	Write(doc *value.Document) error
	Close() error
}

// SinkFactory opens the named output collection for writing.
type SinkFactory func(collection string) (DocumentWriter, error)

// Out passes documents through unchanged while writing each one to the named
// output collection. Writes happen lazily as documents flow; the stage must
// be the last in the pipeline.
type Out struct {
	streamStage
	collection string
	open       SinkFactory
	sink       DocumentWriter
	in         sourceIter
}

// NewOut parses the output collection name. The sink factory comes from the
// pipeline options.
func NewOut(arg value.Value, open SinkFactory, log logr.Logger) (*Out, error) {
	name, ok := arg.Str()
	if !ok || name == "" {
		return nil, NewSpecError(arg.String(), fmt.Errorf("out needs a collection name"))
	}
	if open == nil {
		return nil, NewSpecError(arg.String(), fmt.Errorf("out needs an output sink"))
	}
	o := &Out{streamStage: streamStage{baseStage: newBaseStage(outName, log)}, collection: name, open: open}
	o.in = sourceIter{owner: &o.baseStage}
	o.gen = o.next
	o.onDispose = func() {
		if o.sink == nil {
			return
		}
		if err := o.sink.Close(); err != nil {
			o.log.Error(err, "failed to close output collection", "collection", o.collection)
		}
	}
	return o, nil
}

func (o *Out) next() (*value.Document, error) {
	doc, err := o.in.next()
	if err != nil || doc == nil {
		return nil, err
	}
	if o.sink == nil {
		sink, err := o.open(o.collection)
		if err != nil {
			return nil, NewStageError(outName, err)
		}
		o.sink = sink
	}
	if err := o.sink.Write(doc); err != nil {
		return nil, NewStageError(outName, err)
	}
	return doc, nil
}

// Writing happens on the coordinator only.
func (o *Out) ShardSource() Stage  { return nil }
func (o *Out) RouterSource() Stage { return o }

func (o *Out) Serialize(explain bool) *value.Document {
	return serializeStage(outName, value.String(o.collection), explain, o.nOut)
}
