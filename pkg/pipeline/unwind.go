package pipeline

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/l7mp/docpipe/pkg/fieldpath"
	"github.com/l7mp/docpipe/pkg/value"
)

const unwindName = "unwind"

// Unwind replaces one array-valued field with its elements, emitting one
// output document per element in array order. Each output is a partial deep
// clone of the input: documents along the unwind path are copied fresh,
// everything off the path is shared. Inputs where the path is missing, null
// or an empty array are dropped; any other non-array value is an error.
type Unwind struct {
	streamStage
	path fieldpath.Path
	in   sourceIter

	// iteration state over the current input document's array
	inputDoc *value.Document
	elems    []value.Value
	idx      int
}

// NewUnwind parses a "$path" unwind target.
func NewUnwind(arg value.Value, log logr.Logger) (*Unwind, error) {
	s, ok := arg.Str()
	if !ok {
		return nil, NewSpecError(arg.String(), fmt.Errorf("unwind needs a field reference string"))
	}
	path, err := fieldpath.ParseRef(s)
	if err != nil {
		return nil, NewSpecError(arg.String(), err)
	}
	u := &Unwind{streamStage: streamStage{baseStage: newBaseStage(unwindName, log)}, path: path}
	u.in = sourceIter{owner: &u.baseStage}
	u.gen = u.next
	return u, nil
}

func (u *Unwind) next() (*value.Document, error) {
	for {
		if u.inputDoc != nil && u.idx < len(u.elems) {
			elem := u.elems[u.idx]
			u.idx++
			out, err := u.path.CloneWithValue(u.inputDoc, elem)
			if err != nil {
				return nil, NewStageError(unwindName, err)
			}
			return out, nil
		}
		u.inputDoc = nil

		doc, err := u.in.next()
		if err != nil || doc == nil {
			return nil, err
		}

		v := u.path.Get(doc)
		if v.IsMissing() || v.IsNull() {
			continue
		}
		arr, ok := v.Arr()
		if !ok {
			return nil, NewStageError(unwindName,
				fmt.Errorf("%w: field %q holds a %s", ErrUnwindType, u.path.String(), v.Kind()))
		}
		if len(arr) == 0 {
			continue
		}
		u.inputDoc, u.elems, u.idx = doc, arr, 0
	}
}

func (u *Unwind) ManageDependencies(t *Tracker) { t.Add(u.path) }

func (u *Unwind) ShardSource() Stage  { return u }
func (u *Unwind) RouterSource() Stage { return nil }

func (u *Unwind) Serialize(explain bool) *value.Document {
	return serializeStage(unwindName, value.String(u.path.Ref()), explain, u.nOut)
}
