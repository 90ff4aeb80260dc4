package value

import (
	"strings"
)

// Field is a single named entry of a Document.
type Field struct {
	Name  string
	Value Value
}

// Document is an ordered map of named fields. Field order is insertion order
// and is semantically significant. A Document is immutable once built; stages
// that need a modified copy build a new one and share unchanged subtrees.
type Document struct {
	fields []Field
	index  map[string]int
}

var emptyDocument = &Document{}

// Empty returns the canonical empty document.
func Empty() *Document { return emptyDocument }

// NewDocument builds a document from fields in order. Duplicate field names are
// rejected.
func NewDocument(fields ...Field) (*Document, error) {
	b := NewDocBuilder(len(fields))
	for _, f := range fields {
		if err := b.Add(f.Name, f.Value); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

// MustDocument is NewDocument that panics on duplicates, for callers whose
// field names are known to be distinct.
func MustDocument(fields ...Field) *Document {
	d, err := NewDocument(fields...)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Document) Len() int { return len(d.fields) }

// FieldAt returns the i-th field in insertion order.
func (d *Document) FieldAt(i int) Field { return d.fields[i] }

// Fields returns the backing field slice. Callers must not modify it.
func (d *Document) Fields() []Field { return d.fields }

// Get looks up a top-level field; a Missing value is returned when absent.
func (d *Document) Get(name string) Value {
	if d == nil {
		return Missing()
	}
	if d.index != nil {
		if i, ok := d.index[name]; ok {
			return d.fields[i].Value
		}
		return Missing()
	}
	for i := range d.fields {
		if d.fields[i].Name == name {
			return d.fields[i].Value
		}
	}
	return Missing()
}

func (d *Document) Has(name string) bool {
	return !d.Get(name).IsMissing()
}

func (d *Document) writeString(sb *strings.Builder) {
	sb.WriteByte('{')
	for i, f := range d.fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.Name)
		sb.WriteString(": ")
		f.Value.writeString(sb)
	}
	sb.WriteByte('}')
}

func (d *Document) String() string {
	var sb strings.Builder
	d.writeString(&sb)
	return sb.String()
}

// DocBuilder assembles a Document field by field, rejecting duplicates. The
// builder must not be reused after Build.
type DocBuilder struct {
	fields []Field
	index  map[string]int
}

func NewDocBuilder(sizeHint int) *DocBuilder {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &DocBuilder{
		fields: make([]Field, 0, sizeHint),
		index:  make(map[string]int, sizeHint),
	}
}

// Add appends a field. Missing values are skipped: projecting an absent path
// omits the output field.
func (b *DocBuilder) Add(name string, v Value) error {
	if v.IsMissing() {
		return nil
	}
	if _, ok := b.index[name]; ok {
		return NewDuplicateFieldError(name)
	}
	b.index[name] = len(b.fields)
	b.fields = append(b.fields, Field{Name: name, Value: v})
	return nil
}

// Set appends or overwrites a field in place, keeping its original position.
func (b *DocBuilder) Set(name string, v Value) {
	if i, ok := b.index[name]; ok {
		if v.IsMissing() {
			// drop the field, compacting the index
			b.fields = append(b.fields[:i], b.fields[i+1:]...)
			delete(b.index, name)
			for j := i; j < len(b.fields); j++ {
				b.index[b.fields[j].Name] = j
			}
			return
		}
		b.fields[i].Value = v
		return
	}
	if v.IsMissing() {
		return
	}
	b.index[name] = len(b.fields)
	b.fields = append(b.fields, Field{Name: name, Value: v})
}

func (b *DocBuilder) Peek(name string) Value {
	if i, ok := b.index[name]; ok {
		return b.fields[i].Value
	}
	return Missing()
}

func (b *DocBuilder) Len() int { return len(b.fields) }

func (b *DocBuilder) Build() *Document {
	if len(b.fields) == 0 {
		return emptyDocument
	}
	d := &Document{fields: b.fields, index: b.index}
	b.fields = nil
	b.index = nil
	return d
}
