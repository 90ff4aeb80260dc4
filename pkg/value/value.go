// Package value implements the tagged-union value model of the aggregation
// engine: scalars, arrays and ordered documents, with a stable total ordering
// shared by sorting and group-key equality.
package value

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/rs/xid"
)

// Kind tags the variant stored in a Value. The zero Kind is Missing so that a
// zero Value denotes an absent field, which is distinct from an explicit Null.
type Kind int

const (
	MissingKind Kind = iota
	NullKind
	Int32Kind
	Int64Kind
	DoubleKind
	DecimalKind
	StringKind
	DocumentKind
	ArrayKind
	BoolKind
	DateKind
	ObjectIDKind
	TimestampKind
)

func (k Kind) String() string {
	switch k {
	case MissingKind:
		return "missing"
	case NullKind:
		return "null"
	case Int32Kind:
		return "int32"
	case Int64Kind:
		return "int64"
	case DoubleKind:
		return "double"
	case DecimalKind:
		return "decimal"
	case StringKind:
		return "string"
	case DocumentKind:
		return "document"
	case ArrayKind:
		return "array"
	case BoolKind:
		return "bool"
	case DateKind:
		return "date"
	case ObjectIDKind:
		return "objectid"
	case TimestampKind:
		return "timestamp"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is an immutable tagged union. Values are cheap to copy: arrays and
// documents are held by reference and shared structurally, so a Value handed to
// another stage must never be mutated through it.
type Value struct {
	kind Kind
	b    bool
	i    int64 // int32, int64, date (ms since epoch), timestamp
	f    float64
	d    *apd.Decimal
	s    string
	oid  xid.ID
	arr  []Value
	doc  *Document
}

var (
	missingValue = Value{kind: MissingKind}
	nullValue    = Value{kind: NullKind}
)

func Missing() Value { return missingValue }
func Null() Value    { return nullValue }

func Bool(b bool) Value        { return Value{kind: BoolKind, b: b} }
func Int32(i int32) Value      { return Value{kind: Int32Kind, i: int64(i)} }
func Int64(i int64) Value      { return Value{kind: Int64Kind, i: i} }
func Double(f float64) Value   { return Value{kind: DoubleKind, f: f} }
func String(s string) Value    { return Value{kind: StringKind, s: s} }
func Date(ms int64) Value      { return Value{kind: DateKind, i: ms} }
func Timestamp(t int64) Value  { return Value{kind: TimestampKind, i: t} }
func ObjectID(id xid.ID) Value { return Value{kind: ObjectIDKind, oid: id} }

// NewObjectID allocates a fresh opaque 12-byte identifier.
func NewObjectID() Value { return ObjectID(xid.New()) }

// Decimal wraps an arbitrary-precision decimal. The decimal is adopted, not
// copied; the caller must not modify it afterwards.
func Decimal(d *apd.Decimal) Value {
	if d == nil {
		return Null()
	}
	return Value{kind: DecimalKind, d: d}
}

// ParseDecimal parses the canonical string form of a decimal.
func ParseDecimal(s string) (Value, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return Missing(), NewConversionError("decimal", s, err)
	}
	return Decimal(d), nil
}

// Array wraps a slice of values. The slice is adopted, not copied.
func Array(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{kind: ArrayKind, arr: vs}
}

// Doc wraps a document. A nil document yields Null.
func Doc(d *Document) Value {
	if d == nil {
		return nullValue
	}
	return Value{kind: DocumentKind, doc: d}
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsMissing() bool { return v.kind == MissingKind }
func (v Value) IsNull() bool    { return v.kind == NullKind }

// IsNumber reports whether the value belongs to the numeric variant class.
func (v Value) IsNumber() bool {
	switch v.kind {
	case Int32Kind, Int64Kind, DoubleKind, DecimalKind:
		return true
	}
	return false
}

func (v Value) Bool() (bool, bool) {
	if v.kind != BoolKind {
		return false, false
	}
	return v.b, true
}

func (v Value) Int64() (int64, bool) {
	switch v.kind {
	case Int32Kind, Int64Kind:
		return v.i, true
	}
	return 0, false
}

func (v Value) Double() (float64, bool) {
	if v.kind != DoubleKind {
		return 0, false
	}
	return v.f, true
}

func (v Value) Decimal() (*apd.Decimal, bool) {
	if v.kind != DecimalKind {
		return nil, false
	}
	return v.d, true
}

func (v Value) Str() (string, bool) {
	if v.kind != StringKind {
		return "", false
	}
	return v.s, true
}

func (v Value) DateMillis() (int64, bool) {
	if v.kind != DateKind {
		return 0, false
	}
	return v.i, true
}

func (v Value) TimestampValue() (int64, bool) {
	if v.kind != TimestampKind {
		return 0, false
	}
	return v.i, true
}

func (v Value) ObjectIDValue() (xid.ID, bool) {
	if v.kind != ObjectIDKind {
		return xid.ID{}, false
	}
	return v.oid, true
}

func (v Value) Arr() ([]Value, bool) {
	if v.kind != ArrayKind {
		return nil, false
	}
	return v.arr, true
}

func (v Value) Document() (*Document, bool) {
	if v.kind != DocumentKind {
		return nil, false
	}
	return v.doc, true
}

// AsFloat converts any numeric variant to float64.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case Int32Kind, Int64Kind:
		return float64(v.i), true
	case DoubleKind:
		return v.f, true
	case DecimalKind:
		f, err := v.d.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Truthy implements the boolean coercion used by the filter stage: false,
// null, missing, numeric zero and the empty string are false, everything else
// is true.
func (v Value) Truthy() bool {
	switch v.kind {
	case MissingKind, NullKind:
		return false
	case BoolKind:
		return v.b
	case Int32Kind, Int64Kind:
		return v.i != 0
	case DoubleKind:
		return v.f != 0
	case DecimalKind:
		return !v.d.IsZero()
	case StringKind:
		return v.s != ""
	}
	return true
}

func (v Value) String() string {
	var sb strings.Builder
	v.writeString(&sb)
	return sb.String()
}

func (v Value) writeString(sb *strings.Builder) {
	switch v.kind {
	case MissingKind:
		sb.WriteString("<missing>")
	case NullKind:
		sb.WriteString("null")
	case BoolKind:
		fmt.Fprintf(sb, "%t", v.b)
	case Int32Kind, Int64Kind:
		fmt.Fprintf(sb, "%d", v.i)
	case DoubleKind:
		fmt.Fprintf(sb, "%g", v.f)
	case DecimalKind:
		sb.WriteString(v.d.String())
	case StringKind:
		fmt.Fprintf(sb, "%q", v.s)
	case DateKind:
		fmt.Fprintf(sb, "date(%d)", v.i)
	case TimestampKind:
		fmt.Fprintf(sb, "timestamp(%d)", v.i)
	case ObjectIDKind:
		fmt.Fprintf(sb, "objectid(%s)", v.oid.String())
	case ArrayKind:
		sb.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				sb.WriteString(", ")
			}
			e.writeString(sb)
		}
		sb.WriteByte(']')
	case DocumentKind:
		v.doc.writeString(sb)
	}
}
