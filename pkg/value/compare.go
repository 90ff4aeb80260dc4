package value

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/apd/v3"
)

// orderClass maps a Kind onto the variant precedence of the total ordering:
// missing < null < number < string < document < array < bool < date <
// object-id < timestamp. Numerics share one class and compare as reals
// regardless of width. The sort stage uses this very ordering.
func orderClass(k Kind) int {
	switch k {
	case MissingKind:
		return 0
	case NullKind:
		return 1
	case Int32Kind, Int64Kind, DoubleKind, DecimalKind:
		return 2
	case StringKind:
		return 3
	case DocumentKind:
		return 4
	case ArrayKind:
		return 5
	case BoolKind:
		return 6
	case DateKind:
		return 7
	case ObjectIDKind:
		return 8
	case TimestampKind:
		return 9
	}
	return 10
}

// Compare defines the stable total ordering over values. Returns a negative
// number, zero, or a positive number as a sorts before, equal to, or after b.
func Compare(a, b Value) int {
	ca, cb := orderClass(a.kind), orderClass(b.kind)
	if ca != cb {
		return ca - cb
	}

	switch a.kind {
	case MissingKind, NullKind:
		return 0

	case Int32Kind, Int64Kind, DoubleKind, DecimalKind:
		return compareNumbers(a, b)

	case StringKind:
		return strings.Compare(a.s, b.s)

	case DocumentKind:
		return CompareDocuments(a.doc, b.doc)

	case ArrayKind:
		n := len(a.arr)
		if len(b.arr) < n {
			n = len(b.arr)
		}
		for i := 0; i < n; i++ {
			if c := Compare(a.arr[i], b.arr[i]); c != 0 {
				return c
			}
		}
		return len(a.arr) - len(b.arr)

	case BoolKind:
		if a.b == b.b {
			return 0
		}
		if !a.b {
			return -1
		}
		return 1

	case DateKind, TimestampKind:
		return compareInt64(a.i, b.i)

	case ObjectIDKind:
		return bytes.Compare(a.oid.Bytes(), b.oid.Bytes())
	}

	return 0
}

// CompareDocuments orders documents lexicographically over their ordered
// (name, value) field pairs.
func CompareDocuments(a, b *Document) int {
	na, nb := a.Len(), b.Len()
	n := na
	if nb < n {
		n = nb
	}
	for i := 0; i < n; i++ {
		fa, fb := a.fields[i], b.fields[i]
		if c := strings.Compare(fa.Name, fb.Name); c != 0 {
			return c
		}
		if c := Compare(fa.Value, fb.Value); c != 0 {
			return c
		}
	}
	return na - nb
}

// SameClass reports whether two values belong to the same variant class of the
// total ordering (all numerics are one class).
func SameClass(a, b Value) bool { return orderClass(a.kind) == orderClass(b.kind) }

// Equal is equality under the total ordering. Numerics of different widths
// holding the same real number are equal; missing and null are not.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareNumbers(a, b Value) int {
	if a.kind == DecimalKind || b.kind == DecimalKind {
		return asDecimal(a).Cmp(asDecimal(b))
	}
	ia, aInt := a.Int64()
	ib, bInt := b.Int64()
	if aInt && bInt {
		return compareInt64(ia, ib)
	}
	fa, _ := a.AsFloat()
	fb, _ := b.AsFloat()
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	}
	return 0
}

func asDecimal(v Value) *apd.Decimal {
	switch v.kind {
	case DecimalKind:
		return v.d
	case Int32Kind, Int64Kind:
		return apd.New(v.i, 0)
	default:
		var d apd.Decimal
		if _, err := d.SetFloat64(v.f); err != nil {
			return apd.New(0, 0)
		}
		return &d
	}
}

// Hash computes the group-key hash of a value. Values equal under Compare hash
// equally: numerics are normalized to their nearest float64 before hashing and
// collisions are resolved by the caller with Equal.
func Hash(v Value) uint64 {
	h := xxhash.New()
	writeHash(h, v)
	return h.Sum64()
}

func writeHash(h *xxhash.Digest, v Value) {
	var tag [1]byte
	tag[0] = byte(orderClass(v.kind))
	_, _ = h.Write(tag[:])

	var buf [8]byte
	switch v.kind {
	case MissingKind, NullKind:
		// class tag is enough

	case Int32Kind, Int64Kind, DoubleKind, DecimalKind:
		f, _ := v.AsFloat()
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(f))
		_, _ = h.Write(buf[:])

	case StringKind:
		_, _ = h.WriteString(v.s)

	case DocumentKind:
		for _, f := range v.doc.fields {
			_, _ = h.WriteString(f.Name)
			writeHash(h, f.Value)
		}

	case ArrayKind:
		for _, e := range v.arr {
			writeHash(h, e)
		}

	case BoolKind:
		if v.b {
			buf[0] = 1
		} else {
			buf[0] = 0
		}
		_, _ = h.Write(buf[:1])

	case DateKind, TimestampKind:
		binary.BigEndian.PutUint64(buf[:], uint64(v.i))
		_, _ = h.Write(buf[:])

	case ObjectIDKind:
		_, _ = h.Write(v.oid.Bytes())
	}
}
