package accumulator

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"

	"github.com/l7mp/docpipe/pkg/value"
)

var decCtx = apd.BaseContext.WithPrecision(34)

// numericAdd adds two numbers with width promotion: decimal > double > int64.
func numericAdd(a, b Value) (Value, error) {
	if !a.IsNumber() || !b.IsNumber() {
		return value.Missing(), fmt.Errorf("expected a number, got %s", b.Kind())
	}
	if a.Kind() == value.DecimalKind || b.Kind() == value.DecimalKind {
		var out apd.Decimal
		if _, err := decCtx.Add(&out, toDecimal(a), toDecimal(b)); err != nil {
			return value.Missing(), err
		}
		return value.Decimal(&out), nil
	}
	ia, aInt := a.Int64()
	ib, bInt := b.Int64()
	if aInt && bInt {
		return value.Int64(ia + ib), nil
	}
	fa, _ := a.AsFloat()
	fb, _ := b.AsFloat()
	return value.Double(fa + fb), nil
}

func toDecimal(v Value) *apd.Decimal {
	if d, ok := v.Decimal(); ok {
		return d
	}
	if i, ok := v.Int64(); ok {
		return apd.New(i, 0)
	}
	f, _ := v.AsFloat()
	var d apd.Decimal
	if _, err := d.SetFloat64(f); err != nil {
		return apd.New(0, 0)
	}
	return &d
}

// sumAcc sums numeric inputs; non-numeric inputs are ignored. Serves as its
// own partial and merge form since sums of sums compose.
type sumAcc struct {
	sum  Value
	done bool
}

func (a *sumAcc) Process(v Value) error {
	if !v.IsNumber() {
		return nil
	}
	if a.sum.IsMissing() {
		a.sum = v
		return nil
	}
	s, err := numericAdd(a.sum, v)
	if err != nil {
		return newOpError("sum", err)
	}
	a.sum = s
	return nil
}

func (a *sumAcc) Finalize() (Value, error) {
	if a.done {
		return value.Missing(), newOpError("sum", errFinalized)
	}
	a.done = true
	if a.sum.IsMissing() {
		return value.Int64(0), nil
	}
	return a.sum, nil
}

// avgAcc keeps (sum, count). The complete form divides at finalize; the
// partial form instead emits the raw state as a {sum, count} document for the
// router to merge.
type avgAcc struct {
	sum     Value
	count   int64
	partial bool
	done    bool
}

func (a *avgAcc) Process(v Value) error {
	if !v.IsNumber() {
		return nil
	}
	if a.sum.IsMissing() {
		a.sum = v
	} else {
		s, err := numericAdd(a.sum, v)
		if err != nil {
			return newOpError("avg", err)
		}
		a.sum = s
	}
	a.count++
	return nil
}

func (a *avgAcc) Finalize() (Value, error) {
	if a.done {
		return value.Missing(), newOpError("avg", errFinalized)
	}
	a.done = true
	if a.partial {
		sum := a.sum
		if sum.IsMissing() {
			sum = value.Int64(0)
		}
		return value.Doc(value.MustDocument(
			value.Field{Name: "sum", Value: sum},
			value.Field{Name: "count", Value: value.Int64(a.count)},
		)), nil
	}
	return divide(a.sum, a.count)
}

// avgMergeAcc combines the {sum, count} partials shard-side groups emit; the
// final divide happens here.
type avgMergeAcc struct {
	sum   Value
	count int64
	done  bool
}

func (a *avgMergeAcc) Process(v Value) error {
	d, ok := v.Document()
	if !ok {
		return newOpError("avg", fmt.Errorf("expected a partial document, got %s", v.Kind()))
	}
	sum := d.Get("sum")
	count, ok := d.Get("count").Int64()
	if !sum.IsNumber() || !ok {
		return newOpError("avg", fmt.Errorf("malformed partial %s", d.String()))
	}
	if a.sum.IsMissing() {
		a.sum = sum
	} else {
		s, err := numericAdd(a.sum, sum)
		if err != nil {
			return newOpError("avg", err)
		}
		a.sum = s
	}
	a.count += count
	return nil
}

func (a *avgMergeAcc) Finalize() (Value, error) {
	if a.done {
		return value.Missing(), newOpError("avg", errFinalized)
	}
	a.done = true
	return divide(a.sum, a.count)
}

func divide(sum Value, count int64) (Value, error) {
	if count == 0 || sum.IsMissing() {
		return value.Null(), nil
	}
	if d, ok := sum.Decimal(); ok {
		var out apd.Decimal
		if _, err := decCtx.Quo(&out, d, apd.New(count, 0)); err != nil {
			return value.Missing(), newOpError("avg", err)
		}
		return value.Decimal(&out), nil
	}
	f, _ := sum.AsFloat()
	return value.Double(f / float64(count)), nil
}

// minMaxAcc keeps the extreme value under the total ordering; sign -1 selects
// the minimum, +1 the maximum. Missing inputs are skipped.
type minMaxAcc struct {
	best Value
	seen bool
	sign int
	done bool
}

func (a *minMaxAcc) Process(v Value) error {
	if v.IsMissing() {
		return nil
	}
	if !a.seen {
		a.best, a.seen = v, true
		return nil
	}
	c := value.Compare(v, a.best)
	if (a.sign < 0 && c < 0) || (a.sign > 0 && c > 0) {
		a.best = v
	}
	return nil
}

func (a *minMaxAcc) Finalize() (Value, error) {
	if a.done {
		return value.Missing(), newOpError("minmax", errFinalized)
	}
	a.done = true
	if !a.seen {
		return value.Null(), nil
	}
	return a.best, nil
}
