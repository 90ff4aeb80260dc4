package expression

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/l7mp/docpipe/pkg/value"
)

// opDef describes one scalar operator. Exactly one of eval and evalLazy is
// set: eval receives fully evaluated arguments, evalLazy receives the argument
// expressions and controls evaluation itself (short-circuiting operators).
type opDef struct {
	name     string
	minArgs  int
	maxArgs  int // negative means variadic
	eval     func(args []value.Value) (value.Value, error)
	evalLazy func(ctx EvalCtx, args []Expression) (value.Value, error)
}

var decCtx = apd.BaseContext.WithPrecision(34)

var opTable = map[string]*opDef{}

func register(def *opDef) {
	opTable[def.name] = def
}

func init() {
	register(&opDef{name: "$add", minArgs: 1, maxArgs: -1, eval: evalAdd})
	register(&opDef{name: "$subtract", minArgs: 2, maxArgs: 2, eval: evalSubtract})
	register(&opDef{name: "$multiply", minArgs: 1, maxArgs: -1, eval: evalMultiply})
	register(&opDef{name: "$divide", minArgs: 2, maxArgs: 2, eval: evalDivide})
	register(&opDef{name: "$mod", minArgs: 2, maxArgs: 2, eval: evalMod})

	register(&opDef{name: "$cmp", minArgs: 2, maxArgs: 2, eval: evalCmp})
	register(&opDef{name: "$eq", minArgs: 2, maxArgs: 2, eval: boolCompareOp(func(c int) bool { return c == 0 })})
	register(&opDef{name: "$ne", minArgs: 2, maxArgs: 2, eval: boolCompareOp(func(c int) bool { return c != 0 })})
	register(&opDef{name: "$lt", minArgs: 2, maxArgs: 2, eval: boolCompareOp(func(c int) bool { return c < 0 })})
	register(&opDef{name: "$lte", minArgs: 2, maxArgs: 2, eval: boolCompareOp(func(c int) bool { return c <= 0 })})
	register(&opDef{name: "$gt", minArgs: 2, maxArgs: 2, eval: boolCompareOp(func(c int) bool { return c > 0 })})
	register(&opDef{name: "$gte", minArgs: 2, maxArgs: 2, eval: boolCompareOp(func(c int) bool { return c >= 0 })})

	register(&opDef{name: "$and", minArgs: 1, maxArgs: -1, evalLazy: evalAnd})
	register(&opDef{name: "$or", minArgs: 1, maxArgs: -1, evalLazy: evalOr})
	register(&opDef{name: "$not", minArgs: 1, maxArgs: 1, eval: evalNot})

	register(&opDef{name: "$concat", minArgs: 1, maxArgs: -1, eval: evalConcat})
	register(&opDef{name: "$toLower", minArgs: 1, maxArgs: 1, eval: stringOp(strings.ToLower)})
	register(&opDef{name: "$toUpper", minArgs: 1, maxArgs: 1, eval: stringOp(strings.ToUpper)})
	register(&opDef{name: "$strcasecmp", minArgs: 2, maxArgs: 2, eval: evalStrcasecmp})

	register(&opDef{name: "$size", minArgs: 1, maxArgs: 1, eval: evalSize})

	register(&opDef{name: "$ifNull", minArgs: 2, maxArgs: 2, evalLazy: evalIfNull})
	register(&opDef{name: "$cond", minArgs: 3, maxArgs: 3, evalLazy: evalCond})
}

// numeric width promotion: decimal > double > int64. Missing or null operands
// make the whole result null; anything non-numeric is a type error.
type numericClass int

const (
	numInt numericClass = iota
	numDouble
	numDecimal
)

func classify(args []value.Value) (numericClass, bool, error) {
	class := numInt
	for _, a := range args {
		if a.IsMissing() || a.IsNull() {
			return class, true, nil
		}
		if !a.IsNumber() {
			return class, false, fmt.Errorf("expected a number, got %s", a.Kind())
		}
		switch a.Kind() {
		case value.DecimalKind:
			class = numDecimal
		case value.DoubleKind:
			if class == numInt {
				class = numDouble
			}
		}
	}
	return class, false, nil
}

func foldNumeric(args []value.Value,
	intF func(a, b int64) int64,
	floatF func(a, b float64) float64,
	decF func(d *apd.Decimal, a, b *apd.Decimal) error) (value.Value, error) {

	class, null, err := classify(args)
	if err != nil {
		return value.Missing(), err
	}
	if null {
		return value.Null(), nil
	}

	switch class {
	case numInt:
		acc, _ := args[0].Int64()
		for _, a := range args[1:] {
			n, _ := a.Int64()
			acc = intF(acc, n)
		}
		return value.Int64(acc), nil

	case numDouble:
		acc, _ := args[0].AsFloat()
		for _, a := range args[1:] {
			f, _ := a.AsFloat()
			acc = floatF(acc, f)
		}
		return value.Double(acc), nil

	default:
		acc := asDecimalArg(args[0])
		for _, a := range args[1:] {
			var out apd.Decimal
			if err := decF(&out, acc, asDecimalArg(a)); err != nil {
				return value.Missing(), err
			}
			acc = &out
		}
		return value.Decimal(acc), nil
	}
}

func asDecimalArg(v value.Value) *apd.Decimal {
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

func evalAdd(args []value.Value) (value.Value, error) {
	return foldNumeric(args,
		func(a, b int64) int64 { return a + b },
		func(a, b float64) float64 { return a + b },
		func(d, a, b *apd.Decimal) error { _, err := decCtx.Add(d, a, b); return err })
}

func evalSubtract(args []value.Value) (value.Value, error) {
	return foldNumeric(args,
		func(a, b int64) int64 { return a - b },
		func(a, b float64) float64 { return a - b },
		func(d, a, b *apd.Decimal) error { _, err := decCtx.Sub(d, a, b); return err })
}

func evalMultiply(args []value.Value) (value.Value, error) {
	return foldNumeric(args,
		func(a, b int64) int64 { return a * b },
		func(a, b float64) float64 { return a * b },
		func(d, a, b *apd.Decimal) error { _, err := decCtx.Mul(d, a, b); return err })
}

func evalDivide(args []value.Value) (value.Value, error) {
	class, null, err := classify(args)
	if err != nil {
		return value.Missing(), err
	}
	if null {
		return value.Null(), nil
	}
	if class == numDecimal {
		b := asDecimalArg(args[1])
		if b.IsZero() {
			return value.Missing(), errors.New("division by zero")
		}
		var out apd.Decimal
		if _, err := decCtx.Quo(&out, asDecimalArg(args[0]), b); err != nil {
			return value.Missing(), err
		}
		return value.Decimal(&out), nil
	}
	fa, _ := args[0].AsFloat()
	fb, _ := args[1].AsFloat()
	if fb == 0 {
		return value.Missing(), errors.New("division by zero")
	}
	return value.Double(fa / fb), nil
}

func evalMod(args []value.Value) (value.Value, error) {
	class, null, err := classify(args)
	if err != nil {
		return value.Missing(), err
	}
	if null {
		return value.Null(), nil
	}
	if class == numInt {
		ia, _ := args[0].Int64()
		ib, _ := args[1].Int64()
		if ib == 0 {
			return value.Missing(), errors.New("division by zero")
		}
		return value.Int64(ia % ib), nil
	}
	fa, _ := args[0].AsFloat()
	fb, _ := args[1].AsFloat()
	if fb == 0 {
		return value.Missing(), errors.New("division by zero")
	}
	return value.Double(math.Mod(fa, fb)), nil
}

func evalCmp(args []value.Value) (value.Value, error) {
	c := value.Compare(args[0], args[1])
	switch {
	case c < 0:
		return value.Int64(-1), nil
	case c > 0:
		return value.Int64(1), nil
	}
	return value.Int64(0), nil
}

func boolCompareOp(pred func(int) bool) func(args []value.Value) (value.Value, error) {
	return func(args []value.Value) (value.Value, error) {
		return value.Bool(pred(value.Compare(args[0], args[1]))), nil
	}
}

func evalAnd(ctx EvalCtx, args []Expression) (value.Value, error) {
	for _, a := range args {
		v, err := a.Evaluate(ctx)
		if err != nil {
			return value.Missing(), err
		}
		if !v.Truthy() {
			return value.Bool(false), nil
		}
	}
	return value.Bool(true), nil
}

func evalOr(ctx EvalCtx, args []Expression) (value.Value, error) {
	for _, a := range args {
		v, err := a.Evaluate(ctx)
		if err != nil {
			return value.Missing(), err
		}
		if v.Truthy() {
			return value.Bool(true), nil
		}
	}
	return value.Bool(false), nil
}

func evalNot(args []value.Value) (value.Value, error) {
	return value.Bool(!args[0].Truthy()), nil
}

func evalConcat(args []value.Value) (value.Value, error) {
	var sb strings.Builder
	for _, a := range args {
		if a.IsMissing() || a.IsNull() {
			return value.Null(), nil
		}
		s, ok := a.Str()
		if !ok {
			return value.Missing(), fmt.Errorf("expected a string, got %s", a.Kind())
		}
		sb.WriteString(s)
	}
	return value.String(sb.String()), nil
}

func stringOp(f func(string) string) func(args []value.Value) (value.Value, error) {
	return func(args []value.Value) (value.Value, error) {
		if args[0].IsMissing() || args[0].IsNull() {
			return value.String(""), nil
		}
		s, ok := args[0].Str()
		if !ok {
			return value.Missing(), fmt.Errorf("expected a string, got %s", args[0].Kind())
		}
		return value.String(f(s)), nil
	}
}

func evalStrcasecmp(args []value.Value) (value.Value, error) {
	sa, ok := args[0].Str()
	if !ok {
		return value.Missing(), fmt.Errorf("expected a string, got %s", args[0].Kind())
	}
	sb, ok := args[1].Str()
	if !ok {
		return value.Missing(), fmt.Errorf("expected a string, got %s", args[1].Kind())
	}
	return value.Int64(int64(strings.Compare(strings.ToLower(sa), strings.ToLower(sb)))), nil
}

func evalSize(args []value.Value) (value.Value, error) {
	arr, ok := args[0].Arr()
	if !ok {
		return value.Missing(), fmt.Errorf("expected an array, got %s", args[0].Kind())
	}
	return value.Int64(int64(len(arr))), nil
}

func evalIfNull(ctx EvalCtx, args []Expression) (value.Value, error) {
	v, err := args[0].Evaluate(ctx)
	if err != nil {
		return value.Missing(), err
	}
	if !v.IsMissing() && !v.IsNull() {
		return v, nil
	}
	return args[1].Evaluate(ctx)
}

func evalCond(ctx EvalCtx, args []Expression) (value.Value, error) {
	c, err := args[0].Evaluate(ctx)
	if err != nil {
		return value.Missing(), err
	}
	if c.Truthy() {
		return args[1].Evaluate(ctx)
	}
	return args[2].Evaluate(ctx)
}
