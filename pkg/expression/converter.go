package expression

import (
	"strings"

	"github.com/l7mp/docpipe/pkg/fieldpath"
	"github.com/l7mp/docpipe/pkg/value"
)

// Parse converts a decoded spec value into an expression tree.
//
// The grammar: a string starting with "$" is a field reference; a single-field
// document whose name starts with "$" is an operator applied to its argument
// (an array of operands, or a single operand); any other document is an
// ordered object constructor; everything else is a constant.
func Parse(v value.Value) (Expression, error) {
	switch v.Kind() {
	case value.StringKind:
		s, _ := v.Str()
		if strings.HasPrefix(s, "$") {
			p, err := fieldpath.ParseRef(s)
			if err != nil {
				return nil, NewParseError(s, err)
			}
			return NewFieldRef(p), nil
		}
		return NewConstant(v), nil

	case value.DocumentKind:
		d, _ := v.Document()
		if d.Len() == 1 && strings.HasPrefix(d.FieldAt(0).Name, "$") {
			return parseOp(d.FieldAt(0))
		}
		return parseObject(d)

	case value.ArrayKind:
		// arrays appear as operator arguments only; a literal array of
		// constants is still a valid constant
		arr, _ := v.Arr()
		for _, e := range arr {
			if !isLiteral(e) {
				return nil, NewParseError(v.String(), nil)
			}
		}
		return NewConstant(v), nil

	default:
		return NewConstant(v), nil
	}
}

func isLiteral(v value.Value) bool {
	switch v.Kind() {
	case value.StringKind:
		s, _ := v.Str()
		return !strings.HasPrefix(s, "$")
	case value.DocumentKind:
		d, _ := v.Document()
		for _, f := range d.Fields() {
			if strings.HasPrefix(f.Name, "$") || !isLiteral(f.Value) {
				return false
			}
		}
		return true
	case value.ArrayKind:
		arr, _ := v.Arr()
		for _, e := range arr {
			if !isLiteral(e) {
				return false
			}
		}
		return true
	}
	return true
}

func parseOp(f value.Field) (Expression, error) {
	if f.Name == "$literal" {
		return NewConstant(f.Value), nil
	}

	var operands []value.Value
	if arr, ok := f.Value.Arr(); ok {
		operands = arr
	} else {
		operands = []value.Value{f.Value}
	}

	args := make([]Expression, 0, len(operands))
	for _, o := range operands {
		a, err := Parse(o)
		if err != nil {
			return nil, err
		}
		args = append(args, a)
	}
	return NewOp(f.Name, args)
}

func parseObject(d *value.Document) (Expression, error) {
	fields := make([]ObjectField, 0, d.Len())
	for _, f := range d.Fields() {
		if strings.HasPrefix(f.Name, "$") {
			return nil, NewParseError(d.String(), nil)
		}
		if strings.Contains(f.Name, ".") {
			return nil, NewParseError(d.String(), nil)
		}
		e, err := Parse(f.Value)
		if err != nil {
			return nil, err
		}
		fields = append(fields, ObjectField{Name: f.Name, Expr: e})
	}
	return NewObject(fields), nil
}
