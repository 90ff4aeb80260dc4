package expression

import (
	"fmt"
)

type ErrUnknownOperator = error

func NewUnknownOperatorError(name string) ErrUnknownOperator {
	return fmt.Errorf("unknown operator %q", name)
}

type ErrInvalidArguments = error

func NewInvalidArgumentsError(op string, n int) ErrInvalidArguments {
	return fmt.Errorf("invalid number of arguments (%d) for operator %q", n, op)
}

type ErrExpression = error

func NewExpressionError(op string, err error) ErrExpression {
	return fmt.Errorf("failed to evaluate %s expression: %w", op, err)
}

type ErrParse = error

func NewParseError(content string, err error) ErrParse {
	if err == nil {
		return fmt.Errorf("invalid expression at %q", content)
	}
	return fmt.Errorf("invalid expression at %q: %w", content, err)
}
