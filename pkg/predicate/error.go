package predicate

import (
	"fmt"
)

type ErrParse = error

func NewParseError(content string) ErrParse {
	return fmt.Errorf("invalid predicate at %q", content)
}
