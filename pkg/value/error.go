package value

import (
	"fmt"
)

type ErrConversion = error

func NewConversionError(kind, content string, err error) ErrConversion {
	return fmt.Errorf("cannot convert %q to %s: %w", content, kind, err)
}

type ErrDuplicateField = error

func NewDuplicateFieldError(name string) ErrDuplicateField {
	return fmt.Errorf("duplicate field %q in document", name)
}

type ErrUnmarshal = error

func NewUnmarshalError(kind, content string) ErrUnmarshal {
	return fmt.Errorf("JSON parsing error in %s at %q", kind, content)
}
