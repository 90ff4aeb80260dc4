package store

import (
	"fmt"
)

type ErrStore = error

func NewStoreError(subject string, err error) ErrStore {
	return fmt.Errorf("store operation failed on %q: %w", subject, err)
}
