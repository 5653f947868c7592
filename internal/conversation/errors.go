package conversation

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("conversation not found")
	ErrInvalidRole = errors.New("invalid message role")
)

// StorageError reports a failed vault operation.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
