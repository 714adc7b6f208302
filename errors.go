package memorypatch

import (
	"errors"
	"fmt"
)

// Sentinel errors of scanning, polling and writing. Callers match them with
// errors.Is.
var (
	ErrNotFound       = errors.New("signature not found")
	ErrNotReady       = errors.New("target never became ready")
	ErrInvalidPattern = errors.New("invalid pattern")
	ErrUnmapped       = errors.New("address not mapped")
	ErrReadOnly       = errors.New("memory is read-only")
)

// WriteError reports a protected write that could not be performed.
type WriteError struct {
	Addr Address
	Size int
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %d bytes at %s: %s: %v", e.Size, e.Addr, e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
