package memorypatch

import (
	"errors"
	"fmt"
	"time"
)

var errNotPE = errors.New("not a PE image")

// Timestamp returns the link time recorded in the PE header of a mapped
// module. It identifies the build a signature set was made against.
func Timestamp(r Reader, m Module) (time.Time, error) {
	magic, err := ReadValue[uint16](r, m.Base)
	if err != nil {
		return time.Time{}, fmt.Errorf("read DOS header: %w", err)
	}
	if magic != 0x5A4D {
		return time.Time{}, errNotPE
	}
	lfanew, err := ReadValue[uint32](r, m.Base+0x3C)
	if err != nil {
		return time.Time{}, fmt.Errorf("read DOS header: %w", err)
	}
	header := m.Base + Address(lfanew)
	if sig, err := ReadValue[uint32](r, header); err != nil || sig != 0x00004550 {
		return time.Time{}, errNotPE
	}
	stamp, err := ReadValue[uint32](r, header+8)
	if err != nil {
		return time.Time{}, fmt.Errorf("read file header: %w", err)
	}
	return time.Unix(int64(stamp), 0).UTC(), nil
}
