//go:build !windows && !linux

package memorypatch

import (
	"errors"
	"fmt"
)

// Protection is unused on platforms without an in-process backend.
type Protection uint32

const ProtectReadOnly Protection = 1

func (p Protection) Readable() bool       { return p&1 != 0 }
func (p Protection) Writable() Protection { return p | 2 }
func (p Protection) String() string       { return fmt.Sprintf("0x%X", uint32(p)) }

func systemPageSize() int { return 4096 }

func (m *localMemory) Query(addr Address) (Region, error) {
	return Region{}, errors.ErrUnsupported
}

func (m *localMemory) Protect(addr Address, size int, prot Protection) error {
	return errors.ErrUnsupported
}

func (m *localMemory) FlushInstructionCache(addr Address, size int) error {
	return errors.ErrUnsupported
}

func (m *localMemory) Alloc(near Address, size int) (Address, error) {
	return 0, errors.ErrUnsupported
}

func (m *localMemory) Free(addr Address, size int) error {
	return errors.ErrUnsupported
}

// MainModule is not supported on this platform.
func MainModule() (Module, error) {
	return Module{}, errors.ErrUnsupported
}
