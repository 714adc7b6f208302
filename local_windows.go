package memorypatch

import (
	"fmt"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Protection holds PAGE_* flags.
type Protection uint32

// ProtectReadOnly is the protection of read-only data pages.
const ProtectReadOnly = Protection(windows.PAGE_READONLY)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

// Readable reports whether the pages can be read
func (p Protection) Readable() bool {
	if p&(windows.PAGE_GUARD|windows.PAGE_NOACCESS) != 0 {
		return false
	}
	return p&(windows.PAGE_READONLY|windows.PAGE_READWRITE|windows.PAGE_WRITECOPY|
		windows.PAGE_EXECUTE_READ|windows.PAGE_EXECUTE_READWRITE|windows.PAGE_EXECUTE_WRITECOPY) != 0
}

// Writable returns the writable counterpart of p, keeping execute access
func (p Protection) Writable() Protection {
	modifiers := p &^ 0xFF
	switch p & 0xFF {
	case windows.PAGE_EXECUTE, windows.PAGE_EXECUTE_READ, windows.PAGE_EXECUTE_WRITECOPY, windows.PAGE_EXECUTE_READWRITE:
		return windows.PAGE_EXECUTE_READWRITE | modifiers
	default:
		return windows.PAGE_READWRITE | modifiers
	}
}

func (p Protection) String() string {
	return fmt.Sprintf("0x%02X", uint32(p))
}

func systemPageSize() int {
	return int(windows.Getpagesize())
}

func (m *localMemory) Query(addr Address) (Region, error) {
	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQuery(uintptr(addr), &mbi, unsafe.Sizeof(mbi)); err != nil {
		return Region{}, fmt.Errorf("VirtualQuery %s: %w", addr, err)
	}
	return Region{
		Base:    Address(mbi.BaseAddress),
		Size:    uint64(mbi.RegionSize),
		Protect: Protection(mbi.Protect),
		Mapped:  mbi.State == windows.MEM_COMMIT,
	}, nil
}

func (m *localMemory) Protect(addr Address, size int, prot Protection) error {
	var old uint32
	if err := windows.VirtualProtect(uintptr(addr), uintptr(size), uint32(prot), &old); err != nil {
		return fmt.Errorf("VirtualProtect %s: %w", addr, err)
	}
	return nil
}

func (m *localMemory) FlushInstructionCache(addr Address, size int) error {
	r, _, err := procFlushInstructionCache.Call(uintptr(windows.CurrentProcess()), uintptr(addr), uintptr(size))
	if r == 0 {
		return fmt.Errorf("FlushInstructionCache %s: %w", addr, err)
	}
	return nil
}

// allocGranularity is the placement granularity of VirtualAlloc; memFree
// is the MEM_FREE region state.
const (
	allocGranularity = 0x10000
	memFree          = 0x10000
)

func (m *localMemory) Alloc(near Address, size int) (Address, error) {
	const flags = windows.MEM_COMMIT | windows.MEM_RESERVE
	if near == 0 {
		p, err := windows.VirtualAlloc(0, uintptr(size), flags, windows.PAGE_EXECUTE_READWRITE)
		if err != nil {
			return 0, fmt.Errorf("VirtualAlloc: %w", err)
		}
		return Address(p), nil
	}

	// walk outwards from the target like a code cave search
	base := pageFloor(near, allocGranularity)
	for i := 1; i < 0x8000; i++ {
		for _, hint := range []Address{base + Address(i*allocGranularity), base - Address(i*allocGranularity)} {
			if !nearEnough(hint, near) {
				continue
			}
			var mbi windows.MemoryBasicInformation
			if windows.VirtualQuery(uintptr(hint), &mbi, unsafe.Sizeof(mbi)) != nil || mbi.State != memFree {
				continue
			}
			p, err := windows.VirtualAlloc(uintptr(hint), uintptr(size), flags, windows.PAGE_EXECUTE_READWRITE)
			if err == nil && p != 0 {
				return Address(p), nil
			}
		}
	}
	return 0, fmt.Errorf("no free memory near %s", near)
}

func (m *localMemory) Free(addr Address, size int) error {
	if err := windows.VirtualFree(uintptr(addr), 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("VirtualFree %s: %w", addr, err)
	}
	return nil
}

// MainModule returns the image of the host executable.
func MainModule() (Module, error) {
	var handle windows.Handle
	if err := windows.GetModuleHandleEx(0, nil, &handle); err != nil {
		return Module{}, fmt.Errorf("failed to get module handle: %w", err)
	}

	var info windows.ModuleInfo
	if err := windows.GetModuleInformation(windows.CurrentProcess(), handle, &info, uint32(unsafe.Sizeof(info))); err != nil {
		return Module{}, fmt.Errorf("failed to get module information: %w", err)
	}

	buf := make([]uint16, windows.MAX_PATH)
	n, err := windows.GetModuleFileName(handle, &buf[0], uint32(len(buf)))
	if err != nil {
		return Module{}, fmt.Errorf("failed to get module file name: %w", err)
	}

	return Module{
		Name: filepath.Base(windows.UTF16ToString(buf[:n])),
		Base: Address(info.BaseOfDll),
		Size: uint64(info.SizeOfImage),
	}, nil
}
