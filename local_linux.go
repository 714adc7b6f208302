package memorypatch

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Protection holds PROT_* flags.
type Protection uint32

// ProtectReadOnly is the protection of read-only data pages.
const ProtectReadOnly = Protection(unix.PROT_READ)

// Readable reports whether the pages can be read
func (p Protection) Readable() bool {
	return p&unix.PROT_READ != 0
}

// Writable returns p with write access added
func (p Protection) Writable() Protection {
	return p | unix.PROT_READ | unix.PROT_WRITE
}

func (p Protection) String() string {
	flags := []byte("---")
	if p&unix.PROT_READ != 0 {
		flags[0] = 'r'
	}
	if p&unix.PROT_WRITE != 0 {
		flags[1] = 'w'
	}
	if p&unix.PROT_EXEC != 0 {
		flags[2] = 'x'
	}
	return string(flags)
}

func systemPageSize() int {
	return unix.Getpagesize()
}

// mapping is one line of /proc/self/maps
type mapping struct {
	start, end Address
	prot       Protection
	path       string
}

func readMappings() ([]mapping, error) {
	data, err := os.ReadFile("/proc/self/maps")
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings: %w", err)
	}

	var maps []mapping
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			continue
		}
		start, err := strconv.ParseUint(bounds[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(bounds[1], 16, 64)
		if err != nil {
			continue
		}

		var prot Protection
		perms := fields[1]
		if strings.HasPrefix(perms, "r") {
			prot |= unix.PROT_READ
		}
		if len(perms) > 1 && perms[1] == 'w' {
			prot |= unix.PROT_WRITE
		}
		if len(perms) > 2 && perms[2] == 'x' {
			prot |= unix.PROT_EXEC
		}

		m := mapping{start: Address(start), end: Address(end), prot: prot}
		if len(fields) >= 6 {
			m.path = fields[5]
		}
		maps = append(maps, m)
	}
	return maps, scanner.Err()
}

func (m *localMemory) Query(addr Address) (Region, error) {
	maps, err := readMappings()
	if err != nil {
		return Region{}, err
	}

	next := ^Address(0)
	for _, mp := range maps {
		if addr >= mp.start && addr < mp.end {
			return Region{Base: mp.start, Size: uint64(mp.end - mp.start), Protect: mp.prot, Mapped: true}, nil
		}
		if mp.start > addr && mp.start < next {
			next = mp.start
		}
	}
	return Region{Base: addr, Size: uint64(next - addr)}, nil
}

func (m *localMemory) Protect(addr Address, size int, prot Protection) error {
	start := pageFloor(addr, m.pageSize)
	end := pageCeil(addr.Add(size), m.pageSize)
	pages := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(start))), int(end-start))
	if err := unix.Mprotect(pages, int(prot)); err != nil {
		return fmt.Errorf("mprotect %s: %w", start, err)
	}
	return nil
}

// FlushInstructionCache is a no-op: x86 keeps the instruction cache
// coherent with stores.
func (m *localMemory) FlushInstructionCache(addr Address, size int) error {
	return nil
}

// allocStep is the distance between placement attempts near a target.
const allocStep = 1 << 20

func (m *localMemory) Alloc(near Address, size int) (Address, error) {
	length := uintptr(pageCeil(Address(size), m.pageSize))
	prot := unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS

	if near == 0 {
		p, err := unix.MmapPtr(-1, 0, nil, length, prot, flags)
		if err != nil {
			return 0, fmt.Errorf("mmap: %w", err)
		}
		return Address(uintptr(p)), nil
	}

	base := pageFloor(near, allocStep)
	for i := 1; i < 1024; i++ {
		for _, hint := range []Address{base + Address(i*allocStep), base - Address(i*allocStep)} {
			if !nearEnough(hint, near) {
				continue
			}
			p, err := unix.MmapPtr(-1, 0, unsafe.Pointer(uintptr(hint)), length, prot, flags|unix.MAP_FIXED_NOREPLACE)
			if err != nil {
				continue
			}
			got := Address(uintptr(p))
			if got == hint {
				return got, nil
			}
			// kernels without MAP_FIXED_NOREPLACE treat the address as a hint
			_ = unix.MunmapPtr(p, length)
		}
	}
	return 0, fmt.Errorf("no free memory near %s", near)
}

func (m *localMemory) Free(addr Address, size int) error {
	length := uintptr(pageCeil(Address(size), m.pageSize))
	if err := unix.MunmapPtr(unsafe.Pointer(uintptr(addr)), length); err != nil {
		return fmt.Errorf("munmap %s: %w", addr, err)
	}
	return nil
}

// MainModule returns the image of the running executable.
func MainModule() (Module, error) {
	exe, err := os.Readlink("/proc/self/exe")
	if err != nil {
		return Module{}, fmt.Errorf("failed to resolve executable: %w", err)
	}
	maps, err := readMappings()
	if err != nil {
		return Module{}, err
	}

	var mod Module
	for _, mp := range maps {
		if mp.path != exe {
			continue
		}
		if mod.Base == 0 {
			mod = Module{Name: filepath.Base(exe), Base: mp.start}
		}
		mod.Size = uint64(mp.end - mod.Base)
	}
	if mod.Base == 0 {
		return Module{}, fmt.Errorf("no mapping for %s", exe)
	}
	return mod, nil
}
