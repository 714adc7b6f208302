package memorypatch

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"unsafe"
)

// localMemory is the address space of the current process.
type localMemory struct {
	pageSize int
}

var (
	localOnce sync.Once
	local     *localMemory
)

// Local returns the memory of the current process.
func Local() Memory {
	localOnce.Do(func() {
		local = &localMemory{pageSize: systemPageSize()}
	})
	return local
}

func (m *localMemory) PageSize() int {
	return m.pageSize
}

func (m *localMemory) Read(addr Address, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if err := readRange(m, addr, len(buf)); err != nil {
		return err
	}
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(buf)))
	return nil
}

func (m *localMemory) View(addr Address, size int) ([]byte, bool) {
	if size <= 0 || readRange(m, addr, size) != nil {
		return nil, false
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), size), true
}

func (m *localMemory) Write(addr Address, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	store(uintptr(addr), data)
	return nil
}

// cacheLine is the x86 cache line size. Unaligned 2 and 4 byte stores that
// stay inside one line are atomic on cached memory.
const cacheLine = 64

// SingleStore reports whether a write of size bytes at addr is performed by
// Write as one store that other threads observe all at once.
func SingleStore(addr Address, size int) bool {
	offset := int(addr & 7)
	switch {
	case size <= 0:
		return false
	case size <= 8 && offset+size <= 8:
		return true
	case size == 2 || size == 4:
		return int(addr%cacheLine)+size <= cacheLine
	}
	return false
}

// store writes data at p, as a single store whenever SingleStore allows it.
func store(p uintptr, data []byte) {
	word := p &^ 7
	shift := p - word
	switch {
	case len(data) <= 8 && int(shift)+len(data) <= 8:
		ptr := (*uint64)(unsafe.Pointer(word))
		// retry so concurrent stores to the rest of the word survive
		var buf [8]byte
		for {
			old := atomic.LoadUint64(ptr)
			binary.LittleEndian.PutUint64(buf[:], old)
			copy(buf[shift:], data)
			if atomic.CompareAndSwapUint64(ptr, old, binary.LittleEndian.Uint64(buf[:])) {
				break
			}
		}
	case len(data) == 2 && SingleStore(Address(p), 2):
		*(*uint16)(unsafe.Pointer(p)) = binary.LittleEndian.Uint16(data)
	case len(data) == 4 && SingleStore(Address(p), 4):
		*(*uint32)(unsafe.Pointer(p)) = binary.LittleEndian.Uint32(data)
	default:
		copy(unsafe.Slice((*byte)(unsafe.Pointer(p)), len(data)), data)
	}
}

func pageFloor(addr Address, pageSize int) Address {
	return addr &^ Address(pageSize-1)
}

func pageCeil(addr Address, pageSize int) Address {
	return (addr + Address(pageSize-1)) &^ Address(pageSize-1)
}

// nearEnough reports whether a jump between a and b fits a 32-bit displacement.
func nearEnough(a, b Address) bool {
	const limit = 0x7FFF0000
	if a > b {
		return a-b < limit
	}
	return b-a < limit
}
