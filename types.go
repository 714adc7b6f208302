package memorypatch

import (
	"fmt"
	"strings"
)

// Address represents a memory address
type Address uint64

// String returns the hexadecimal representation of the address
func (a Address) String() string {
	return fmt.Sprintf("0x%X", uint64(a))
}

// Add returns the address advanced by off bytes
func (a Address) Add(off int) Address {
	return Address(int64(a) + int64(off))
}

// Match represents a single signature match inside a module
type Match struct {
	Address Address
	Data    []byte
}

// Hex returns the matched bytes as space separated hex
func (m Match) Hex() string {
	var builder strings.Builder
	for i, b := range m.Data {
		if i > 0 {
			builder.WriteByte(' ')
		}
		fmt.Fprintf(&builder, "%02X", b)
	}
	return builder.String()
}

// Module describes the loaded image of the target executable.
// The memory it describes is never copied by the scanner.
type Module struct {
	Name string
	Base Address
	Size uint64
}

// End returns the first address past the module
func (m Module) End() Address {
	return m.Base + Address(m.Size)
}

// Contains reports whether [addr, addr+size) lies inside the module
func (m Module) Contains(addr Address, size int) bool {
	if size < 0 || addr < m.Base {
		return false
	}
	return uint64(addr-m.Base)+uint64(size) <= m.Size
}

// Offset returns addr relative to the module base
func (m Module) Offset(addr Address) uint64 {
	return uint64(addr - m.Base)
}

// Format renders addr as "name+0xOFFSET", the form used in diagnostics
func (m Module) Format(addr Address) string {
	return fmt.Sprintf("%s+0x%x", m.Name, m.Offset(addr))
}

// Region is a run of pages sharing one protection
type Region struct {
	Base    Address
	Size    uint64
	Protect Protection
	// Mapped is false for reserved or free address space
	Mapped bool
}

// End returns the first address past the region
func (r Region) End() Address {
	return r.Base + Address(r.Size)
}

// Readable reports whether the region can be scanned
func (r Region) Readable() bool {
	return r.Mapped && r.Protect.Readable()
}
