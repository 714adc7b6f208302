package hook

import (
	"fmt"
	"unsafe"
)

// Arch selects the instruction set of the hooked code.
type Arch int

const (
	X86 Arch = 32
	X64 Arch = 64
)

// NativeArch returns the architecture of the running process.
func NativeArch() Arch {
	if unsafe.Sizeof(uintptr(0)) == 4 {
		return X86
	}
	return X64
}

func (a Arch) String() string {
	switch a {
	case X86:
		return "x86"
	case X64:
		return "x64"
	}
	return fmt.Sprintf("Arch(%d)", int(a))
}

func (a Arch) valid() bool {
	return a == X86 || a == X64
}

// wordSize is the size of a saved register slot.
func (a Arch) wordSize() int {
	return int(a) / 8
}

// spOffset is the distance from the saved frame to the stack pointer the
// hooked code had when it reached the site.
func (a Arch) spOffset() int {
	if a == X86 {
		// pushad (32) + pushfd (4)
		return 36
	}
	// red zone (128) + pushfq and 15 registers (128)
	return 256
}

// Register names a general purpose register or the flags.
type Register int

const (
	RegAX Register = iota
	RegCX
	RegDX
	RegBX
	RegSP
	RegBP
	RegSI
	RegDI
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15
	RegFlags
)

var registerNames = [...]string{
	"ax", "cx", "dx", "bx", "sp", "bp", "si", "di",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15", "flags",
}

func (r Register) String() string {
	if r >= 0 && int(r) < len(registerNames) {
		return registerNames[r]
	}
	return fmt.Sprintf("Register(%d)", int(r))
}

// Frame layouts as left by the stub prologue, lowest address first.
//
// x86: pushfd; pushad
//
//	edi esi ebp (esp) ebx edx ecx eax eflags
//
// x64: lea rsp,[rsp-128]; pushfq; push rax..rdi; push r8..r15
//
//	r15 r14 r13 r12 r11 r10 r9 r8 rdi rsi rbp rbx rdx rcx rax rflags
var (
	slots32 = map[Register]int{
		RegDI: 0, RegSI: 4, RegBP: 8, RegBX: 16,
		RegDX: 20, RegCX: 24, RegAX: 28, RegFlags: 32,
	}
	slots64 = map[Register]int{
		RegR15: 0, RegR14: 8, RegR13: 16, RegR12: 24,
		RegR11: 32, RegR10: 40, RegR9: 48, RegR8: 56,
		RegDI: 64, RegSI: 72, RegBP: 80, RegBX: 88,
		RegDX: 96, RegCX: 104, RegAX: 112, RegFlags: 120,
	}
)

// slot returns the frame offset of r. The stack pointer has no slot.
func (a Arch) slot(r Register) (int, bool) {
	var off int
	var ok bool
	if a == X86 {
		off, ok = slots32[r]
	} else {
		off, ok = slots64[r]
	}
	return off, ok
}
