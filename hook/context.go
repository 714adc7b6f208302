package hook

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/zhuweiyou/memorypatch"
)

// Context is the live register and stack state of a thread stopped at a
// site. It is only valid for the duration of the callback it was passed to;
// any use afterwards panics with ErrContextExpired.
type Context struct {
	site  *Site
	arch  Arch
	frame uintptr
}

func (c *Context) base() uintptr {
	if c.frame == 0 {
		panic(ErrContextExpired)
	}
	return c.frame
}

func (c *Context) expire() {
	c.frame = 0
}

// Arch returns the instruction set of the interrupted code.
func (c *Context) Arch() Arch {
	return c.arch
}

// Address returns the address of the site being executed.
func (c *Context) Address() memorypatch.Address {
	return c.site.addr
}

func (c *Context) word(off int) unsafe.Pointer {
	return unsafe.Pointer(c.base() + uintptr(off))
}

func (c *Context) load(off int) uint64 {
	if c.arch == X86 {
		return uint64(*(*uint32)(c.word(off)))
	}
	return *(*uint64)(c.word(off))
}

func (c *Context) store(off int, v uint64) {
	if c.arch == X86 {
		*(*uint32)(c.word(off)) = uint32(v)
		return
	}
	*(*uint64)(c.word(off)) = v
}

// Reg returns the value r had when the thread reached the site.
func (c *Context) Reg(r Register) uint64 {
	if r == RegSP {
		return c.SP()
	}
	off, ok := c.arch.slot(r)
	if !ok {
		panic(fmt.Sprintf("hook: no register %v on %v", r, c.arch))
	}
	return c.load(off)
}

// SetReg changes r for the rest of the thread's execution. On x86 the value
// is truncated to 32 bits. The stack pointer cannot be set.
func (c *Context) SetReg(r Register, v uint64) {
	off, ok := c.arch.slot(r)
	if !ok {
		panic(fmt.Sprintf("hook: register %v is not writable on %v", r, c.arch))
	}
	c.store(off, v)
}

// SP returns the stack pointer of the interrupted code.
func (c *Context) SP() uint64 {
	return uint64(c.base()) + uint64(c.arch.spOffset())
}

// Flags returns the saved EFLAGS or RFLAGS.
func (c *Context) Flags() uint64 {
	return c.Reg(RegFlags)
}

// Stack returns a window over the interrupted code's stack.
func (c *Context) Stack() Stack {
	return Stack{ctx: c}
}

// Deref32 reads four bytes of target memory at addr.
func (c *Context) Deref32(addr uint64) (uint32, error) {
	return memorypatch.ReadValue[uint32](c.site.engine.mem, memorypatch.Address(addr))
}

// Stack reads and writes slots at byte offsets from the stack pointer the
// interrupted code had at the site, so offset 0 is [esp] or [rsp].
type Stack struct {
	ctx *Context
}

func (s Stack) at(off int) unsafe.Pointer {
	return unsafe.Pointer(s.ctx.base() + uintptr(s.ctx.arch.spOffset()+off))
}

// Uint32 reads the four bytes at off.
func (s Stack) Uint32(off int) uint32 {
	return *(*uint32)(s.at(off))
}

// SetUint32 writes v at off.
func (s Stack) SetUint32(off int, v uint32) {
	*(*uint32)(s.at(off)) = v
}

// Int32 reads a signed 32-bit slot.
func (s Stack) Int32(off int) int32 {
	return int32(s.Uint32(off))
}

// SetInt32 writes a signed 32-bit slot.
func (s Stack) SetInt32(off int, v int32) {
	s.SetUint32(off, uint32(v))
}

// Float32 reads a float slot, such as an x86 float argument.
func (s Stack) Float32(off int) float32 {
	return math.Float32frombits(s.Uint32(off))
}

// SetFloat32 writes a float slot.
func (s Stack) SetFloat32(off int, v float32) {
	s.SetUint32(off, math.Float32bits(v))
}

// Uint64 reads the eight bytes at off.
func (s Stack) Uint64(off int) uint64 {
	return *(*uint64)(s.at(off))
}

// SetUint64 writes v at off.
func (s Stack) SetUint64(off int, v uint64) {
	*(*uint64)(s.at(off)) = v
}

// Ptr reads a pointer sized slot.
func (s Stack) Ptr(off int) uint64 {
	if s.ctx.arch == X86 {
		return uint64(s.Uint32(off))
	}
	return s.Uint64(off)
}

// SetPtr writes a pointer sized slot, truncated to 32 bits on x86.
func (s Stack) SetPtr(off int, v uint64) {
	if s.ctx.arch == X86 {
		s.SetUint32(off, uint32(v))
		return
	}
	s.SetUint64(off, v)
}
