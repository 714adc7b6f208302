package hook

import (
	"runtime"
	"unsafe"
)

// Frame is a saved register frame followed by a stack, built in Go memory.
// It lets callbacks be driven by Site.Call without executing a stub.
type Frame struct {
	arch  Arch
	words []uint64
}

// NewFrame returns a zeroed frame with stackSize bytes of stack.
func NewFrame(arch Arch, stackSize int) *Frame {
	n := (arch.spOffset() + stackSize + 7) / 8
	return &Frame{arch: arch, words: make([]uint64, n)}
}

func (f *Frame) ptr() uintptr {
	return uintptr(unsafe.Pointer(&f.words[0]))
}

// view is a Context over the frame that never expires.
func (f *Frame) view() *Context {
	return &Context{arch: f.arch, frame: f.ptr()}
}

func (f *Frame) Reg(r Register) uint64 {
	return f.view().Reg(r)
}

func (f *Frame) SetReg(r Register, v uint64) {
	f.view().SetReg(r, v)
}

func (f *Frame) Stack() Stack {
	return f.view().Stack()
}

// Call runs the site's callback on f exactly as a stub would.
func (s *Site) Call(f *Frame) {
	if f.arch != s.engine.arch {
		panic("hook: frame architecture does not match the site")
	}
	dispatch(s.id, f.ptr())
	runtime.KeepAlive(f)
}
