package hook

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/arch/x86/x86asm"

	"github.com/zhuweiyou/memorypatch"
)

const (
	// jumpSize is the length of the jmp rel32 written at a site.
	jumpSize = 5
	// maxSteal bounds how many bytes are read when measuring a site.
	maxSteal = 32
)

// instruction is one decoded instruction of the displaced code.
type instruction struct {
	off      int
	len      int
	pcrel    int
	pcrelOff int
}

// measure decodes whole instructions from the start of code until at least
// jumpSize bytes are covered, and returns them with the covered length.
func measure(code []byte, arch Arch) ([]instruction, int, error) {
	var insts []instruction
	n := 0
	for n < jumpSize {
		if n >= len(code) {
			return nil, 0, fmt.Errorf("%w: code ends after %d bytes", ErrBoundary, n)
		}
		if code[n] == 0xCC {
			return nil, 0, fmt.Errorf("%w: int3 padding at +%d", ErrBoundary, n)
		}
		inst, err := x86asm.Decode(code[n:], int(arch))
		if err != nil {
			return nil, 0, fmt.Errorf("%w: decode at +%d: %v", ErrBoundary, n, err)
		}
		if inst.PCRel == 2 {
			return nil, 0, fmt.Errorf("%w: 16-bit branch %v at +%d", ErrBoundary, inst.Op, n)
		}
		insts = append(insts, instruction{off: n, len: inst.Len, pcrel: inst.PCRel, pcrelOff: inst.PCRelOff})
		n += inst.Len
		if n < jumpSize && terminates(inst.Op) {
			return nil, 0, fmt.Errorf("%w: %v at +%d ends the block early", ErrBoundary, inst.Op, n-inst.Len)
		}
	}
	return insts, n, nil
}

// terminates reports whether execution never falls through op.
func terminates(op x86asm.Op) bool {
	switch op {
	case x86asm.RET, x86asm.LRET, x86asm.JMP, x86asm.LJMP,
		x86asm.IRET, x86asm.IRETD, x86asm.IRETQ, x86asm.UD1, x86asm.UD2:
		return true
	}
	return false
}

// maxRelocated bounds the size of n displaced bytes after relocation. A
// two byte jcc grows to six.
func maxRelocated(n int) int {
	return 3 * n
}

// relocate rewrites the displaced code to run at to instead of from. Every
// PC-relative operand keeps its absolute target; short jmp and jcc are
// widened to their rel32 forms. starts[i] is the offset of insts[i] in the
// rewritten code.
func relocate(code []byte, insts []instruction, from, to memorypatch.Address, arch Arch) (out []byte, starts []int, err error) {
	out = make([]byte, 0, maxRelocated(len(code)))
	starts = make([]int, len(insts))
	for i, in := range insts {
		starts[i] = len(out)
		raw := code[in.off : in.off+in.len]
		if in.pcrel == 0 {
			out = append(out, raw...)
			continue
		}

		var disp int64
		if in.pcrel == 1 {
			disp = int64(int8(raw[in.pcrelOff]))
		} else {
			disp = int64(int32(binary.LittleEndian.Uint32(raw[in.pcrelOff:])))
		}
		target := int64(from) + int64(in.off+in.len) + disp
		if target > int64(from) && target < int64(from)+jumpSize {
			return nil, nil, fmt.Errorf("%w: branch at %s targets the overwritten head", ErrBoundary, from.Add(in.off))
		}

		var field int
		switch {
		case in.pcrel == 4:
			out = append(out, raw...)
			field = len(out) - in.len + in.pcrelOff
		case in.pcrelOff == 1 && raw[0] == 0xEB:
			out = append(out, 0xE9, 0, 0, 0, 0)
			field = len(out) - 4
		case in.pcrelOff == 1 && raw[0] >= 0x70 && raw[0] <= 0x7F:
			out = append(out, 0x0F, 0x80+raw[0]-0x70, 0, 0, 0, 0)
			field = len(out) - 4
		default:
			return nil, nil, fmt.Errorf("%w: cannot relocate short branch at %s", ErrBoundary, from.Add(in.off))
		}
		// displacements count from the end of the rewritten instruction
		rel := target - (int64(to) + int64(len(out)))
		if arch == X64 && (rel < math.MinInt32 || rel > math.MaxInt32) {
			return nil, nil, fmt.Errorf("%w: instruction at %s", ErrOutOfRange, from.Add(in.off))
		}
		// x86 wraps modulo 2^32
		binary.LittleEndian.PutUint32(out[field:], uint32(rel))
	}
	return out, starts, nil
}
