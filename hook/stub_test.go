package hook

import (
	"bytes"
	"encoding/binary"
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/zhuweiyou/memorypatch"
)

// decodeAll decodes code completely or fails the test.
func decodeAll(t *testing.T, code []byte, arch Arch) []x86asm.Inst {
	t.Helper()
	var insts []x86asm.Inst
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], int(arch))
		if err != nil {
			t.Fatalf("decode at +%d (% X): %v", off, code[off:min(off+8, len(code))], err)
		}
		insts = append(insts, inst)
		off += inst.Len
	}
	return insts
}

func TestPrologueDecodes(t *testing.T) {
	for _, arch := range []Arch{X86, X64} {
		t.Run(arch.String(), func(t *testing.T) {
			code := prologue(arch, 7, 0x12345678)
			insts := decodeAll(t, code, arch)

			calls := 0
			for _, inst := range insts {
				if inst.Op == x86asm.CALL {
					calls++
				}
			}
			if calls != 1 {
				t.Errorf("prologue has %d calls, want 1", calls)
			}
			if !bytes.Contains(code, binary.LittleEndian.AppendUint32(nil, 7)) {
				t.Errorf("prologue does not carry the site id")
			}
			if !bytes.Contains(code, binary.LittleEndian.AppendUint32(nil, 0x12345678)) {
				t.Errorf("prologue does not carry the entry address")
			}
		})
	}
}

// TestPrologueFrameLayout checks the register slots against the order in
// which the x64 prologue pushes registers.
func TestPrologueFrameLayout(t *testing.T) {
	regs := map[x86asm.Reg]Register{
		x86asm.RAX: RegAX, x86asm.RCX: RegCX, x86asm.RDX: RegDX, x86asm.RBX: RegBX,
		x86asm.RBP: RegBP, x86asm.RSI: RegSI, x86asm.RDI: RegDI,
		x86asm.R8: RegR8, x86asm.R9: RegR9, x86asm.R10: RegR10, x86asm.R11: RegR11,
		x86asm.R12: RegR12, x86asm.R13: RegR13, x86asm.R14: RegR14, x86asm.R15: RegR15,
	}

	code := prologue(X64, 1, 0)
	var pushed []Register
	off := 0
	for _, inst := range decodeAll(t, code, X64) {
		if inst.Op == x86asm.CALL {
			break
		}
		if code[off] == 0x9C {
			pushed = append(pushed, RegFlags)
		} else if inst.Op == x86asm.PUSH {
			reg, ok := inst.Args[0].(x86asm.Reg)
			if !ok {
				t.Fatalf("unexpected push %v", inst)
			}
			pushed = append(pushed, regs[reg])
		}
		off += inst.Len
	}

	if len(pushed) != 16 {
		t.Fatalf("prologue pushes %d values, want 16", len(pushed))
	}
	for i, r := range pushed {
		want := (len(pushed) - 1 - i) * 8
		got, ok := X64.slot(r)
		if !ok || got != want {
			t.Errorf("slot(%v) = %d, want %d", r, got, want)
		}
	}
	if got := X64.spOffset(); got != 128+len(pushed)*8 {
		t.Errorf("spOffset() = %d, want %d", got, 128+len(pushed)*8)
	}
}

func TestBuildStubJumpsBack(t *testing.T) {
	tests := []struct {
		name string
		arch Arch
		site memorypatch.Address
		stub memorypatch.Address
		code []byte
	}{
		{
			name: "x86",
			arch: X86,
			site: 0x00401000,
			stub: 0x00800000,
			code: []byte{0xD9, 0x44, 0x24, 0x0C, 0x8B, 0x46, 0x10},
		},
		{
			name: "x64",
			arch: X64,
			site: 0x140001000,
			stub: 0x140101000,
			code: []byte{0x48, 0x8B, 0x05, 0x10, 0x00, 0x00, 0x00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			insts, n, err := measure(tt.code, tt.arch)
			if err != nil {
				t.Fatalf("measure() error = %v", err)
			}
			stub, _, err := buildStub(tt.arch, tt.stub, 3, 0x1000, tt.site, tt.code[:n], insts)
			if err != nil {
				t.Fatalf("buildStub() error = %v", err)
			}
			if len(stub) > stubSize(tt.arch, n) {
				t.Errorf("stub is %d bytes, stubSize allows %d", len(stub), stubSize(tt.arch, n))
			}

			back := tt.site.Add(n)
			var got memorypatch.Address
			if tt.arch == X86 {
				tail := stub[len(stub)-jumpSize:]
				if tail[0] != 0xE9 {
					t.Fatalf("stub ends with % X, want a jmp rel32", tail)
				}
				got = target(t, tail, tt.stub.Add(len(stub)-jumpSize), X86)
			} else {
				tail := stub[len(stub)-maxReturnJump:]
				if !bytes.Equal(tail[:6], []byte{0xFF, 0x25, 0, 0, 0, 0}) {
					t.Fatalf("stub ends with % X, want jmp [rip]", tail)
				}
				got = memorypatch.Address(binary.LittleEndian.Uint64(tail[6:]))
			}
			if got != back {
				t.Errorf("stub returns to %s, want %s", got, back)
			}
		})
	}
}

func TestBuildStubMoves(t *testing.T) {
	// fld [esp+0xC]; fld dword [0x500040]
	code := []byte{0xD9, 0x44, 0x24, 0x0C, 0xD9, 0x05, 0x40, 0x00, 0x50, 0x00}
	const site, stub memorypatch.Address = 0x401000, 0x800000
	insts, n, err := measure(code, X86)
	if err != nil {
		t.Fatalf("measure() error = %v", err)
	}
	body, moves, err := buildStub(X86, stub, 3, 0x1000, site, code[:n], insts)
	if err != nil {
		t.Fatalf("buildStub() error = %v", err)
	}
	if len(moves) != len(insts) {
		t.Fatalf("got %d moves, want %d", len(moves), len(insts))
	}

	base := stub.Add(len(prologue(X86, 3, 0x1000)))
	for i, in := range insts {
		if moves[i].site != site.Add(in.off) {
			t.Errorf("move %d from %s, want %s", i, moves[i].site, site.Add(in.off))
		}
		if moves[i].stub != base.Add(in.off) {
			t.Errorf("move %d to %s, want %s", i, moves[i].stub, base.Add(in.off))
		}
		got := body[moves[i].stub-stub:][:in.len]
		if !bytes.Equal(got, code[in.off:in.off+in.len]) {
			t.Errorf("stub holds % X at move %d, want % X", got, i, code[in.off:in.off+in.len])
		}
	}
}

func TestJumpHead(t *testing.T) {
	head, ok := jumpHead(X64, 0x140001000, 0x140101000)
	if !ok {
		t.Fatal("jumpHead() rejected a reachable stub")
	}
	if got := target(t, head, 0x140001000, X64); got != 0x140101000 {
		t.Errorf("head jumps to %s, want 0x140101000", got)
	}
	if _, ok := jumpHead(X64, 0x140001000, 0x7FF000000000); ok {
		t.Error("jumpHead() accepted an unreachable stub")
	}
	if _, ok := jumpHead(X86, 0x00401000, 0xF0000000); !ok {
		t.Error("jumpHead() rejected an x86 stub")
	}
}
