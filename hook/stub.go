package hook

import (
	"encoding/binary"

	"github.com/zhuweiyou/memorypatch"
)

// maxReturnJump is the longest jump appended after the displaced code.
const maxReturnJump = 14

// prologue saves the interrupted state, calls entry(id, frame) and restores
// everything. Execution continues at the end of the returned bytes.
func prologue(arch Arch, id uint32, entry uintptr) []byte {
	if arch == X86 {
		return prologue32(id, entry)
	}
	return prologue64(id, entry)
}

func prologue32(id uint32, entry uintptr) []byte {
	b := make([]byte, 0, 160)
	b = append(b, 0x9C, 0x60)                         // pushfd; pushad
	b = append(b, 0x89, 0xE0)                         // mov eax, esp
	b = append(b, 0x89, 0xE3)                         // mov ebx, esp
	b = append(b, 0x81, 0xEC, 0x80, 0x00, 0x00, 0x00) // sub esp, 0x80
	for i := 0; i < 8; i++ {
		b = movdqu(b, true, i, i*16)
	}
	b = append(b, 0x50) // push eax (frame)
	b = append(b, 0x68) // push id
	b = binary.LittleEndian.AppendUint32(b, id)
	b = append(b, 0xB8) // mov eax, entry
	b = binary.LittleEndian.AppendUint32(b, uint32(entry))
	b = append(b, 0xFF, 0xD0)       // call eax
	b = append(b, 0x8D, 0x63, 0x80) // lea esp, [ebx-0x80]
	for i := 0; i < 8; i++ {
		b = movdqu(b, false, i, i*16)
	}
	b = append(b, 0x89, 0xDC) // mov esp, ebx
	b = append(b, 0x61, 0x9D) // popad; popfd
	return b
}

func prologue64(id uint32, entry uintptr) []byte {
	b := make([]byte, 0, 320)
	b = append(b, 0x48, 0x8D, 0x64, 0x24, 0x80) // lea rsp, [rsp-0x80]
	b = append(b, 0x9C)                         // pushfq
	b = append(b, 0x50, 0x51, 0x52, 0x53)       // push rax, rcx, rdx, rbx
	b = append(b, 0x55, 0x56, 0x57)             // push rbp, rsi, rdi
	for r := byte(0); r < 8; r++ {
		b = append(b, 0x41, 0x50+r) // push r8..r15
	}
	b = append(b, 0x48, 0x89, 0xE3)                         // mov rbx, rsp
	b = append(b, 0x48, 0x89, 0xE2)                         // mov rdx, rsp
	b = append(b, 0x48, 0x89, 0xE6)                         // mov rsi, rsp
	b = append(b, 0x48, 0x81, 0xEC, 0x00, 0x01, 0x00, 0x00) // sub rsp, 0x100
	for i := 0; i < 16; i++ {
		b = movdqu(b, true, i, i*16)
	}
	b = append(b, 0xB9) // mov ecx, id
	b = binary.LittleEndian.AppendUint32(b, id)
	b = append(b, 0xBF) // mov edi, id
	b = binary.LittleEndian.AppendUint32(b, id)
	b = append(b, 0x48, 0x83, 0xE4, 0xF0) // and rsp, -16
	b = append(b, 0x48, 0x83, 0xEC, 0x20) // sub rsp, 0x20
	b = append(b, 0x48, 0xB8)             // mov rax, entry
	b = binary.LittleEndian.AppendUint64(b, uint64(entry))
	b = append(b, 0xFF, 0xD0)                               // call rax
	b = append(b, 0x48, 0x8D, 0xA3, 0x00, 0xFF, 0xFF, 0xFF) // lea rsp, [rbx-0x100]
	for i := 0; i < 16; i++ {
		b = movdqu(b, false, i, i*16)
	}
	b = append(b, 0x48, 0x89, 0xDC) // mov rsp, rbx
	for r := byte(8); r > 0; r-- {
		b = append(b, 0x41, 0x58+r-1) // pop r15..r8
	}
	b = append(b, 0x5F, 0x5E, 0x5D)                               // pop rdi, rsi, rbp
	b = append(b, 0x5B, 0x5A, 0x59, 0x58)                         // pop rbx, rdx, rcx, rax
	b = append(b, 0x9D)                                           // popfq
	b = append(b, 0x48, 0x8D, 0xA4, 0x24, 0x80, 0x00, 0x00, 0x00) // lea rsp, [rsp+0x80]
	return b
}

// movdqu encodes movdqu [esp/rsp+disp], xmm (store) or the matching load.
func movdqu(b []byte, store bool, xmm int, disp int) []byte {
	b = append(b, 0xF3)
	if xmm >= 8 {
		b = append(b, 0x44) // REX.R
	}
	op := byte(0x6F)
	if store {
		op = 0x7F
	}
	b = append(b, 0x0F, op)
	reg := byte(xmm&7) << 3
	if disp <= 0x7F {
		return append(b, 0x44|reg, 0x24, byte(disp))
	}
	b = append(b, 0x84|reg, 0x24)
	return binary.LittleEndian.AppendUint32(b, uint32(disp))
}

// appendJump appends a jump located at from to target.
func appendJump(arch Arch, b []byte, from, target memorypatch.Address) []byte {
	if arch == X86 {
		b = append(b, 0xE9)
		return binary.LittleEndian.AppendUint32(b, uint32(int64(target)-int64(from)-jumpSize))
	}
	b = append(b, 0xFF, 0x25, 0x00, 0x00, 0x00, 0x00) // jmp [rip+0]
	return binary.LittleEndian.AppendUint64(b, uint64(target))
}

// jumpHead returns the jmp rel32 written at a site. On x64 the stub must be
// within reach of the site.
func jumpHead(arch Arch, site, stub memorypatch.Address) ([]byte, bool) {
	rel := int64(stub) - int64(site) - jumpSize
	if arch == X64 && (rel < -1<<31 || rel >= 1<<31) {
		return nil, false
	}
	b := []byte{0xE9}
	return binary.LittleEndian.AppendUint32(b, uint32(rel)), true
}

// displaced pairs a displaced instruction with its copy in the stub.
type displaced struct {
	site memorypatch.Address
	stub memorypatch.Address
}

// buildStub lays out prologue, relocated displaced code and the jump back
// to the instruction following the displaced code. It also returns where
// each displaced instruction landed.
func buildStub(arch Arch, stub memorypatch.Address, id uint32, entry uintptr, site memorypatch.Address, code []byte, insts []instruction) ([]byte, []displaced, error) {
	b := prologue(arch, id, entry)
	base := stub.Add(len(b))
	moved, starts, err := relocate(code, insts, site, base, arch)
	if err != nil {
		return nil, nil, err
	}
	moves := make([]displaced, len(insts))
	for i, in := range insts {
		moves[i] = displaced{site: site.Add(in.off), stub: base.Add(starts[i])}
	}
	b = append(b, moved...)
	return appendJump(arch, b, stub.Add(len(b)), site.Add(len(code))), moves, nil
}

// stubSize is an upper bound on the size of a stub for n displaced bytes.
func stubSize(arch Arch, n int) int {
	return len(prologue(arch, 0, 0)) + maxRelocated(n) + maxReturnJump
}
