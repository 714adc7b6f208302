package hook

import "unsafe"

// CONTEXT layout, control registers only.
const (
	contextSize    = 1232
	contextFlags   = 0x00100001 // CONTEXT_AMD64 | CONTEXT_CONTROL
	contextFlagsAt = 0x30
	contextIPAt    = 0xF8
)

func readIP(ctx unsafe.Pointer) uint64 {
	return *(*uint64)(unsafe.Add(ctx, contextIPAt))
}

func writeIP(ctx unsafe.Pointer, ip uint64) {
	*(*uint64)(unsafe.Add(ctx, contextIPAt)) = ip
}
