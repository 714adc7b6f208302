package hook

import "unsafe"

// CONTEXT layout, control registers only.
const (
	contextSize    = 716
	contextFlags   = 0x00010001 // CONTEXT_i386 | CONTEXT_CONTROL
	contextFlagsAt = 0
	contextIPAt    = 0xB8
)

func readIP(ctx unsafe.Pointer) uint64 {
	return uint64(*(*uint32)(unsafe.Add(ctx, contextIPAt)))
}

func writeIP(ctx unsafe.Pointer, ip uint64) {
	*(*uint32)(unsafe.Add(ctx, contextIPAt)) = uint32(ip)
}
