package hook

// addOne is a Go ABI func(x uintptr) uintptr returning x+1 through rcx:
// mov rcx,rax; mov rax,rcx; add rax,1; ret. The site covers the last two
// instructions before ret.
var addOne = []byte{
	0x48, 0x89, 0xC1,
	0x48, 0x89, 0xC8,
	0x48, 0x83, 0xC0, 0x01,
	0xC3,
}

const addOneSite = 3

// setCX41 is an entry writing 41 to the saved rcx of the frame in rsi:
// mov qword [rsi+0x68],41; ret.
var setCX41 = []byte{0x48, 0xC7, 0x46, 0x68, 0x29, 0x00, 0x00, 0x00, 0xC3}
