package hook

// addOne is a Go ABI0 func(x uintptr) uintptr returning x+1 through ecx:
// mov ecx,[esp+4]; mov eax,ecx; add eax,1; mov [esp+8],eax; ret.
var addOne = []byte{
	0x8B, 0x4C, 0x24, 0x04,
	0x89, 0xC8,
	0x83, 0xC0, 0x01,
	0x89, 0x44, 0x24, 0x08,
	0xC3,
}

const addOneSite = 4

// setCX41 is a stdcall entry(id, frame) writing 41 to the saved ecx:
// mov eax,[esp+8]; mov dword [eax+24],41; ret 8.
var setCX41 = []byte{
	0x8B, 0x44, 0x24, 0x08,
	0xC7, 0x40, 0x18, 0x29, 0x00, 0x00, 0x00,
	0xC2, 0x08, 0x00,
}
