package hook

import (
	"sync"

	"golang.org/x/sys/windows"
)

var nativeEntry = sync.OnceValue(func() uintptr {
	return windows.NewCallback(func(id, frame uintptr) uintptr {
		return dispatch(uint32(id), frame)
	})
})

// NativeEntry returns a function pointer stubs can call from any thread of
// the process. It takes (site id, frame) in the platform's callback
// convention: stdcall on x86, the Win64 ABI on x64.
func NativeEntry() (uintptr, error) {
	return nativeEntry(), nil
}
