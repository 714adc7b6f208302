//go:build !windows

package hook

// NativeEntry is only available on Windows, where the runtime can accept
// calls from foreign threads without cgo.
func NativeEntry() (uintptr, error) {
	return 0, ErrUnsupported
}
