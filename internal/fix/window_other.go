//go:build !windows

package fix

import "errors"

type noWindow struct{}

// NativeWindow is unavailable off Windows.
func NativeWindow() Window {
	return noWindow{}
}

func (noWindow) MakeBorderless(hwnd uintptr) error {
	return errors.ErrUnsupported
}
