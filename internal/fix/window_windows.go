package fix

import (
	"fmt"

	"golang.org/x/sys/windows"
)

var (
	user32             = windows.NewLazySystemDLL("user32.dll")
	procGetWindowLongW = user32.NewProc("GetWindowLongW")
	procSetWindowLongW = user32.NewProc("SetWindowLongW")
)

const (
	gwlStyle   int32 = -16
	gwlExStyle int32 = -20
)

type user32Window struct{}

// NativeWindow changes window styles through user32.
func NativeWindow() Window {
	return user32Window{}
}

func (user32Window) MakeBorderless(hwnd uintptr) error {
	if !windows.IsWindow(windows.HWND(hwnd)) {
		return fmt.Errorf("0x%X is not a window", hwnd)
	}
	style, exStyle := borderlessStyles(windowLong(hwnd, gwlStyle), windowLong(hwnd, gwlExStyle))
	if err := setWindowLong(hwnd, gwlStyle, style); err != nil {
		return err
	}
	return setWindowLong(hwnd, gwlExStyle, exStyle)
}

func windowLong(hwnd uintptr, index int32) uint32 {
	r, _, _ := procGetWindowLongW.Call(hwnd, uintptr(index))
	return uint32(r)
}

func setWindowLong(hwnd uintptr, index int32, value uint32) error {
	// zero is also a valid previous value
	r, _, err := procSetWindowLongW.Call(hwnd, uintptr(index), uintptr(value))
	if r == 0 && err != windows.ERROR_SUCCESS {
		return fmt.Errorf("SetWindowLongW(%d): %w", index, err)
	}
	return nil
}
