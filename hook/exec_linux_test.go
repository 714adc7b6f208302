//go:build linux && (amd64 || 386)

package hook

import (
	"io"
	"log/slog"
	"testing"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zhuweiyou/memorypatch"
)

// mapCode maps code on a fresh read-execute page.
func mapCode(t *testing.T, code []byte) memorypatch.Address {
	t.Helper()
	page, err := unix.Mmap(-1, 0, unix.Getpagesize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		t.Fatalf("mmap failed: %v", err)
	}
	t.Cleanup(func() { unix.Munmap(page) })
	copy(page, code)
	if err := unix.Mprotect(page, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		t.Fatalf("mprotect failed: %v", err)
	}
	return memorypatch.Address(uintptr(unsafe.Pointer(&page[0])))
}

// growStack leaves room below the caller for the stub's saved state.
//
//go:noinline
func growStack() byte {
	var buf [64 << 10]byte
	buf[len(buf)-1] = 1
	return buf[0] + buf[len(buf)-1]
}

// callNative runs the code at addr as a func(uintptr) uintptr.
func callNative(addr memorypatch.Address, arg uintptr) uintptr {
	code := uintptr(addr)
	p := &code
	fn := *(*func(uintptr) uintptr)(unsafe.Pointer(&p))
	growStack()
	return fn(arg)
}

func TestStubResumesWithCallbackRegisters(t *testing.T) {
	fn := mapCode(t, addOne)
	entry := mapCode(t, setCX41)

	if got := callNative(fn, 0); got != 1 {
		t.Fatalf("unhooked call = %d, want 1", got)
	}

	e, err := NewEngine(memorypatch.Local(), Options{
		Arch:         NativeArch(),
		Entry:        uintptr(entry),
		ReclaimDelay: time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	if _, err := e.Install(fn.Add(addOneSite), nop); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	// the entry sets the saved cx to 41 and the displaced add runs after it
	if got := callNative(fn, 0); got != 42 {
		t.Errorf("hooked call = %d, want 42", got)
	}
	if got := callNative(fn, 7); got != 42 {
		t.Errorf("hooked call with 7 = %d, want 42", got)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := callNative(fn, 0); got != 1 {
		t.Errorf("call after Close() = %d, want 1", got)
	}
}
