//go:build 386 || amd64

package hook

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32             = windows.NewLazySystemDLL("kernel32.dll")
	procSuspendThread    = kernel32.NewProc("SuspendThread")
	procGetThreadContext = kernel32.NewProc("GetThreadContext")
	procSetThreadContext = kernel32.NewProc("SetThreadContext")
)

const threadAccess = windows.THREAD_SUSPEND_RESUME | windows.THREAD_GET_CONTEXT | windows.THREAD_SET_CONTEXT

// freezeAttempts bounds how often a freeze restarts because more threads
// appeared than were counted.
const freezeAttempts = 4

// NativeThreads suspends the threads of the current process listed by a
// toolhelp snapshot.
func NativeThreads() Threads {
	return nativeThreads{}
}

type nativeThreads struct{}

// frozen holds everything a freeze touches, allocated before the first
// thread is suspended.
type frozen struct {
	handles []windows.Handle
	entry   windows.ThreadEntry32
	buf     []byte
	ctx     unsafe.Pointer
	unmoved int
}

func (nativeThreads) Freeze(move func(ip uint64) (uint64, bool)) (func(bool) error, error) {
	for _, p := range []*windows.LazyProc{procSuspendThread, procGetThreadContext, procSetThreadContext} {
		if err := p.Find(); err != nil {
			return nil, err
		}
	}
	n, err := countThreads()
	if err != nil {
		return nil, err
	}

	for range freezeAttempts {
		f := newFrozen(n + 16)
		runtime.LockOSThread()
		full, err := f.suspend()
		if err != nil || full {
			rerr := f.resume()
			runtime.UnlockOSThread()
			if err != nil {
				return nil, errors.Join(fmt.Errorf("suspend threads: %w", err), rerr)
			}
			n = 2 * cap(f.handles)
			continue
		}
		return func(commit bool) error {
			if commit {
				f.relocate(move)
			}
			err := f.resume()
			runtime.UnlockOSThread()
			if f.unmoved > 0 {
				err = errors.Join(err, fmt.Errorf("%d threads inside displaced code could not be moved", f.unmoved))
			}
			return err
		}, nil
	}
	return nil, errors.New("suspend threads: thread count kept growing")
}

func newFrozen(capacity int) *frozen {
	f := &frozen{
		handles: make([]windows.Handle, 0, capacity),
		buf:     make([]byte, contextSize+16),
	}
	// CONTEXT must be 16 byte aligned on x64
	p := unsafe.Pointer(&f.buf[0])
	f.ctx = unsafe.Add(p, (16-uintptr(p)%16)%16)
	return f
}

// countThreads returns how many threads the current process has.
func countThreads() (int, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPTHREAD, 0)
	if err != nil {
		return 0, fmt.Errorf("thread snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	pid := windows.GetCurrentProcessId()
	var entry windows.ThreadEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	n := 0
	for err = windows.Thread32First(snap, &entry); err == nil; err = windows.Thread32Next(snap, &entry) {
		if entry.OwnerProcessID == pid {
			n++
		}
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return 0, fmt.Errorf("walk threads: %w", err)
	}
	return n, nil
}

// suspend stops every thread of the process but the calling one. It
// reports full when the preallocated handle slice ran out.
func (f *frozen) suspend() (full bool, err error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPTHREAD, 0)
	if err != nil {
		return false, err
	}
	defer windows.CloseHandle(snap)

	pid, self := windows.GetCurrentProcessId(), windows.GetCurrentThreadId()
	f.entry.Size = uint32(unsafe.Sizeof(f.entry))
	for err = windows.Thread32First(snap, &f.entry); err == nil; err = windows.Thread32Next(snap, &f.entry) {
		if f.entry.OwnerProcessID != pid || f.entry.ThreadID == self {
			continue
		}
		if len(f.handles) == cap(f.handles) {
			return true, nil
		}
		h, oerr := windows.OpenThread(threadAccess, false, f.entry.ThreadID)
		if oerr != nil {
			// exited since the snapshot
			continue
		}
		if r, _, _ := procSuspendThread.Call(uintptr(h)); uint32(r) == 0xFFFFFFFF {
			windows.CloseHandle(h)
			continue
		}
		f.handles = append(f.handles, h)
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return false, err
	}
	return false, nil
}

// relocate passes the instruction pointer of every suspended thread to move.
func (f *frozen) relocate(move func(ip uint64) (uint64, bool)) {
	for _, h := range f.handles {
		*(*uint32)(unsafe.Add(f.ctx, contextFlagsAt)) = contextFlags
		if r, _, _ := procGetThreadContext.Call(uintptr(h), uintptr(f.ctx)); r == 0 {
			f.unmoved++
			continue
		}
		to, ok := move(readIP(f.ctx))
		if !ok {
			continue
		}
		writeIP(f.ctx, to)
		if r, _, _ := procSetThreadContext.Call(uintptr(h), uintptr(f.ctx)); r == 0 {
			f.unmoved++
		}
	}
}

func (f *frozen) resume() error {
	var first error
	for _, h := range f.handles {
		if _, err := windows.ResumeThread(h); err != nil && first == nil {
			first = fmt.Errorf("resume thread: %w", err)
		}
		windows.CloseHandle(h)
	}
	f.handles = f.handles[:0]
	return first
}
