package hook

import (
	"sync/atomic"

	"github.com/zhuweiyou/memorypatch"
)

// State is the lifecycle stage of a site.
type State int32

const (
	Uninstalled State = iota
	Installing
	Installed
	Removed
)

func (s State) String() string {
	switch s {
	case Uninstalled:
		return "uninstalled"
	case Installing:
		return "installing"
	case Installed:
		return "installed"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Callback observes and edits the state of a thread reaching a site. It runs
// on that thread, so it must be short and must not block.
type Callback func(*Context)

// Site is an installed interception.
type Site struct {
	engine   *Engine
	id       uint32
	addr     memorypatch.Address
	callback Callback

	// original holds the displaced bytes, head the bytes written over them
	original []byte
	head     []byte
	stub     memorypatch.Address
	stubSize int
	// moves maps each displaced instruction to its copy in the stub
	moves []displaced

	state    atomic.Int32
	inflight atomic.Int64
	calls    atomic.Uint64
}

// ID returns the number the stub passes to the dispatcher.
func (s *Site) ID() uint32 {
	return s.id
}

// Address returns where the site was installed.
func (s *Site) Address() memorypatch.Address {
	return s.addr
}

// State returns the lifecycle stage of the site.
func (s *Site) State() State {
	return State(s.state.Load())
}

// Len returns the number of bytes displaced from the site.
func (s *Site) Len() int {
	return len(s.original)
}

// Calls returns how many times the callback has been entered.
func (s *Site) Calls() uint64 {
	return s.calls.Load()
}

// Stub returns the address of the redirection stub.
func (s *Site) Stub() memorypatch.Address {
	return s.stub
}

// Remove restores the original bytes and stops the callback from running.
// The stub is freed later by the engine.
func (s *Site) Remove() error {
	return s.engine.remove(s)
}

func (s *Site) overlaps(addr memorypatch.Address, size int) bool {
	return addr < s.addr.Add(len(s.original)) && s.addr < addr.Add(size)
}
