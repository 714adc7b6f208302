package hook

import (
	"fmt"
	"sync"

	"github.com/zhuweiyou/memorypatch"
)

type write struct {
	addr memorypatch.Address
	data []byte
}

// fakeMemory is an address space with one code region and stubs handed out
// from stubBase.
type fakeMemory struct {
	mu       sync.Mutex
	base     memorypatch.Address
	code     []byte
	stubBase memorypatch.Address
	stubs    map[memorypatch.Address][]byte
	writes   []write
	protects int
	allocErr error
	codeErr  error
	onAlloc  func()
}

func newFakeMemory(base memorypatch.Address, code []byte) *fakeMemory {
	return &fakeMemory{
		base:     base,
		code:     append([]byte(nil), code...),
		stubBase: base + 0x100000,
		stubs:    make(map[memorypatch.Address][]byte),
	}
}

func (m *fakeMemory) locate(addr memorypatch.Address, size int) ([]byte, bool) {
	if addr >= m.base && uint64(addr-m.base)+uint64(size) <= uint64(len(m.code)) {
		return m.code[addr-m.base:][:size], true
	}
	for base, stub := range m.stubs {
		if addr >= base && uint64(addr-base)+uint64(size) <= uint64(len(stub)) {
			return stub[addr-base:][:size], true
		}
	}
	return nil, false
}

func (m *fakeMemory) Query(addr memorypatch.Address) (memorypatch.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr >= m.base && addr < m.base.Add(len(m.code)) {
		return memorypatch.Region{Base: m.base, Size: uint64(len(m.code)), Protect: memorypatch.ProtectReadOnly, Mapped: true}, nil
	}
	for base, stub := range m.stubs {
		if addr >= base && addr < base.Add(len(stub)) {
			return memorypatch.Region{Base: base, Size: uint64(len(stub)), Protect: memorypatch.ProtectReadOnly, Mapped: true}, nil
		}
	}
	return memorypatch.Region{Base: addr, Size: 1}, nil
}

func (m *fakeMemory) Read(addr memorypatch.Address, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.locate(addr, len(buf))
	if !ok {
		return fmt.Errorf("%s: %w", addr, memorypatch.ErrUnmapped)
	}
	copy(buf, src)
	return nil
}

func (m *fakeMemory) Protect(addr memorypatch.Address, size int, prot memorypatch.Protection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.protects++
	return nil
}

func (m *fakeMemory) Write(addr memorypatch.Address, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codeErr != nil && addr >= m.base && addr < m.base.Add(len(m.code)) {
		return m.codeErr
	}
	dst, ok := m.locate(addr, len(data))
	if !ok {
		return memorypatch.ErrUnmapped
	}
	copy(dst, data)
	m.writes = append(m.writes, write{addr: addr, data: append([]byte(nil), data...)})
	return nil
}

func (m *fakeMemory) FlushInstructionCache(addr memorypatch.Address, size int) error {
	return nil
}

func (m *fakeMemory) Alloc(near memorypatch.Address, size int) (memorypatch.Address, error) {
	if m.onAlloc != nil {
		m.onAlloc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allocErr != nil {
		return 0, m.allocErr
	}
	addr := m.stubBase
	m.stubBase += 0x1000
	m.stubs[addr] = make([]byte, size)
	return addr, nil
}

func (m *fakeMemory) Free(addr memorypatch.Address, size int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stubs[addr]; !ok {
		return fmt.Errorf("free of unknown stub %s", addr)
	}
	delete(m.stubs, addr)
	return nil
}

func (m *fakeMemory) PageSize() int {
	return 0x1000
}

// codeWrites returns the writes that landed in the code region.
func (m *fakeMemory) codeWrites() []write {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []write
	for _, w := range m.writes {
		if w.addr >= m.base && w.addr < m.base.Add(len(m.code)) {
			out = append(out, w)
		}
	}
	return out
}

func (m *fakeMemory) bytesAt(addr memorypatch.Address, size int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := m.locate(addr, size)
	return append([]byte(nil), b...)
}

func (m *fakeMemory) liveStubs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stubs)
}

// fakeThreads stands in for other threads stopped at ips while a head is
// written.
type fakeThreads struct {
	ips      []uint64
	freezes  int
	thawed   int
	onFreeze func()
	err      error
}

func (f *fakeThreads) Freeze(move func(ip uint64) (uint64, bool)) (func(bool) error, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.freezes++
	if f.onFreeze != nil {
		f.onFreeze()
	}
	return func(commit bool) error {
		f.thawed++
		if !commit {
			return nil
		}
		for i, ip := range f.ips {
			if to, ok := move(ip); ok {
				f.ips[i] = to
			}
		}
		return nil
	}, nil
}
