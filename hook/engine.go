package hook

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/zhuweiyou/memorypatch"
)

const (
	DefaultReclaimDelay   = 500 * time.Millisecond
	DefaultQuiesceTimeout = 2 * time.Second
)

// Options configures an Engine.
type Options struct {
	// Arch is the instruction set of the hooked code. Zero means NativeArch.
	Arch Arch
	// Entry is the address stubs call with (site id, frame). Zero means
	// NativeEntry.
	Entry uintptr
	// Bounds, when set, keeps displaced code inside a module.
	Bounds *memorypatch.Module
	// ReclaimDelay is how long a removed stub stays mapped.
	ReclaimDelay time.Duration
	// QuiesceTimeout bounds the wait for running callbacks on removal.
	QuiesceTimeout time.Duration
	// Threads is suspended around every head write. Nil means
	// NativeThreads when writing to memorypatch.Local, nothing otherwise.
	Threads Threads
	Logger  *slog.Logger
}

// Engine installs and removes mid-function hooks in one address space.
type Engine struct {
	mem            memorypatch.Memory
	arch           Arch
	entry          uintptr
	bounds         *memorypatch.Module
	reclaimDelay   time.Duration
	quiesceTimeout time.Duration
	threads        Threads
	logger         *slog.Logger

	mu      sync.Mutex
	sites   map[memorypatch.Address]*Site
	retired []retiredStub
	closed  bool
}

// retiredStub is stub memory waiting for threads to leave it.
type retiredStub struct {
	site *Site
	at   time.Time
}

// NewEngine creates an engine writing to mem.
func NewEngine(mem memorypatch.Memory, opts Options) (*Engine, error) {
	if opts.Arch == 0 {
		opts.Arch = NativeArch()
	}
	if !opts.Arch.valid() {
		return nil, fmt.Errorf("unsupported architecture %v", opts.Arch)
	}
	if opts.Entry == 0 {
		entry, err := NativeEntry()
		if err != nil {
			return nil, err
		}
		opts.Entry = entry
	}
	if opts.ReclaimDelay <= 0 {
		opts.ReclaimDelay = DefaultReclaimDelay
	}
	if opts.QuiesceTimeout <= 0 {
		opts.QuiesceTimeout = DefaultQuiesceTimeout
	}
	if opts.Threads == nil && mem == memorypatch.Local() {
		opts.Threads = NativeThreads()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		mem:            mem,
		arch:           opts.Arch,
		entry:          opts.Entry,
		bounds:         opts.Bounds,
		reclaimDelay:   opts.ReclaimDelay,
		quiesceTimeout: opts.QuiesceTimeout,
		threads:        opts.Threads,
		logger:         opts.Logger,
		sites:          make(map[memorypatch.Address]*Site),
	}, nil
}

func (e *Engine) format(addr memorypatch.Address) string {
	if e.bounds != nil && e.bounds.Contains(addr, 0) {
		return e.bounds.Format(addr)
	}
	return addr.String()
}

// Install redirects execution reaching addr through cb. addr must be the
// start of an instruction.
func (e *Engine) Install(addr memorypatch.Address, cb Callback) (*Site, error) {
	if cb == nil {
		return nil, errors.New("nil callback")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	for _, s := range e.sites {
		if s.overlaps(addr, jumpSize) {
			return nil, fmt.Errorf("%w: %s overlaps site at %s", ErrConflict, e.format(addr), e.format(s.addr))
		}
	}

	code, err := e.readCode(addr)
	if err != nil {
		return nil, err
	}
	insts, n, err := measure(code, e.arch)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.format(addr), err)
	}
	code = code[:n]
	for _, s := range e.sites {
		if s.overlaps(addr, n) {
			return nil, fmt.Errorf("%w: %s overlaps site at %s", ErrConflict, e.format(addr), e.format(s.addr))
		}
	}
	if !memorypatch.SingleStore(addr, jumpSize) && !memorypatch.SingleStore(addr, 2) {
		return nil, fmt.Errorf("%w: jump at %s cannot be written atomically", ErrBoundary, e.format(addr))
	}

	site := &Site{
		engine:   e,
		id:       lastID.Add(1),
		addr:     addr,
		callback: cb,
		original: code,
	}
	site.state.Store(int32(Installing))
	register(site)
	if err := e.placeStub(site, insts); err != nil {
		unregister(site)
		return nil, err
	}

	site.state.Store(int32(Installed))
	if err := e.writeHead(addr, site.original[:jumpSize], site.head, site.toStub); err != nil {
		site.state.Store(int32(Removed))
		unregister(site)
		e.freeStub(site)
		return nil, err
	}
	e.sites[addr] = site

	e.logger.Info("hook installed",
		slog.String("site", e.format(addr)),
		slog.Int("stolen", n),
		slog.String("stub", site.stub.String()))
	return site, nil
}

// readCode reads the bytes that may be displaced from addr.
func (e *Engine) readCode(addr memorypatch.Address) ([]byte, error) {
	size := maxSteal
	if e.bounds != nil {
		if !e.bounds.Contains(addr, jumpSize) {
			return nil, fmt.Errorf("%w: %s is outside %s", ErrBoundary, addr, e.bounds.Name)
		}
		size = min(size, int(e.bounds.End()-addr))
	}
	// shrink to the readable part so a site near the end of a mapping
	// can still be measured
	for ; size >= jumpSize; size-- {
		code := make([]byte, size)
		err := e.mem.Read(addr, code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, memorypatch.ErrUnmapped) {
			return nil, fmt.Errorf("read %s: %w", e.format(addr), err)
		}
	}
	return nil, fmt.Errorf("%w: %s is too close to the end of mapped memory: %w", ErrBoundary, e.format(addr), memorypatch.ErrUnmapped)
}

// placeStub allocates, builds and writes the stub for site.
func (e *Engine) placeStub(site *Site, insts []instruction) error {
	var near memorypatch.Address
	if e.arch == X64 {
		near = site.addr
	}
	size := stubSize(e.arch, len(site.original))
	stub, err := e.mem.Alloc(near, size)
	if err != nil {
		return fmt.Errorf("allocate stub for %s: %w", e.format(site.addr), err)
	}
	site.stub, site.stubSize = stub, size

	head, ok := jumpHead(e.arch, site.addr, stub)
	if !ok {
		e.freeStub(site)
		return fmt.Errorf("%w: stub %s from %s", ErrOutOfRange, stub, e.format(site.addr))
	}
	site.head = head

	body, moves, err := buildStub(e.arch, stub, site.id, e.entry, site.addr, site.original, insts)
	if err != nil {
		e.freeStub(site)
		return err
	}
	site.moves = moves
	if err := e.mem.Write(stub, body); err != nil {
		e.freeStub(site)
		return fmt.Errorf("write stub: %w", err)
	}
	if err := e.mem.FlushInstructionCache(stub, len(body)); err != nil {
		e.freeStub(site)
		return fmt.Errorf("flush stub: %w", err)
	}
	return nil
}

func (e *Engine) freeStub(site *Site) {
	if err := e.mem.Free(site.stub, site.stubSize); err != nil {
		e.logger.Warn("failed to free stub", slog.String("stub", site.stub.String()), slog.Any("error", err))
	}
}

// park is the jmp $ that holds entering threads during a split head write.
var park = []byte{0xEB, 0xFE}

// writeHead replaces the first jumpSize bytes at addr, prev with next, so
// no thread ever executes a mix of both. Other threads are frozen for the
// write, and once it lands move relocates the ones stopped inside the
// replaced code. When
// one store cannot cover the head, entering threads are parked on a jmp $
// while the tail is written.
func (e *Engine) writeHead(addr memorypatch.Address, prev, next []byte, move func(uint64) (uint64, bool)) (err error) {
	restore, err := memorypatch.Unprotect(e.mem, addr, len(next))
	if err != nil {
		return err
	}
	defer func() {
		if rerr := restore(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	written := false
	if e.threads != nil {
		thaw, err := e.threads.Freeze(move)
		if err != nil {
			return fmt.Errorf("freeze threads: %w", err)
		}
		defer func() {
			if terr := thaw(written); terr != nil {
				e.logger.Warn("thread freeze incomplete", slog.String("site", e.format(addr)), slog.Any("error", terr))
			}
		}()
	}

	if err := e.storeHead(addr, prev, next); err != nil {
		return err
	}
	written = true
	return e.mem.FlushInstructionCache(addr, len(next))
}

// storeHead writes next over prev at addr. Nothing here may allocate while
// threads are frozen.
func (e *Engine) storeHead(addr memorypatch.Address, prev, next []byte) error {
	if memorypatch.SingleStore(addr, len(next)) {
		return e.mem.Write(addr, next)
	}
	if err := e.mem.Write(addr, park); err != nil {
		return err
	}
	if err := e.mem.Write(addr.Add(2), next[2:]); err != nil {
		if rerr := e.mem.Write(addr, prev[:2]); rerr != nil {
			return errors.Join(err, fmt.Errorf("release parked site: %w", rerr))
		}
		return err
	}
	return e.mem.Write(addr, next[:2])
}

func (e *Engine) remove(s *Site) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeLocked(s, time.Now())
}

func (e *Engine) removeLocked(s *Site, now time.Time) error {
	if s.State() == Removed {
		return ErrRemoved
	}
	if err := e.writeHead(s.addr, s.head, s.original[:jumpSize], s.toSite); err != nil {
		return fmt.Errorf("restore %s: %w", e.format(s.addr), err)
	}
	s.state.Store(int32(Removed))
	delete(e.sites, s.addr)

	if !e.quiesce(s) {
		e.logger.Warn("callbacks still running after removal", slog.String("site", e.format(s.addr)))
	}
	e.retired = append(e.retired, retiredStub{site: s, at: now})
	e.reclaimLocked(now)

	e.logger.Info("hook removed", slog.String("site", e.format(s.addr)), slog.Uint64("calls", s.Calls()))
	return nil
}

// quiesce waits for callbacks already running on s to return.
func (e *Engine) quiesce(s *Site) bool {
	deadline := time.Now().Add(e.quiesceTimeout)
	for s.inflight.Load() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}

// reclaimLocked frees stubs retired at least reclaimDelay before now.
func (e *Engine) reclaimLocked(now time.Time) {
	kept := e.retired[:0]
	for _, r := range e.retired {
		if now.Sub(r.at) < e.reclaimDelay || r.site.inflight.Load() > 0 {
			kept = append(kept, r)
			continue
		}
		unregister(r.site)
		e.freeStub(r.site)
	}
	clear(e.retired[len(kept):])
	e.retired = kept
}

// Sites returns the installed sites ordered by address.
func (e *Engine) Sites() []*Site {
	e.mu.Lock()
	defer e.mu.Unlock()
	sites := make([]*Site, 0, len(e.sites))
	for _, s := range e.sites {
		sites = append(sites, s)
	}
	slices.SortFunc(sites, func(a, b *Site) int {
		return cmp.Compare(a.addr, b.addr)
	})
	return sites
}

// Close removes every site and frees all stubs once ReclaimDelay has
// passed since the last removal.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true

	var errs []error
	now := time.Now()
	for _, s := range e.sites {
		if err := e.removeLocked(s, now); err != nil {
			errs = append(errs, err)
		}
	}
	var last time.Time
	for _, r := range e.retired {
		if r.at.After(last) {
			last = r.at
		}
	}
	e.mu.Unlock()

	if wait := time.Until(last.Add(e.reclaimDelay)); wait > 0 {
		time.Sleep(wait)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.reclaimLocked(time.Now())
	if n := len(e.retired); n > 0 {
		e.logger.Warn("stubs left mapped with callbacks still running", slog.Int("count", n))
	}
	return errors.Join(errs...)
}
