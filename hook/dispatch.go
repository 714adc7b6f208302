package hook

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	// registry maps site ids to sites for the native entry
	registry sync.Map
	lastID   atomic.Uint32
)

func register(s *Site) {
	registry.Store(s.id, s)
}

func unregister(s *Site) {
	registry.CompareAndDelete(s.id, s)
}

// dispatch is called from a stub with the site id and the saved frame.
func dispatch(id uint32, frame uintptr) uintptr {
	v, ok := registry.Load(id)
	if !ok {
		return 0
	}
	s := v.(*Site)

	s.inflight.Add(1)
	defer s.inflight.Add(-1)
	if s.State() != Installed {
		return 0
	}
	s.calls.Add(1)

	ctx := &Context{site: s, arch: s.engine.arch, frame: frame}
	defer ctx.expire()
	s.invoke(ctx)
	return 0
}

func (s *Site) invoke(ctx *Context) {
	defer func() {
		if r := recover(); r != nil {
			s.engine.logger.Error("hook callback panicked",
				slog.String("site", s.engine.format(s.addr)),
				slog.Any("panic", r))
		}
	}()
	s.callback(ctx)
}
