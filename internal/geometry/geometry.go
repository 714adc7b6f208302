// Package geometry derives content placement from the output resolution.
package geometry

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
)

// Native is the aspect ratio the game content was authored for.
const Native = 16.0 / 9.0

// Geometry is one consistent set of values derived from a resolution.
type Geometry struct {
	Width      int
	Height     int
	Aspect     float64
	Multiplier float64

	// ContentWidth and ContentHeight size the native-ratio area centered in
	// the output, OffsetX and OffsetY place it.
	ContentWidth  float64
	ContentHeight float64
	OffsetX       float64
	OffsetY       float64
}

// Compute fits content of the native ratio into a w by h output, to the
// height when the output is at least as wide as native and to the width
// otherwise.
func Compute(w, h int, native float64) Geometry {
	g := Geometry{Width: w, Height: h}
	if w <= 0 || h <= 0 {
		return g
	}
	g.Aspect = float64(w) / float64(h)
	g.Multiplier = g.Aspect / native

	if g.Aspect >= native {
		g.ContentHeight = float64(h)
		g.ContentWidth = float64(h) * native
		g.OffsetX = (float64(w) - g.ContentWidth) / 2
		return g
	}
	g.ContentWidth = float64(w)
	g.ContentHeight = float64(w) / native
	g.OffsetY = (float64(h) - g.ContentHeight) / 2
	return g
}

// Valid reports whether g was computed from a real resolution.
func (g Geometry) Valid() bool {
	return g.Width > 0 && g.Height > 0
}

// WiderThan reports whether the output is wider than native.
func (g Geometry) WiderThan(native float64) bool {
	return g.Valid() && g.Aspect > native
}

// AutoHUDScale returns the HUD scale that keeps the interface at its
// 1024x768 design size, and false when no scaling applies.
func (g Geometry) AutoHUDScale() (float64, bool) {
	switch {
	case !g.Valid():
		return 0, false
	case g.Aspect > 4.0/3.0 && g.Height > 768:
		return 768 / float64(g.Height), true
	case g.Aspect <= 4.0/3.0 && g.Width > 1024:
		return 1024 / float64(g.Width), true
	}
	return 0, false
}

// LogValue implements slog.LogValuer.
func (g Geometry) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("width", g.Width),
		slog.Int("height", g.Height),
		slog.Float64("aspect", g.Aspect),
		slog.Float64("multiplier", g.Multiplier),
		slog.Float64("content_width", g.ContentWidth),
		slog.Float64("content_height", g.ContentHeight),
		slog.Float64("offset_x", g.OffsetX),
		slog.Float64("offset_y", g.OffsetY),
	)
}

// CorrectHalfFOV widens a half field of view in degrees authored for the
// native ratio to the given aspect. Outputs not wider than native keep it.
func CorrectHalfFOV(half, aspect, native float64) float64 {
	if aspect <= native {
		return half
	}
	rad := half * math.Pi / 180
	return math.Atan(math.Tan(rad)/native*aspect) * 180 / math.Pi
}

// CorrectFOV is CorrectHalfFOV for a full field of view.
func CorrectFOV(fov, aspect, native float64) float64 {
	return 2 * CorrectHalfFOV(fov/2, aspect, native)
}

// Reader gives callbacks the current geometry.
type Reader interface {
	Load() Geometry
}

// Writer records a new output resolution.
type Writer interface {
	Update(w, h int) (Geometry, bool)
}

// State holds the geometry shared between hook callbacks. Readers never
// block and always see a snapshot produced by a single Update.
type State struct {
	native float64
	mu     sync.Mutex
	cur    atomic.Pointer[Geometry]
}

var (
	_ Reader = (*State)(nil)
	_ Writer = (*State)(nil)
)

// NewState returns a state with no resolution recorded yet.
func NewState(native float64) *State {
	s := &State{native: native}
	s.cur.Store(&Geometry{})
	return s
}

func (s *State) Native() float64 {
	return s.native
}

func (s *State) Load() Geometry {
	return *s.cur.Load()
}

// Update recomputes the geometry for w by h. Non-positive dimensions and
// the current resolution are ignored; the bool reports a change.
func (s *State) Update(w, h int) (Geometry, bool) {
	if w <= 0 || h <= 0 {
		return s.Load(), false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.cur.Load()
	if cur.Width == w && cur.Height == h {
		return *cur, false
	}
	g := Compute(w, h, s.native)
	s.cur.Store(&g)
	return g, true
}
