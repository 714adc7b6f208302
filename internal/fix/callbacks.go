package fix

import (
	"fmt"
	"log/slog"

	"github.com/zhuweiyou/memorypatch"
	"github.com/zhuweiyou/memorypatch/hook"
	"github.com/zhuweiyou/memorypatch/internal/geometry"
)

// hwndOffset is where the renderer keeps its window handle.
const hwndOffset = 0x168

func (f *Fix) currentResolution(ctx *hook.Context) {
	w := int(int32(ctx.Reg(hook.RegAX)))
	h := int(int32(ctx.Reg(hook.RegCX)))
	if g, changed := f.dims.Update(w, h); changed {
		f.logger.Info("current resolution", slog.Any("geometry", g))
	}
}

func (f *Fix) borderless(ctx *hook.Context) {
	hwnd, err := ctx.Deref32(ctx.Reg(hook.RegSI) + hwndOffset)
	if err != nil || hwnd == 0 {
		return
	}
	if err := f.window.MakeBorderless(uintptr(hwnd)); err != nil {
		f.logger.Warn("failed to make window borderless", slog.Any("error", err))
	}
}

func (f *Fix) shadowAspect(ctx *hook.Context) {
	if f.geo.Load().WiderThan(f.native) {
		ctx.Stack().SetFloat32(0xC, float32(f.native))
	}
}

// pillarboxStack replaces the dialog viewport rectangle (left, right,
// width, height) passed on the stack with the full screen.
func (f *Fix) pillarboxStack(ctx *hook.Context) {
	g := f.geo.Load()
	if !g.Valid() {
		return
	}
	s := ctx.Stack()
	s.SetInt32(0x0, 0)
	s.SetInt32(0x4, 0)
	s.SetInt32(0x8, int32(g.Width))
	s.SetInt32(0xC, int32(g.Height))
}

// pillarboxRegisters is pillarboxStack for a viewport held in registers.
func (f *Fix) pillarboxRegisters(ctx *hook.Context) {
	g := f.geo.Load()
	if !g.Valid() {
		return
	}
	ctx.SetReg(hook.RegBX, 0)
	ctx.SetReg(hook.RegBP, 0)
	ctx.SetReg(hook.RegCX, uint64(g.Width))
	ctx.SetReg(hook.RegDX, uint64(g.Height))
}

func (f *Fix) dialogFOV(ctx *hook.Context) {
	g := f.geo.Load()
	if !g.WiderThan(f.native) {
		return
	}
	s := ctx.Stack()
	fov := float64(s.Float32(0xC))
	s.SetFloat32(0xC, float32(geometry.CorrectFOV(fov, g.Aspect, f.native)))
}

func (f *Fix) hudScale(ctx *hook.Context) {
	scale := f.cfg.HUDScale.Scale
	if scale == 0 {
		auto, ok := f.geo.Load().AutoHUDScale()
		if !ok {
			return
		}
		scale = auto
	}
	ctx.Stack().SetFloat32(0x8, float32(scale))
}

// speedtreeCulling turns the culling test's mask into 0 so speedtree
// objects at the screen edges are never culled.
func (f *Fix) speedtreeCulling(matches []memorypatch.Match) error {
	return memorypatch.Patch(f.mem, matches[0].Address.Add(2), []byte{0x00})
}

// drawDistances follows the absolute operands of the loads that read each
// distance and overwrites the floats they point at.
func (f *Fix) drawDistances(matches []memorypatch.Match) error {
	d := f.cfg.DrawDistances
	targets := []struct {
		name    string
		operand memorypatch.Address
		value   float64
	}{
		{"foliage", matches[0].Address.Add(0x2), d.Foliage},
		{"npc", matches[0].Address.Add(0xE), d.NPC},
		{"object", matches[1].Address.Add(0x2), d.Object},
	}
	for _, t := range targets {
		ptr, err := memorypatch.ReadValue[uint32](f.mem, t.operand)
		if err != nil {
			return fmt.Errorf("%s draw distance: %w", t.name, err)
		}
		addr := memorypatch.Address(ptr)
		f.logger.Info("draw distance",
			slog.String("kind", t.name),
			slog.String("address", f.module.Format(addr)),
			slog.Float64("value", t.value))
		if err := memorypatch.WriteValue(f.mem, addr, float32(t.value)); err != nil {
			return fmt.Errorf("%s draw distance: %w", t.name, err)
		}
	}
	return nil
}

func (f *Fix) shadowResolution(matches []memorypatch.Match) error {
	res := int32(f.cfg.ShadowResolution.Resolution)
	return memorypatch.WriteValue(f.mem, matches[0].Address.Add(6), res)
}
