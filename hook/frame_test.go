package hook

import "testing"

func TestSiteCallWithFrame(t *testing.T) {
	code := []byte{0x48, 0x8B, 0x05, 0x10, 0x00, 0x00, 0x00, 0x90, 0x90}
	mem := newFakeMemory(0x140001000, code)
	e := newTestEngine(t, mem, X64)

	site, err := e.Install(0x140001000, func(ctx *Context) {
		ctx.SetReg(RegR9, ctx.Reg(RegAX)+ctx.Reg(RegR15))
		ctx.Stack().SetPtr(0x28, ctx.SP())
		ctx.Stack().SetUint32(0x30, uint32(ctx.Flags()))
	})
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	f := NewFrame(X64, 0x40)
	f.SetReg(RegAX, 40)
	f.SetReg(RegR15, 2)
	f.SetReg(RegFlags, 0x246)
	site.Call(f)

	if got := f.Reg(RegR9); got != 42 {
		t.Errorf("r9 = %d, want 42", got)
	}
	if got := f.Stack().Ptr(0x28); got != f.Reg(RegSP) || got != uint64(f.ptr())+256 {
		t.Errorf("stored SP = 0x%X, want frame+256", got)
	}
	if got := f.Stack().Uint32(0x30); got != 0x246 {
		t.Errorf("stored flags = 0x%X, want 0x246", got)
	}
}

func TestFrameRejectsStackPointerWrites(t *testing.T) {
	f := NewFrame(X86, 16)
	defer func() {
		if recover() == nil {
			t.Error("SetReg(RegSP) did not panic")
		}
	}()
	f.SetReg(RegSP, 0)
}
