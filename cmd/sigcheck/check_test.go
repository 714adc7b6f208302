package main

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/zhuweiyou/memorypatch"
	"github.com/zhuweiyou/memorypatch/internal/fix"
)

// dialogFOV matches the readiness and dialog fov signatures.
var dialogFOV = []byte{
	0xD9, 0x44, 0x24, 0x0C, 0xD9, 0x05, 0x40, 0x00, 0x50, 0x00,
	0x32, 0xC0, 0x5E, 0x8B, 0xE5, 0x5D, 0xC2, 0x08, 0x00,
}

func TestCheckSignatures(t *testing.T) {
	text := bytes.Repeat([]byte{0xCC}, 0x100)
	copy(text, dialogFOV)
	copy(text[0x80:], dialogFOV)
	img, err := memorypatch.NewImage("DragonAge2.exe", 0x400000, []memorypatch.Section{
		{Name: ".text", Offset: 0x1000, Data: text},
	})
	if err != nil {
		t.Fatalf("NewImage() error = %v", err)
	}
	scanner := memorypatch.NewScanner(img, img.Module(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	var out bytes.Buffer
	missing, err := checkSignatures(&out, scanner, fix.DragonAge2)
	if err != nil {
		t.Fatalf("checkSignatures() error = %v", err)
	}
	// current resolution and dialog pillarboxing
	if missing != 2 {
		t.Errorf("checkSignatures() missing = %d, want 2", missing)
	}

	lines := strings.Split(out.String(), "\n")
	var readiness string
	for _, line := range lines {
		if strings.HasPrefix(line, "readiness") {
			readiness = line
		}
	}
	for _, want := range []string{"DragonAge2.exe+0x1000", "DragonAge2.exe+0x1080"} {
		if !strings.Contains(readiness, want) {
			t.Errorf("readiness line %q does not list %s", readiness, want)
		}
	}
}
