package memorypatch

import (
	"errors"
	"testing"
)

func testImage(t *testing.T, sections ...Section) *Image {
	t.Helper()
	img, err := NewImage("game.exe", 0x400000, sections)
	if err != nil {
		t.Fatalf("NewImage failed: %v", err)
	}
	return img
}

func TestScannerScan(t *testing.T) {
	text := []byte{0x55, 0x8B, 0xEC, 0xD9, 0x05, 0x10, 0x20, 0x30, 0x40, 0x85, 0xC0, 0x74, 0x02, 0xC3}
	img := testImage(t, Section{Name: ".text", Offset: 0x1000, Data: text})
	scanner := NewScanner(img, img.Module(), nil)

	match, err := scanner.Scan("D9 ?? ?? ?? ?? ?? 85 C0")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if match.Address != 0x401003 {
		t.Errorf("Address = %s, want 0x401003", match.Address)
	}
	if match.Hex() != "D9 05 10 20 30 40 85 C0" {
		t.Errorf("Data = %s", match.Hex())
	}

	if _, err := scanner.Scan("CC CC CC"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Scan(absent) error = %v, want ErrNotFound", err)
	}
	if _, err := scanner.Scan("?? ??"); !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("Scan(wildcards) error = %v, want ErrInvalidPattern", err)
	}
}

func TestScannerScanAny(t *testing.T) {
	text := []byte{0x90, 0xAA, 0xBB, 0x90, 0xCC, 0xDD, 0x90}
	img := testImage(t, Section{Name: ".text", Offset: 0x1000, Data: text})
	scanner := NewScanner(img, img.Module(), nil)

	tests := []struct {
		name     string
		patterns []string
		index    int
		address  Address
		wantErr  error
	}{
		{name: "only second matches", patterns: []string{"11 22", "CC DD"}, index: 1, address: 0x401004},
		{name: "order wins over address", patterns: []string{"CC DD", "AA BB"}, index: 0, address: 0x401004},
		{name: "none", patterns: []string{"11 22", "33 44"}, index: -1, wantErr: ErrNotFound},
		{name: "bad pattern stops the chain", patterns: []string{"11 22", "XY", "AA BB"}, index: 1, wantErr: ErrInvalidPattern},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, index, err := scanner.ScanAny(tt.patterns...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ScanAny error = %v, want %v", err, tt.wantErr)
				}
				if index != tt.index {
					t.Errorf("index = %d, want %d", index, tt.index)
				}
				return
			}
			if err != nil {
				t.Fatalf("ScanAny failed: %v", err)
			}
			if index != tt.index || match.Address != tt.address {
				t.Errorf("ScanAny = (%s, %d), want (%s, %d)", match.Address, index, tt.address, tt.index)
			}

			single, err := scanner.Scan(tt.patterns[index])
			if err != nil || single.Address != match.Address {
				t.Errorf("Scan(%q) = %s, %v; ScanAny gave %s", tt.patterns[index], single.Address, err, match.Address)
			}
		})
	}
}

func TestScannerMergesAdjacentRegions(t *testing.T) {
	// the signature straddles the boundary between two sections
	img := testImage(t,
		Section{Name: ".text", Offset: 0x1000, Data: []byte{0x00, 0x00, 0xDE, 0xAD}},
		Section{Name: ".rdata", Offset: 0x1004, Data: []byte{0xBE, 0xEF, 0x00}},
	)
	scanner := NewScanner(img, img.Module(), nil)

	match, err := scanner.Scan("DE AD BE EF")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if match.Address != 0x401002 {
		t.Errorf("Address = %s, want 0x401002", match.Address)
	}
}

func TestScannerSkipsGaps(t *testing.T) {
	img := testImage(t,
		Section{Name: ".text", Offset: 0x1000, Data: []byte{0x11, 0x22}},
		Section{Name: ".data", Offset: 0x3000, Data: []byte{0x33, 0x11, 0x22, 0x44}},
	)
	scanner := NewScanner(img, img.Module(), nil)

	if _, err := scanner.Scan("22 33"); !errors.Is(err, ErrNotFound) {
		t.Errorf("match across a gap: err = %v", err)
	}

	sig := MustParseSignature("11 22")
	matches, err := scanner.FindAll(sig)
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	if len(matches) != 2 || matches[0].Address != 0x401000 || matches[1].Address != 0x403001 {
		t.Errorf("FindAll = %v", matches)
	}
}

func TestScannerStaysInsideModule(t *testing.T) {
	img := testImage(t, Section{Name: ".text", Offset: 0, Data: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}})

	// a module extent shorter than the mapped data
	scanner := NewScanner(img, Module{Name: "game.exe", Base: 0x400000, Size: 4}, nil)
	if _, err := scanner.Scan("04 05"); !errors.Is(err, ErrNotFound) {
		t.Errorf("match past the module end: err = %v", err)
	}
	if _, err := scanner.Scan("03 04"); err != nil {
		t.Errorf("Scan inside module failed: %v", err)
	}
}

func TestNewImageRejectsOverlap(t *testing.T) {
	_, err := NewImage("game.exe", 0x400000, []Section{
		{Name: ".a", Offset: 0x1000, Data: make([]byte, 0x20)},
		{Name: ".b", Offset: 0x1010, Data: make([]byte, 0x20)},
	})
	if err == nil {
		t.Fatal("NewImage accepted overlapping sections")
	}
}
