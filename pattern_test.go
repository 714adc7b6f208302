package memorypatch

import (
	"errors"
	"testing"
)

func TestParseSignature(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		length  int
		wantErr bool
	}{
		{name: "plain bytes", pattern: "57 65 43 68", length: 4},
		{name: "double wildcard", pattern: "D9 ?? ?? ?? 85 C0", length: 6},
		{name: "single wildcard", pattern: "D9 ? 85", length: 3},
		{name: "extra spaces", pattern: "  74  ?? 8B ", length: 3},
		{name: "empty", pattern: "", wantErr: true},
		{name: "only wildcards", pattern: "?? ?? ??", wantErr: true},
		{name: "bad hex", pattern: "D9 ZZ", wantErr: true},
		{name: "two bytes in one token", pattern: "D985", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := ParseSignature(tt.pattern)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPattern) {
					t.Fatalf("ParseSignature(%q) error = %v, want ErrInvalidPattern", tt.pattern, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSignature(%q) failed: %v", tt.pattern, err)
			}
			if sig.Len() != tt.length {
				t.Errorf("Len() = %d, want %d", sig.Len(), tt.length)
			}
		})
	}
}

func TestSignatureFind(t *testing.T) {
	data := []byte{0x90, 0xD9, 0x01, 0x02, 0x85, 0xC0, 0xD9, 0xFF, 0xFF, 0x85, 0xC0, 0xC3}

	tests := []struct {
		name    string
		pattern string
		want    int
		all     []int
	}{
		{name: "first of two", pattern: "D9 ?? ?? 85 C0", want: 1, all: []int{1, 6}},
		{name: "leading wildcard", pattern: "?? 85 C0 C3", want: 8, all: []int{8}},
		{name: "at start", pattern: "90 D9", want: 0, all: []int{0}},
		{name: "at end", pattern: "C0 C3", want: 10, all: []int{10}},
		{name: "absent", pattern: "CC CC", want: -1},
		{name: "longer than data", pattern: "90 D9 01 02 85 C0 D9 FF FF 85 C0 C3 00", want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := MustParseSignature(tt.pattern)
			if got := sig.Find(data); got != tt.want {
				t.Errorf("Find() = %d, want %d", got, tt.want)
			}
			all := sig.FindAll(data)
			if len(all) != len(tt.all) {
				t.Fatalf("FindAll() = %v, want %v", all, tt.all)
			}
			for i := range all {
				if all[i] != tt.all[i] {
					t.Errorf("FindAll()[%d] = %d, want %d", i, all[i], tt.all[i])
				}
			}
		})
	}
}

// Find must agree with a naive scan on every position
func TestSignatureFindMatchesNaive(t *testing.T) {
	data := make([]byte, 4096)
	seed := uint32(7)
	for i := range data {
		seed = seed*1103515245 + 12345
		data[i] = byte(seed>>16) & 0x07
	}

	patterns := []string{"01 ?? 03", "?? 00 00", "07 07 ?? 07", "02 ?? ?? ?? 05 06"}
	for _, pattern := range patterns {
		sig := MustParseSignature(pattern)
		want := -1
		for i := 0; i+sig.Len() <= len(data) && want < 0; i++ {
			if sig.matchesAt(data, i) {
				want = i
			}
		}
		if got := sig.Find(data); got != want {
			t.Errorf("Find(%q) = %d, naive scan = %d", pattern, got, want)
		}
	}
}

func TestMatchHex(t *testing.T) {
	m := Match{Data: []byte{0xD9, 0x05, 0x00}}
	if got := m.Hex(); got != "D9 05 00" {
		t.Errorf("Hex() = %q", got)
	}
}

func TestModuleFormat(t *testing.T) {
	m := Module{Name: "DAOrigins.exe", Base: 0x400000, Size: 0x1000}
	if got := m.Format(0x400123); got != "DAOrigins.exe+0x123" {
		t.Errorf("Format() = %q", got)
	}
	if !m.Contains(0x400FFC, 4) {
		t.Error("Contains() rejected the last word")
	}
	if m.Contains(0x400FFD, 4) {
		t.Error("Contains() accepted a range past the end")
	}
}

func BenchmarkSignatureFind(b *testing.B) {
	sig := MustParseSignature("D9 ?? ?? ?? D9 ?? ?? ?? ?? ?? 32 ?? 5E 8B ?? 5D C2 ?? ??")

	data := make([]byte, 1<<20)
	for i := range data {
		data[i] = byte(i % 251)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sig.Find(data)
	}
}
