package memorypatch

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Signature is a parsed AOB (Array of Bytes) pattern. Wildcard positions
// match any byte.
type Signature struct {
	text          string
	patternBytes  []byte
	wildcardMask  []bool
	patternLength int
	// anchor is the first non-wildcard index, used to skip quickly
	anchor int
}

// ParseSignature parses a pattern such as "D9 ?? ?? ?? 85 C0".
// Both "??" and "?" are accepted as wildcards.
func ParseSignature(pattern string) (*Signature, error) {
	parts := strings.Fields(pattern)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}

	patternBytes := make([]byte, len(parts))
	wildcardMask := make([]bool, len(parts))
	anchor := -1

	for i, part := range parts {
		if part == "??" || part == "?" {
			wildcardMask[i] = true
			continue
		}
		decoded, err := hex.DecodeString(part)
		if err != nil || len(decoded) != 1 {
			return nil, fmt.Errorf("%w: bad token %q", ErrInvalidPattern, part)
		}
		patternBytes[i] = decoded[0]
		if anchor < 0 {
			anchor = i
		}
	}

	if anchor < 0 {
		return nil, fmt.Errorf("%w: %q has no fixed bytes", ErrInvalidPattern, pattern)
	}

	return &Signature{
		text:          strings.Join(parts, " "),
		patternBytes:  patternBytes,
		wildcardMask:  wildcardMask,
		patternLength: len(parts),
		anchor:        anchor,
	}, nil
}

// MustParseSignature is like ParseSignature but panics on error.
// It is meant for signature tables compiled into the binary.
func MustParseSignature(pattern string) *Signature {
	sig, err := ParseSignature(pattern)
	if err != nil {
		panic(err)
	}
	return sig
}

// String returns the normalized pattern text
func (s *Signature) String() string {
	return s.text
}

// Len returns the length of the signature in bytes
func (s *Signature) Len() int {
	return s.patternLength
}

// Find returns the offset of the first match in data, or -1
func (s *Signature) Find(data []byte) int {
	return s.findFrom(data, 0)
}

// FindAll finds all occurrences of the signature in the given data
func (s *Signature) FindAll(data []byte) []int {
	var matches []int
	for pos := s.findFrom(data, 0); pos >= 0; pos = s.findFrom(data, pos+1) {
		matches = append(matches, pos)
	}
	return matches
}

func (s *Signature) findFrom(data []byte, start int) int {
	last := len(data) - s.patternLength
	if start < 0 || last < start {
		return -1
	}

	first := s.patternBytes[s.anchor]
	for i := start; i <= last; i++ {
		if data[i+s.anchor] != first {
			continue
		}
		if s.matchesAt(data, i) {
			return i
		}
	}
	return -1
}

// matchesAt checks if the signature matches at the given position
func (s *Signature) matchesAt(data []byte, pos int) bool {
	for j := 0; j < s.patternLength; j++ {
		if s.wildcardMask[j] {
			continue
		}
		if data[pos+j] != s.patternBytes[j] {
			return false
		}
	}
	return true
}
