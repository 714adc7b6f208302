package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Binject/debug/pe"

	"github.com/zhuweiyou/memorypatch"
)

// loadImage maps the headers and sections of a PE file at its preferred
// base, the way the loader would.
func loadImage(path string) (*memorypatch.Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := pe.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	defer f.Close()

	var base uint64
	var headers uint32
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		base, headers = uint64(oh.ImageBase), oh.SizeOfHeaders
	case *pe.OptionalHeader64:
		base, headers = oh.ImageBase, oh.SizeOfHeaders
	default:
		return nil, fmt.Errorf("%s has no optional header", path)
	}

	sections := []memorypatch.Section{{
		Name: "headers",
		Data: raw[:min(int(headers), len(raw))],
	}}
	for _, s := range f.Sections {
		data, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("failed to read section %s: %w", s.Name, err)
		}
		// raw data is padded to the file alignment or shorter than the
		// mapped size when the section ends in zeros
		size := int(s.VirtualSize)
		if size == 0 {
			size = len(data)
		}
		mapped := make([]byte, size)
		copy(mapped, data)
		sections = append(sections, memorypatch.Section{
			Name:   s.Name,
			Offset: uint64(s.VirtualAddress),
			Data:   mapped,
		})
	}
	return memorypatch.NewImage(filepath.Base(path), memorypatch.Address(base), sections)
}
