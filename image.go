package memorypatch

import (
	"fmt"
	"sort"
	"sync"
)

// Section is one mapped piece of an on-disk image.
type Section struct {
	Name string
	// Offset is the section's address relative to the image base
	Offset uint64
	Data   []byte

	prot Protection
}

func (s Section) end() uint64 {
	return s.Offset + uint64(len(s.Data))
}

// Image is an address space built from the sections of an executable file,
// laid out as the loader would map them. Sections start read-only. Writes
// honor protection, and allocations become new sections past the image, so
// patches and hooks can be rehearsed against a file.
type Image struct {
	module Module

	mu       sync.RWMutex
	sections []Section
	allocs   int
}

// NewImage lays sections out at base. Overlapping sections are rejected.
func NewImage(name string, base Address, sections []Section) (*Image, error) {
	sorted := make([]Section, len(sections))
	copy(sorted, sections)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	var size uint64
	for i := range sorted {
		s := &sorted[i]
		if i > 0 {
			prev := sorted[i-1]
			if prev.end() > s.Offset {
				return nil, fmt.Errorf("section %s overlaps %s", s.Name, prev.Name)
			}
		}
		s.prot = ProtectReadOnly
		size = max(size, s.end())
	}

	return &Image{
		module:   Module{Name: name, Base: base, Size: size},
		sections: sorted,
	}, nil
}

// Module returns the extent covered by the file's sections
func (img *Image) Module() Module {
	return img.module
}

func (img *Image) section(addr Address) (int, bool) {
	if addr < img.module.Base {
		return 0, false
	}
	off := uint64(addr - img.module.Base)
	i := sort.Search(len(img.sections), func(i int) bool {
		return img.sections[i].end() > off
	})
	if i < len(img.sections) && img.sections[i].Offset <= off {
		return i, true
	}
	return i, false
}

func (img *Image) Query(addr Address) (Region, error) {
	img.mu.RLock()
	defer img.mu.RUnlock()

	i, ok := img.section(addr)
	if ok {
		s := img.sections[i]
		return Region{
			Base:    img.module.Base + Address(s.Offset),
			Size:    uint64(len(s.Data)),
			Protect: s.prot,
			Mapped:  true,
		}, nil
	}

	// a gap up to the next section, or the rest of the address space
	end := ^Address(0)
	if i < len(img.sections) {
		end = img.module.Base + Address(img.sections[i].Offset)
	}
	return Region{Base: addr, Size: uint64(end - addr)}, nil
}

func (img *Image) View(addr Address, size int) ([]byte, bool) {
	img.mu.RLock()
	defer img.mu.RUnlock()

	i, ok := img.section(addr)
	if !ok || size < 0 {
		return nil, false
	}
	s := img.sections[i]
	start := uint64(addr-img.module.Base) - s.Offset
	if start+uint64(size) > uint64(len(s.Data)) {
		return nil, false
	}
	return s.Data[start : start+uint64(size)], true
}

func (img *Image) Read(addr Address, buf []byte) error {
	img.mu.RLock()
	defer img.mu.RUnlock()

	// reads may span adjacent sections
	for done := 0; done < len(buf); {
		cur := addr.Add(done)
		i, ok := img.section(cur)
		if !ok {
			return fmt.Errorf("read %s: %w", cur, ErrUnmapped)
		}
		s := img.sections[i]
		start := uint64(cur-img.module.Base) - s.Offset
		done += copy(buf[done:], s.Data[start:])
	}
	return nil
}

// Protect changes the protection of every section touching the range.
func (img *Image) Protect(addr Address, size int, prot Protection) error {
	img.mu.Lock()
	defer img.mu.Unlock()

	for cur, end := addr, addr.Add(size); cur < end; {
		i, ok := img.section(cur)
		if !ok {
			return fmt.Errorf("protect %s: %w", cur, ErrUnmapped)
		}
		img.sections[i].prot = prot
		cur = img.module.Base + Address(img.sections[i].end())
	}
	return nil
}

// Write copies data into the sections, failing before any change when a
// destination section is unmapped or not writable.
func (img *Image) Write(addr Address, data []byte) error {
	img.mu.Lock()
	defer img.mu.Unlock()

	for cur, end := addr, addr.Add(len(data)); cur < end; {
		i, ok := img.section(cur)
		if !ok {
			return fmt.Errorf("write %s: %w", cur, ErrUnmapped)
		}
		s := img.sections[i]
		if s.prot.Writable() != s.prot {
			return fmt.Errorf("write %s in %s: %w", cur, s.Name, ErrReadOnly)
		}
		cur = img.module.Base + Address(s.end())
	}
	for done := 0; done < len(data); {
		cur := addr.Add(done)
		i, _ := img.section(cur)
		s := img.sections[i]
		start := uint64(cur-img.module.Base) - s.Offset
		done += copy(s.Data[start:], data[done:])
	}
	return nil
}

func (img *Image) FlushInstructionCache(addr Address, size int) error {
	return nil
}

// allocAlign matches the allocation granularity of Windows.
const allocAlign = 0x10000

// Alloc adds a writable section after every existing one, which keeps it
// within a 32-bit displacement of the image.
func (img *Image) Alloc(near Address, size int) (Address, error) {
	if size <= 0 {
		return 0, fmt.Errorf("invalid allocation size %d", size)
	}
	img.mu.Lock()
	defer img.mu.Unlock()

	var end uint64
	if n := len(img.sections); n > 0 {
		end = img.sections[n-1].end()
	}
	off := (end + allocAlign) &^ (allocAlign - 1)
	img.allocs++
	img.sections = append(img.sections, Section{
		Name:   fmt.Sprintf(".alloc%d", img.allocs),
		Offset: off,
		Data:   make([]byte, size),
		prot:   ProtectReadOnly.Writable(),
	})
	addr := img.module.Base + Address(off)
	if near != 0 && !nearEnough(addr, near) {
		return addr, fmt.Errorf("allocation %s is not near %s", addr, near)
	}
	return addr, nil
}

// Free removes a section added by Alloc.
func (img *Image) Free(addr Address, size int) error {
	img.mu.Lock()
	defer img.mu.Unlock()

	i, ok := img.section(addr)
	if !ok || img.module.Base+Address(img.sections[i].Offset) != addr || img.sections[i].Offset < img.module.Size {
		return fmt.Errorf("free %s: not an allocation", addr)
	}
	img.sections = append(img.sections[:i], img.sections[i+1:]...)
	return nil
}

func (img *Image) PageSize() int {
	return 0x1000
}

var _ Memory = (*Image)(nil)
