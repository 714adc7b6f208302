package memorypatch

// Reader gives read access to an address space.
type Reader interface {
	// Query describes the region containing addr. Unmapped space is
	// reported as a region with Mapped set to false, not as an error.
	Query(addr Address) (Region, error)
	// Read copies len(buf) bytes starting at addr.
	Read(addr Address, buf []byte) error
}

// Viewer is implemented by readers that can expose memory in place.
type Viewer interface {
	View(addr Address, size int) ([]byte, bool)
}

// Memory is a writable address space with page protection control.
type Memory interface {
	Reader
	// Protect sets the protection of the pages covering [addr, addr+size).
	Protect(addr Address, size int, prot Protection) error
	// Write stores data at addr without touching protection. Writes for
	// which SingleStore holds are performed as one store.
	Write(addr Address, data []byte) error
	FlushInstructionCache(addr Address, size int) error
	// Alloc returns executable, writable memory. When near is non-zero the
	// allocation is placed within a 32-bit displacement of it if possible.
	Alloc(near Address, size int) (Address, error)
	Free(addr Address, size int) error
	PageSize() int
}

// readRange checks that [addr, addr+size) is covered by readable regions.
func readRange(r Reader, addr Address, size int) error {
	end := addr.Add(size)
	for cur := addr; cur < end; {
		region, err := r.Query(cur)
		if err != nil {
			return err
		}
		if !region.Readable() || region.Size == 0 {
			return ErrUnmapped
		}
		cur = region.End()
	}
	return nil
}
