package memorypatch

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Patch durably replaces len(data) bytes at addr. The protection of every
// page in the range is recorded, made writable, and restored before Patch
// returns, whatever the outcome. Unmapped destinations fail before any
// protection change or write.
func Patch(mem Memory, addr Address, data []byte) (err error) {
	if len(data) == 0 {
		return nil
	}

	restore, err := Unprotect(mem, addr, len(data))
	if err != nil {
		return err
	}
	defer func() {
		if rerr := restore(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	if err := mem.Write(addr, data); err != nil {
		return &WriteError{Addr: addr, Size: len(data), Op: "write", Err: err}
	}

	if err := mem.FlushInstructionCache(addr, len(data)); err != nil {
		return &WriteError{Addr: addr, Size: len(data), Op: "flush", Err: err}
	}
	return nil
}

// Unprotect makes every page of [addr, addr+size) writable and returns a
// function putting back the protection each had. On error nothing is left
// changed.
func Unprotect(mem Memory, addr Address, size int) (restore func() error, err error) {
	regions, err := coveringRegions(mem, addr, size)
	if err != nil {
		return nil, &WriteError{Addr: addr, Size: size, Op: "query", Err: err}
	}

	changed := make([]Region, 0, len(regions))
	restore = func() error {
		var first error
		for _, r := range changed {
			if err := mem.Protect(r.Base, int(r.Size), r.Protect); err != nil && first == nil {
				first = &WriteError{Addr: addr, Size: size, Op: "restore protection", Err: err}
			}
		}
		return first
	}

	for _, r := range regions {
		if err := mem.Protect(r.Base, int(r.Size), r.Protect.Writable()); err != nil {
			werr := &WriteError{Addr: addr, Size: size, Op: "unprotect", Err: err}
			if rerr := restore(); rerr != nil {
				return nil, errors.Join(werr, rerr)
			}
			return nil, werr
		}
		changed = append(changed, r)
	}
	return restore, nil
}

// coveringRegions returns the regions overlapping [addr, addr+size),
// clipped to that range.
func coveringRegions(r Reader, addr Address, size int) ([]Region, error) {
	var regions []Region
	end := addr.Add(size)
	for cur := addr; cur < end; {
		region, err := r.Query(cur)
		if err != nil {
			return nil, err
		}
		if !region.Mapped || region.Size == 0 {
			return nil, fmt.Errorf("%s: %w", cur, ErrUnmapped)
		}

		clipEnd := region.End()
		if clipEnd > end {
			clipEnd = end
		}
		regions = append(regions, Region{
			Base:    cur,
			Size:    uint64(clipEnd - cur),
			Protect: region.Protect,
			Mapped:  true,
		})
		cur = clipEnd
	}
	return regions, nil
}

// Value is a fixed-width value that can be written over target memory
type Value interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

// WriteValue writes v at addr in little-endian byte order through Patch
func WriteValue[T Value](mem Memory, addr Address, v T) error {
	return Patch(mem, addr, encodeValue(v))
}

// ReadValue reads a little-endian value at addr
func ReadValue[T Value](r Reader, addr Address) (T, error) {
	var zero T
	buf := make([]byte, binary.Size(zero))
	if err := r.Read(addr, buf); err != nil {
		return zero, err
	}
	return decodeValue[T](buf), nil
}

func encodeValue[T Value](v T) []byte {
	buf, err := binary.Append(nil, binary.LittleEndian, v)
	if err != nil {
		// every Value has a fixed size
		panic(errors.Join(errors.New("encode value"), err))
	}
	return buf
}

func decodeValue[T Value](buf []byte) T {
	var v T
	if _, err := binary.Decode(buf, binary.LittleEndian, &v); err != nil {
		panic(errors.Join(errors.New("decode value"), err))
	}
	return v
}
