package memorypatch

import (
	"errors"
	"fmt"
	"log/slog"
)

// Scanner searches the image of one module for signatures
type Scanner struct {
	reader Reader
	module Module
	logger *slog.Logger
}

// NewScanner creates a scanner over the extent of module m read through r.
// A nil logger uses slog.Default().
func NewScanner(r Reader, m Module, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{reader: r, module: m, logger: logger}
}

// Module returns the module being scanned
func (s *Scanner) Module() Module {
	return s.module
}

// Scan returns the first match of pattern in the module. Absence is
// reported as ErrNotFound.
func (s *Scanner) Scan(pattern string) (Match, error) {
	sig, err := ParseSignature(pattern)
	if err != nil {
		return Match{}, err
	}
	return s.ScanSignature(sig)
}

// ScanAny tries each pattern in order and returns the first that matches
// together with its index in patterns.
func (s *Scanner) ScanAny(patterns ...string) (Match, int, error) {
	for i, pattern := range patterns {
		match, err := s.Scan(pattern)
		if err == nil {
			return match, i, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Match{}, i, err
		}
	}
	return Match{}, -1, ErrNotFound
}

// ScanSignature returns the first match of sig in the module
func (s *Scanner) ScanSignature(sig *Signature) (Match, error) {
	var found Match
	err := s.walk(sig, func(m Match) bool {
		found = m
		return false
	})
	if err != nil {
		return Match{}, err
	}
	if found.Data == nil {
		s.logger.Debug("signature not found", slog.String("pattern", sig.String()))
		return Match{}, ErrNotFound
	}
	s.logger.Debug("signature matched",
		slog.String("pattern", sig.String()),
		slog.String("address", s.module.Format(found.Address)))
	return found, nil
}

// FindAll returns every match of sig in the module in address order
func (s *Scanner) FindAll(sig *Signature) ([]Match, error) {
	var matches []Match
	err := s.walk(sig, func(m Match) bool {
		matches = append(matches, m)
		return true
	})
	return matches, err
}

// span is a run of contiguous readable memory inside the module
type span struct {
	base Address
	size uint64
}

// spans splits the module into readable runs, merging adjacent regions
func (s *Scanner) spans() ([]span, error) {
	var out []span
	end := s.module.End()

	for address := s.module.Base; address < end; {
		region, err := s.reader.Query(address)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", address, err)
		}

		regionEnd := region.End()
		if regionEnd <= address {
			// a zero-sized region would stall the walk
			regionEnd = address + 0x1000
		}
		if regionEnd > end {
			regionEnd = end
		}

		if region.Readable() {
			if n := len(out); n > 0 && out[n-1].base+Address(out[n-1].size) == address {
				out[n-1].size += uint64(regionEnd - address)
			} else {
				out = append(out, span{base: address, size: uint64(regionEnd - address)})
			}
		}

		address = regionEnd
	}
	return out, nil
}

// walk reports matches in address order until handler returns false
func (s *Scanner) walk(sig *Signature, handler func(Match) bool) error {
	spans, err := s.spans()
	if err != nil {
		return err
	}

	for _, sp := range spans {
		data, err := s.load(sp)
		if err != nil {
			s.logger.Debug("skipping unreadable span",
				slog.String("address", sp.base.String()), slog.Any("error", err))
			continue
		}

		for pos := sig.findFrom(data, 0); pos >= 0; pos = sig.findFrom(data, pos+1) {
			matchedData := make([]byte, sig.Len())
			copy(matchedData, data[pos:pos+sig.Len()])

			if !handler(Match{Address: sp.base.Add(pos), Data: matchedData}) {
				return nil
			}
		}
	}
	return nil
}

// load exposes a span in place when the reader allows it, or copies it
func (s *Scanner) load(sp span) ([]byte, error) {
	if v, ok := s.reader.(Viewer); ok {
		if data, ok := v.View(sp.base, int(sp.size)); ok {
			return data, nil
		}
	}
	buffer := make([]byte, sp.size)
	if err := s.reader.Read(sp.base, buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}
