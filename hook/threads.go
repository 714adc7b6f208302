package hook

// Threads stops the other threads of the hooked process while the head of a
// site is rewritten.
type Threads interface {
	// Freeze suspends every other thread. thaw resumes them, after passing
	// each suspended instruction pointer to move when commit is set and
	// replacing it when move reports true. Nothing may allocate between
	// Freeze and thaw.
	Freeze(move func(ip uint64) (uint64, bool)) (thaw func(commit bool) error, err error)
}

// toStub moves an instruction pointer stopped between two displaced
// instructions to the same instruction in the stub. A thread at the site
// itself stays, it takes the jump.
func (s *Site) toStub(ip uint64) (uint64, bool) {
	for _, m := range s.moves[1:] {
		if ip == uint64(m.site) {
			return uint64(m.stub), true
		}
	}
	return ip, false
}

// toSite moves an instruction pointer stopped on a relocated instruction
// back to the original one.
func (s *Site) toSite(ip uint64) (uint64, bool) {
	for _, m := range s.moves {
		if ip == uint64(m.stub) {
			return uint64(m.site), true
		}
	}
	return ip, false
}
