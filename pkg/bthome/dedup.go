package bthome

import "sync"

// DuplicateFilter remembers the last accepted frame counter per device.
// A device that has not been seen yet accepts any counter.
type DuplicateFilter struct {
	mu   sync.Mutex
	last map[Address]byte
}

// NewDuplicateFilter creates an empty filter.
func NewDuplicateFilter() *DuplicateFilter {
	return &DuplicateFilter{
		last: make(map[Address]byte),
	}
}

// Accept reports whether counter differs from the last accepted counter of
// addr and, if so, records it as the new last counter.
func (f *DuplicateFilter) Accept(addr Address, counter byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if last, ok := f.last[addr]; ok && last == counter {
		return false
	}
	f.last[addr] = counter
	return true
}

// Last returns the last accepted counter of addr.
func (f *DuplicateFilter) Last(addr Address) (byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	counter, ok := f.last[addr]
	return counter, ok
}

// Forget drops the state of addr, so its next frame is accepted unconditionally.
func (f *DuplicateFilter) Forget(addr Address) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.last, addr)
}
