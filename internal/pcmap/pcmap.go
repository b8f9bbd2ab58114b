// Package pcmap implements the host->guest program-counter map: populated
// by the external JIT as it emits code, read concurrently by the PC
// Writer while resolving TIP/FUP targets.
package pcmap

import "sync"

// Map is a reader-writer-locked host PC -> guest PC map. A single
// external installer writes to it; the PC Writer(s) read from it. Per
// spec.md's design note, a plain RWMutex is adequate since there is at
// most one writer at a time (serialized through the control-ABI mutex one
// layer up) and readers vastly outnumber writers.
type Map struct {
	mu sync.RWMutex
	m  map[uint64]uint64
}

// New constructs an empty Map.
func New() *Map {
	return &Map{m: make(map[uint64]uint64)}
}

// Insert records that hostPC maps to guestPC. Keys are expected unique;
// a repeated insert overwrites the prior value.
func (p *Map) Insert(hostPC, guestPC uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[hostPC] = guestPC
}

// Lookup returns the guest PC mapped to hostPC, if any.
func (p *Map) Lookup(hostPC uint64) (uint64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.m[hostPC]
	return v, ok
}

// Len reports the number of mappings currently installed.
func (p *Map) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.m)
}
