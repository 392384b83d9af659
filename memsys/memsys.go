// Package memsys provides the staging-buffer slab allocator used by the
// transfer engine's element-by-element fallback: a staging buffer of
// alloca-sized capacity, spilling to heap when alloca-scale sizing fails.
// Real alloca is not available to portable Go; a small fixed-size slab
// pool serves the same purpose — bounded, reusable stack-like buffers for
// the common case, with a plain heap allocation above the largest slab
// size class.
/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package memsys

import "sync"

// Size classes follow a 4K/32K/128K style tiering, trimmed to what the
// transfer engine's staging buffer actually needs.
const (
	SmallSlabSize = 4 * 1024
	MaxPageSlabSize = 128 * 1024
)

// Slab is one fixed-size free list.
type Slab struct {
	size int
	pool sync.Pool
}

func newSlab(size int) *Slab {
	s := &Slab{size: size}
	s.pool.New = func() any { return make([]byte, s.size) }
	return s
}

func (s *Slab) Size() int { return s.size }

func (s *Slab) Alloc() []byte {
	return s.pool.Get().([]byte)
}

func (s *Slab) Free(b []byte) {
	if cap(b) != s.size {
		return // heap-spilled buffer; nothing to return to the pool
	}
	s.pool.Put(b[:s.size]) //nolint:staticcheck
}

// MMSA (memory-management slab arena) is the process-wide set of slabs.
type MMSA struct {
	slabs []*Slab
}

// NewMMSA builds an arena with size classes 4K, 32K, and 128K.
func NewMMSA() *MMSA {
	return &MMSA{slabs: []*Slab{
		newSlab(SmallSlabSize),
		newSlab(32 * 1024),
		newSlab(MaxPageSlabSize),
	}}
}

// GetSlab returns the smallest size class >= size, or the largest class
// with ok=false when size exceeds every class (the "spill to heap" case;
// the caller then makes a one-off []byte instead of calling Alloc).
func (m *MMSA) GetSlab(size int) (*Slab, bool) {
	for _, s := range m.slabs {
		if s.size >= size {
			return s, true
		}
	}
	return m.slabs[len(m.slabs)-1], false
}

// Stage returns a buffer of at least n bytes: a pooled slab buffer when n
// fits a size class, otherwise a fresh heap allocation. The returned
// release func must be called exactly once; it is a no-op for heap-spilled
// buffers.
func (m *MMSA) Stage(n int) (buf []byte, release func()) {
	slab, ok := m.GetSlab(n)
	if !ok {
		return make([]byte, n), func() {}
	}
	b := slab.Alloc()
	return b[:n], func() { slab.Free(b) }
}
