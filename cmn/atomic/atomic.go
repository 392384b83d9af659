// Package atomic provides thin, allocation-free wrappers over sync/atomic,
// used throughout for reference counts, pending-put tallies, and image
// status bits.
/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package atomic

import "sync/atomic"

type Int32 struct{ v int32 }

func (a *Int32) Load() int32        { return atomic.LoadInt32(&a.v) }
func (a *Int32) Store(val int32)    { atomic.StoreInt32(&a.v, val) }
func (a *Int32) Inc() int32         { return atomic.AddInt32(&a.v, 1) }
func (a *Int32) Dec() int32         { return atomic.AddInt32(&a.v, -1) }
func (a *Int32) Add(delta int32) int32 { return atomic.AddInt32(&a.v, delta) }
func (a *Int32) CAS(old, new int32) bool {
	return atomic.CompareAndSwapInt32(&a.v, old, new)
}

type Int64 struct{ v int64 }

func (a *Int64) Load() int64           { return atomic.LoadInt64(&a.v) }
func (a *Int64) Store(val int64)       { atomic.StoreInt64(&a.v, val) }
func (a *Int64) Inc() int64            { return atomic.AddInt64(&a.v, 1) }
func (a *Int64) Dec() int64            { return atomic.AddInt64(&a.v, -1) }
func (a *Int64) Add(delta int64) int64 { return atomic.AddInt64(&a.v, delta) }

type Bool struct{ v int32 }

func (a *Bool) Load() bool { return atomic.LoadInt32(&a.v) != 0 }
func (a *Bool) Store(val bool) {
	if val {
		atomic.StoreInt32(&a.v, 1)
	} else {
		atomic.StoreInt32(&a.v, 0)
	}
}

// CAS atomically sets the bool to val if its current value is old; returns
// whether the swap happened. (collective.Lock spins on the window's
// CompareAndSwapInt32, not on this.)
func (a *Bool) CAS(old, val bool) bool {
	var o, n int32
	if old {
		o = 1
	}
	if val {
		n = 1
	}
	return atomic.CompareAndSwapInt32(&a.v, o, n)
}
