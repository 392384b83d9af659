// Package mono provides monotonic timing for spin/backoff loops (lock
// acquisition, event wait) so wall-clock adjustments
// never perturb them.
/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds since an arbitrary, process-local epoch.
// Only ever compared against other NanoTime() values.
func NanoTime() int64 { return time.Since(start).Nanoseconds() }

// Since returns the elapsed duration since a prior NanoTime() reading.
func Since(ts int64) time.Duration { return time.Duration(NanoTime() - ts) }
