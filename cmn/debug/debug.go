// Package debug provides assertions for runtime invariants. They are always
// compiled in; no build tag removes them.
/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package debug

import (
	"fmt"

	"github.com/sourceryinstitute/libcaf-go/cmn/nlog"
)

// Assert panics with the failed condition's location when cond is false.
// Used at invariant boundaries (descriptor stride invariants, token
// lifetime, accessor table state) where a violation means a bug in this
// runtime, not a user error reportable via `stat`.
func Assert(cond bool, args ...any) {
	if !cond {
		nlog.Errorln("assertion failed:", fmt.Sprint(args...))
		panic(fmt.Sprintf("assertion failed: %v", args))
	}
}

// Assertf is Assert with a format string.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		msg := fmt.Sprintf(format, args...)
		nlog.Errorln("assertion failed:", msg)
		panic("assertion failed: " + msg)
	}
}

// AssertNoErr panics on a non-nil err that the caller has already decided
// cannot legitimately occur (e.g. a freshly allocated buffer failing to
// parse its own header).
func AssertNoErr(err error) {
	if err != nil {
		nlog.Errorln("unexpected error:", err)
		panic(err)
	}
}
