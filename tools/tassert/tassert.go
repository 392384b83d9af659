// Package tassert provides small test assertion helpers, used across this
// module's unit tests instead of a third-party assertion library.
/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package tassert

import "testing"

func Fatalf(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func Errorf(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Errorf(format, args...)
	}
}

func CheckError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
