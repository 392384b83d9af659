// Package nlog is the runtime's leveled logger: one place where every
// component writes diagnostics, so that fatal-path reporting (see cmn/debug
// and the caf package) and ordinary progress logging share the same sink.
/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package nlog

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
)

type Level int32

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

var (
	level  atomic.Int32
	mu     sync.Mutex
	logger = log.New(os.Stderr, "", log.Ldate|log.Lmicroseconds)
)

func init() { level.Store(int32(LevelInfo)) }

// SetLevel adjusts the process-wide verbosity, which is LevelInfo until a
// caller changes it (nothing in this module does); the level is only ever
// changed through this atomic.
func SetLevel(l Level) { level.Store(int32(l)) }

func enabled(l Level) bool { return Level(level.Load()) >= l }

func output(prefix, s string) {
	mu.Lock()
	logger.Output(3, prefix+s) //nolint:errcheck
	mu.Unlock()
}

func Infof(format string, args ...any) {
	if enabled(LevelInfo) {
		output("I ", fmt.Sprintf(format, args...))
	}
}

func Infoln(args ...any) {
	if enabled(LevelInfo) {
		output("I ", fmt.Sprintln(args...))
	}
}

func Warningf(format string, args ...any) {
	if enabled(LevelWarn) {
		output("W ", fmt.Sprintf(format, args...))
	}
}

func Errorf(format string, args ...any) {
	if enabled(LevelError) {
		output("E ", fmt.Sprintf(format, args...))
	}
}

func Errorln(args ...any) {
	if enabled(LevelError) {
		output("E ", fmt.Sprintln(args...))
	}
}

// Fatalf reports an unrecoverable condition and exits. Callers that can
// surface a `stat` instead must never reach this; see cmn/debug.Assert
// and the caf package's terminateInternal, which is the only other caller
// of os.Exit in this module.
func Fatalf(format string, args ...any) {
	output("F ", fmt.Sprintf(format, args...))
	os.Exit(1)
}
