/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package caf

import (
	"math/rand"
	"os"
	"time"

	"github.com/sourceryinstitute/libcaf-go/cmn/nlog"
)

// osExit is indirected so terminate paths are exercisable from tests
// without actually killing the test binary.
var osExit = os.Exit

// terminateInternal is the one place in this module that calls osExit,
// per spec.md §9's "all fatal paths flow through one helper": it records
// this image's terminal status so every other image's sync_images/lock/
// event_wait observes it, logs msg if given, then exits.
func (img *Image) terminateInternal(code int, failed bool, msg string) {
	if failed {
		img.rt.status.SetFailed(img.id)
	} else {
		img.rt.status.SetStopped(img.id)
	}
	if msg != "" {
		nlog.Errorln(msg)
	}
	osExit(code)
}

// StopNumeric implements stop_numeric(): normal termination with an
// integer stop code.
func (img *Image) StopNumeric(code int) { img.terminateInternal(code, false, "") }

// StopStr implements stop_str(): normal termination, logging msg first.
func (img *Image) StopStr(msg string) { img.terminateInternal(0, false, msg) }

// ErrorStop implements error_stop(): abnormal termination with an integer
// code. Unlike StopNumeric this marks the image failed rather than
// stopped, so other images observe STAT_FAILED_IMAGE instead of
// STAT_STOPPED_IMAGE against it.
func (img *Image) ErrorStop(code int) { img.terminateInternal(code, true, "") }

// ErrorStopStr implements error_stop_str().
func (img *Image) ErrorStopStr(msg string) { img.terminateInternal(1, true, msg) }

// RandomInit implements random_init(): reseeds this image's PRNG.
// repeatable=true reproduces the same sequence across runs; imageDistinct
// additionally varies the seed by image id so a repeatable multi-image
// run still gives each image its own stream instead of a lockstep one.
func (img *Image) RandomInit(repeatable, imageDistinct bool) {
	var seed int64
	if imageDistinct {
		seed = int64(img.id)
	}
	if !repeatable {
		seed ^= time.Now().UnixNano()
	}
	img.rng = rand.New(rand.NewSource(seed))
}
