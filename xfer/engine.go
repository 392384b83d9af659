// Package xfer is the transfer engine (component D): send/get/sendget over
// a token's window, following a four-rung decision ladder from a single
// contiguous Put/Get down to an element-by-element fallback through a
// staging buffer, with numeric and character conversion applied whenever
// the two endpoints' types differ.
/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package xfer

import (
	"github.com/pkg/errors"

	"github.com/sourceryinstitute/libcaf-go/cmn/config"
	"github.com/sourceryinstitute/libcaf-go/descriptor"
	"github.com/sourceryinstitute/libcaf-go/memsys"
	"github.com/sourceryinstitute/libcaf-go/stat"
	"github.com/sourceryinstitute/libcaf-go/token"
	"github.com/sourceryinstitute/libcaf-go/transport"
)

// Engine runs one image's transfers. It implements token.Flusher so a
// Manager's SyncMemory and the sync_all/sync_images/sync_team paths can
// drain it without importing this package.
type Engine struct {
	job     *transport.Job
	imageID int
	mmsa    *memsys.MMSA
	queue   *pendingQueue
}

// NewEngine builds the transfer engine for imageID, bounding its
// non-blocking put backlog at the configured pending-put queue depth.
func NewEngine(job *transport.Job, imageID int, mmsa *memsys.MMSA) *Engine {
	return &Engine{job: job, imageID: imageID, mmsa: mmsa, queue: newPendingQueue(config.Get().PendingPutQueueDepth)}
}

// FlushAll implements token.Flusher.
func (e *Engine) FlushAll() error { return e.queue.FlushAll() }

func sameType(a, b descriptor.TypeTag) bool { return a.Base == b.Base && a.Kind == b.Kind }

// Get copies the data token t describes on image into dst, which is local
// to the caller (dst.Base must be real backing memory). srcShape describes
// how src's elements are laid out in t's window; dst and srcShape must
// address the same element count.
func (e *Engine) Get(t *token.Token, image int, dst *descriptor.Descriptor, srcShape *descriptor.Descriptor, out *stat.Out) error {
	n := descriptor.NumElements(dst)
	if n < 0 || n != descriptor.NumElements(srcShape) {
		return out.Set(stat.InvalidExtent, errors.New("xfer: get: element count mismatch"))
	}
	if image == e.imageID && t.Primary {
		// Ladder step 1: self-image, skip the substrate round trip entirely.
		return e.copyLocal(dst, srcShape, t, out)
	}
	return e.moveFromWindow(t, image, dst, srcShape, n, out)
}

// copyLocal handles the self-image case (ladder step 1): src lives in t's
// own window, which for a primary token on this image is addressable
// directly without going through transport.Get.
func (e *Engine) copyLocal(dst, src *descriptor.Descriptor, t *token.Token, out *stat.Out) error {
	w, err := e.job.Get(t.Image, t.Window, t.Offset, t.Size)
	if err != nil {
		return out.Set(stat.ErrOutOfBounds, err)
	}
	if err := scatter(w, dst, src); err != nil {
		return out.Set(stat.Failure, err)
	}
	out.Ok()
	return nil
}

func (e *Engine) moveFromWindow(t *token.Token, image int, dst, srcShape *descriptor.Descriptor, n int64, out *stat.Out) error {
	dstRuns := mergeRuns(elementOffsets(dst), dst.ElemLen)
	srcRuns := mergeRuns(elementOffsets(srcShape), srcShape.ElemLen)

	switch {
	case len(dstRuns) == 1 && len(srcRuns) == 1:
		// Ladder step 2: one contiguous region on each side.
		blob, err := e.job.Get(image, t.Window, t.Offset+srcRuns[0].offset, n*int64(srcShape.ElemLen))
		if err != nil {
			return out.Set(stat.ErrOutOfBounds, err)
		}
		if err := scatterContiguous(dst.Base[dstRuns[0].offset:], blob, dst.Type, srcShape.Type, n, dst.ElemLen, srcShape.ElemLen); err != nil {
			return out.Set(stat.InvalidType, err)
		}
	case len(dstRuns) == len(srcRuns):
		// Ladder step 3: a run-length list of (offset, length) spans, one
		// Get per span rather than per element.
		if err := e.getRuns(t, image, dst, srcShape, dstRuns, srcRuns); err != nil {
			return out.Set(stat.Failure, err)
		}
	default:
		// Ladder step 4: irregular addressing (e.g. a vector subscript on
		// one side only); stage and convert one element at a time.
		if err := e.getElements(t, image, dst, srcShape); err != nil {
			return out.Set(stat.Failure, err)
		}
	}
	out.Ok()
	return nil
}

func (e *Engine) getRuns(t *token.Token, image int, dst, src *descriptor.Descriptor, dstRuns, srcRuns []run) error {
	for i, sr := range srcRuns {
		dr := dstRuns[i]
		blob, err := e.job.Get(image, t.Window, t.Offset+sr.offset, sr.count*int64(src.ElemLen))
		if err != nil {
			return err
		}
		if err := scatterContiguous(dst.Base[dr.offset:], blob, dst.Type, src.Type, sr.count, dst.ElemLen, src.ElemLen); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) getElements(t *token.Token, image int, dst, src *descriptor.Descriptor) error {
	dstOff := elementOffsets(dst)
	srcOff := elementOffsets(src)
	buf, release := e.mmsa.Stage(int(src.ElemLen))
	defer release()
	for i := range srcOff {
		b, err := e.job.Get(image, t.Window, t.Offset+srcOff[i], int64(src.ElemLen))
		if err != nil {
			return err
		}
		copy(buf, b)
		if err := writeElement(dst.Base[dstOff[i]:], buf[:src.ElemLen], dst.Type, src.Type, dst.ElemLen); err != nil {
			return err
		}
	}
	return nil
}

// Send copies src (local to the caller) into the data token t describes on
// image, blocking until the underlying Put has completed.
func (e *Engine) Send(t *token.Token, image int, dstShape *descriptor.Descriptor, src *descriptor.Descriptor, out *stat.Out) error {
	return e.send(t, image, dstShape, src, true, out)
}

// SendAsync behaves like Send but queues the Put for a later FlushAll
// instead of applying it immediately, per sync_memory's non-blocking-put
// contract.
func (e *Engine) SendAsync(t *token.Token, image int, dstShape *descriptor.Descriptor, src *descriptor.Descriptor, out *stat.Out) error {
	return e.send(t, image, dstShape, src, false, out)
}

func (e *Engine) send(t *token.Token, image int, dstShape, src *descriptor.Descriptor, blocking bool, out *stat.Out) error {
	n := descriptor.NumElements(src)
	if n < 0 || n != descriptor.NumElements(dstShape) {
		return out.Set(stat.InvalidExtent, errors.New("xfer: send: element count mismatch"))
	}
	dstRuns := mergeRuns(elementOffsets(dstShape), dstShape.ElemLen)
	srcRuns := mergeRuns(elementOffsets(src), src.ElemLen)

	do := func() error {
		switch {
		case len(dstRuns) == 1 && len(srcRuns) == 1:
			blob, err := gatherRange(src, srcRuns[0].offset, srcRuns[0].count, dstShape.Type, dstShape.ElemLen)
			if err != nil {
				return err
			}
			return e.job.Put(image, t.Window, t.Offset+dstRuns[0].offset, blob)
		case len(dstRuns) == len(srcRuns):
			return e.putRuns(t, image, dstShape, src, dstRuns, srcRuns)
		default:
			return e.putElements(t, image, dstShape, src)
		}
	}

	if blocking {
		if err := do(); err != nil {
			return out.Set(stat.Failure, err)
		}
		out.Ok()
		return nil
	}
	key := pendingKey{window: uint64(t.Window), image: image}
	if err := e.queue.enqueue(key, n*int64(dstShape.ElemLen), do); err != nil {
		return out.Set(stat.Failure, err)
	}
	out.Ok()
	return nil
}

func (e *Engine) putRuns(t *token.Token, image int, dst, src *descriptor.Descriptor, dstRuns, srcRuns []run) error {
	for i, sr := range srcRuns {
		dr := dstRuns[i]
		blob, err := gatherRange(src, sr.offset, sr.count, dst.Type, dst.ElemLen)
		if err != nil {
			return err
		}
		if err := e.job.Put(image, t.Window, t.Offset+dr.offset, blob); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) putElements(t *token.Token, image int, dst, src *descriptor.Descriptor) error {
	dstOff := elementOffsets(dst)
	srcOff := elementOffsets(src)
	for i := range srcOff {
		elem, err := convertElement(src.Base[srcOff[i]:srcOff[i]+int64(src.ElemLen)], src.Type, dst.Type, dst.ElemLen)
		if err != nil {
			return err
		}
		if err := e.job.Put(image, t.Window, t.Offset+dstOff[i], elem); err != nil {
			return err
		}
	}
	return nil
}

// SendGet copies data from srcToken on srcImage to dstToken on dstImage
// without ever materializing the full transfer in the caller's own memory,
// routing through a single staged element buffer at a time (the same
// element-by-element path Get/Send fall back to, applied across two
// windows instead of one).
func (e *Engine) SendGet(dstTok *token.Token, dstImage int, dstShape *descriptor.Descriptor, srcTok *token.Token, srcImage int, srcShape *descriptor.Descriptor, out *stat.Out) error {
	n := descriptor.NumElements(dstShape)
	if n < 0 || n != descriptor.NumElements(srcShape) {
		return out.Set(stat.InvalidExtent, errors.New("xfer: sendget: element count mismatch"))
	}
	dstOff := elementOffsets(dstShape)
	srcOff := elementOffsets(srcShape)
	for i := range srcOff {
		b, err := e.job.Get(srcImage, srcTok.Window, srcTok.Offset+srcOff[i], int64(srcShape.ElemLen))
		if err != nil {
			return out.Set(stat.ErrOutOfBounds, err)
		}
		elem, err := convertElement(b, srcShape.Type, dstShape.Type, dstShape.ElemLen)
		if err != nil {
			return out.Set(stat.InvalidType, err)
		}
		if err := e.job.Put(dstImage, dstTok.Window, dstTok.Offset+dstOff[i], elem); err != nil {
			return out.Set(stat.ErrOutOfBounds, err)
		}
	}
	out.Ok()
	return nil
}
