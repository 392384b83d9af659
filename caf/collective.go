/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package caf

import (
	"github.com/sourceryinstitute/libcaf-go/collective"
	"github.com/sourceryinstitute/libcaf-go/descriptor"
	"github.com/sourceryinstitute/libcaf-go/stat"
	"github.com/sourceryinstitute/libcaf-go/team"
	"github.com/sourceryinstitute/libcaf-go/transport"
)

// SyncAll implements sync_all().
func (img *Image) SyncAll(out *stat.Out) error {
	return img.rt.coord.SyncAll(img.id, img.engine, out)
}

// SyncImages implements sync_images().
func (img *Image) SyncImages(peers []int, out *stat.Out) error {
	return img.rt.coord.SyncImages(img.id, peers, img.engine, out)
}

// CoBroadcast implements co_broadcast().
func (img *Image) CoBroadcast(comm *team.Communicator, a *descriptor.Descriptor, sourceImage int, out *stat.Out) error {
	return img.rt.coord.CoBroadcast(comm, img.id, a, sourceImage, out)
}

// CoReduce implements co_reduce() with a built-in operator.
func (img *Image) CoReduce(comm *team.Communicator, a *descriptor.Descriptor, resultImage int, op collective.ReduceOp, out *stat.Out) error {
	return img.rt.coord.CoReduce(comm, img.id, a, resultImage, op, out)
}

// CoReduceUser implements co_reduce() with a caller-supplied operator.
func (img *Image) CoReduceUser(comm *team.Communicator, a *descriptor.Descriptor, resultImage int, fn collective.UserOp, out *stat.Out) error {
	return img.rt.coord.CoReduceUser(comm, img.id, a, resultImage, fn, out)
}

// CoSum, CoMin, and CoMax implement the three built-in reductions.
func (img *Image) CoSum(comm *team.Communicator, a *descriptor.Descriptor, resultImage int, out *stat.Out) error {
	return img.rt.coord.CoSum(comm, img.id, a, resultImage, out)
}

func (img *Image) CoMin(comm *team.Communicator, a *descriptor.Descriptor, resultImage int, out *stat.Out) error {
	return img.rt.coord.CoMin(comm, img.id, a, resultImage, out)
}

func (img *Image) CoMax(comm *team.Communicator, a *descriptor.Descriptor, resultImage int, out *stat.Out) error {
	return img.rt.coord.CoMax(comm, img.id, a, resultImage, out)
}

// Lock and Unlock implement lock()/unlock() against image's window h at
// offset, failing fast against this runtime's shared image-status table.
func (img *Image) Lock(image int, h transport.Handle, offset int64, out *stat.Out) error {
	return collective.Lock(img.rt.job, image, h, offset, img.rt.status, out)
}

func (img *Image) Unlock(image int, h transport.Handle, offset int64, out *stat.Out) error {
	return collective.Unlock(img.rt.job, image, h, offset, out)
}

// EventPost, EventWait, and EventQuery implement event_post/wait/query().
func (img *Image) EventPost(image int, h transport.Handle, offset int64, out *stat.Out) error {
	return collective.EventPost(img.rt.job, image, h, offset, out)
}

func (img *Image) EventWait(image int, h transport.Handle, offset int64, untilCount int32, out *stat.Out) error {
	return collective.EventWait(img.rt.job, image, h, offset, untilCount, img.rt.status, out)
}

func (img *Image) EventQuery(image int, h transport.Handle, offset int64, out *stat.Out) (int32, error) {
	return collective.EventQuery(img.rt.job, image, h, offset, out)
}

// AtomicDefine, AtomicRef, AtomicCas, and AtomicOp implement
// atomic_define/ref/cas/op().
func (img *Image) AtomicDefine(image int, h transport.Handle, offset int64, value int32, out *stat.Out) error {
	return collective.AtomicDefine(img.rt.job, image, h, offset, value, out)
}

func (img *Image) AtomicRef(image int, h transport.Handle, offset int64, out *stat.Out) (int32, error) {
	return collective.AtomicRef(img.rt.job, image, h, offset, out)
}

func (img *Image) AtomicCas(image int, h transport.Handle, offset int64, old, new int32, out *stat.Out) (bool, error) {
	return collective.AtomicCas(img.rt.job, image, h, offset, old, new, out)
}

func (img *Image) AtomicOp(image int, h transport.Handle, offset int64, kind collective.AtomicOpKind, operand int32, out *stat.Out) (int32, error) {
	return collective.AtomicOp(img.rt.job, image, h, offset, kind, operand, out)
}
