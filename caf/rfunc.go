/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package caf

import (
	"github.com/sourceryinstitute/libcaf-go/descriptor"
	"github.com/sourceryinstitute/libcaf-go/rfunc"
)

// RegisterAccessorGetter, RegisterAccessorPredicate, and
// RegisterAccessorReceiver implement register_accessor() for the three
// accessor shapes, against the process-wide table every image shares.
func (rt *Runtime) RegisterAccessorGetter(name string, fn rfunc.GetterFunc) int64 {
	return rt.table.RegisterGetter(name, fn)
}

func (rt *Runtime) RegisterAccessorPredicate(name string, fn rfunc.PredicateFunc) int64 {
	return rt.table.RegisterPredicate(name, fn)
}

func (rt *Runtime) RegisterAccessorReceiver(name string, fn rfunc.ReceiverFunc) int64 {
	return rt.table.RegisterReceiver(name, fn)
}

// RegisterAccessorsFinish implements register_accessors_finish().
func (rt *Runtime) RegisterAccessorsFinish() { rt.table.Finish() }

// GetRemoteFunctionIndex implements get_remote_function_index().
func (rt *Runtime) GetRemoteFunctionIndex(hash int64) (int, bool) { return rt.table.Index(hash) }

// GetFromRemote implements get_from_remote().
func (img *Image) GetFromRemote(image int, hash int64, addData []byte, wantDesc bool) ([]byte, *descriptor.Descriptor, error) {
	return img.rfuncs.GetFromRemote(image, hash, addData, wantDesc)
}

// SendToRemote implements send_to_remote().
func (img *Image) SendToRemote(image int, hash int64, addData, data []byte) error {
	return img.rfuncs.SendToRemote(image, hash, addData, data)
}

// IsPresentOnRemote implements is_present_on_remote() for a caller-defined
// accessor hash (as opposed to Image.IsPresent, which always targets the
// runtime's own built-in per-image presence predicate).
func (img *Image) IsPresentOnRemote(image int, hash int64, addData []byte) (bool, error) {
	return img.rfuncs.IsPresentOnRemote(image, hash, addData)
}

// TransferBetweenRemotes implements transfer_between_remotes().
func (img *Image) TransferBetweenRemotes(src int, srcHash int64, srcAddData []byte, dst int, dstHash int64, dstAddData []byte) error {
	return img.rfuncs.TransferBetweenRemotes(src, srcHash, srcAddData, dst, dstHash, dstAddData)
}
