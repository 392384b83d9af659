// Package rfunc implements the remote-function channel (component F): a
// per-image communication thread plus a process-global accessor table.
// Callers serialize a request (getter / is-present / send / transfer) to a
// remote image, which executes a statically-registered accessor function
// and replies — the runtime's only general-purpose RPC-like mechanism,
// used wherever the reference-chain interpreter's descriptor-only
// resolution is not enough (non-trivial selectors, is_present, user-coded
// get_from_remote/send_to_remote/transfer_between_remotes).
/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package rfunc

import (
	xxhash "github.com/OneOfOne/xxhash"

	"github.com/sourceryinstitute/libcaf-go/descriptor"
)

// Hash identifies an accessor by name the same way the accessor table
// looks it up at runtime: a 64-bit hash of its registered name.
func Hash(name string) int64 {
	return int64(xxhash.ChecksumString64(name))
}

// AccessorKind tags which of the three accessor shapes a table entry is,
// the "tagged representation" replacing a C-style void(*)() table (see
// spec.md §9 "Dynamic dispatch").
type AccessorKind int32

const (
	KindGetter AccessorKind = iota
	KindPredicate
	KindReceiver
)

// GetterFunc fetches a value given the caller's opaque add-data, optionally
// describing its shape with a descriptor when the caller asked for one
// (flags.INCLUDE_DESCRIPTOR).
type GetterFunc func(addData []byte) (data []byte, desc *descriptor.Descriptor, err error)

// PredicateFunc answers an is_present-style query.
type PredicateFunc func(addData []byte) (bool, error)

// ReceiverFunc accepts a value pushed by send_to_remote or a forwarded
// transfer_between_remotes.
type ReceiverFunc func(addData, data []byte) error

type accessor struct {
	hash      int64
	kind      AccessorKind
	getter    GetterFunc
	predicate PredicateFunc
	receiver  ReceiverFunc
}
