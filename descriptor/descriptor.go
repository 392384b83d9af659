// Package descriptor implements the typed multidimensional array view: a
// local, purely computational model whose only dependency inside this
// module is the stat package. Every other component builds on top of the
// Descriptor type defined here.
/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package descriptor

import (
	"github.com/pkg/errors"

	"github.com/sourceryinstitute/libcaf-go/stat"
)

// MaxRank is the largest supported array rank.
const MaxRank = 15

// Attribute classifies how a coarray's storage was obtained.
type Attribute int32

const (
	AttrOther Attribute = iota // non-allocatable, non-pointer
	AttrPointer
	AttrAllocatable
)

// BaseType is the intrinsic type tag, independent of byte width.
type BaseType int32

const (
	TypeInteger BaseType = iota
	TypeReal
	TypeComplex
	TypeLogical
	TypeCharacter
	TypeDerived
)

// TypeTag packs an intrinsic base type with its byte kind (kind packed
// with bit width).
type TypeTag struct {
	Base BaseType
	Kind int32 // byte width of one scalar of Base, before any Complex doubling
}

// ElemLen returns the element length in bytes for t, applying the two
// compiler rules: complex types double the base width, and the 10-byte
// real kind rounds up to 64 bytes.
func (t TypeTag) ElemLen() int32 {
	kind := t.Kind
	if t.Base == TypeReal && kind == 10 {
		kind = 64
	}
	if t.Base == TypeComplex {
		k := kind
		if k == 10 {
			k = 64
		}
		return 2 * k
	}
	return kind
}

// Dim is one dimension record: lower/upper bound and the byte stride to the
// next element along that dimension.
type Dim struct {
	Lower  int64
	Upper  int64
	Stride int64 // bytes
}

// Extent returns upper-lower+1, or -1 for the assumed-size sentinel
// (extent[rank-1] == -1).
func (d Dim) Extent() int64 {
	if d.Upper == assumedSizeUpper {
		return -1
	}
	return d.Upper - d.Lower + 1
}

const assumedSizeUpper = int64(-1) << 62 // internal sentinel, never a real bound

// AssumedSize marks dim k of a descriptor as assumed-size (extent -1).
func AssumedSize(lower int64) Dim { return Dim{Lower: lower, Upper: assumedSizeUpper} }

// Descriptor is the local, typed multidimensional view of memory. Base is
// the actual local backing store; it is left nil for "shape-only"
// descriptors deserialized off the wire to describe a
// remote peer's array (see refchain and rfunc), where byte offsets into
// that peer's window are tracked independently rather than through Base.
type Descriptor struct {
	Base      []byte
	ElemLen   int32
	Version   int32
	Rank      int32
	Attribute Attribute
	Type      TypeTag
	Offset    int64 // -1 sentinel when absent
	Span      int64 // 0 sentinel when absent
	Dims      [MaxRank]Dim
}

// Tri is the tri-state result of IsContiguous.
type Tri int32

const (
	Contiguous Tri = iota
	NonContiguous
	InvalidRankOrNull
)

// NewScalar builds a rank-0 descriptor over base, the common case for a
// scalar coarray put/get.
func NewScalar(base []byte, t TypeTag) *Descriptor {
	return &Descriptor{Base: base, ElemLen: t.ElemLen(), Rank: 0, Type: t, Offset: -1, Span: 0}
}

// IsContiguous runs the tri-state contiguity test.
func IsContiguous(d *Descriptor) Tri {
	if d == nil || d.Rank < 0 || d.Rank > MaxRank {
		return InvalidRankOrNull
	}
	if d.Rank == 0 {
		return Contiguous
	}
	want := int64(d.ElemLen)
	for k := int32(0); k < d.Rank; k++ {
		dim := d.Dims[k]
		if abs64(dim.Stride) != want {
			return NonContiguous
		}
		ext := dim.Extent()
		if ext < 0 {
			// assumed-size sentinel in a non-final dim is never contiguous;
			// in the final dim there is nothing further to multiply by.
			if k != d.Rank-1 {
				return NonContiguous
			}
			break
		}
		want *= ext
	}
	return Contiguous
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Validate checks the shape invariants:
//
//	|stride[0]| >= elem_len
//	|stride[k+1]| >= |stride[k]| * extent[k]   for k < rank-1
//	extent[rank-1] == -1 is the assumed-size sentinel
//	attribute == pointer implies lower_bound == 0 in every dim
func Validate(d *Descriptor) stat.Stat {
	if d == nil {
		return stat.ErrBaseAddrNull
	}
	if d.Rank < 0 || d.Rank > MaxRank {
		return stat.InvalidRank
	}
	if d.ElemLen <= 0 {
		return stat.InvalidElemLen
	}
	if d.Rank == 0 {
		return stat.Success
	}
	if abs64(d.Dims[0].Stride) < int64(d.ElemLen) {
		return stat.InvalidStride
	}
	for k := int32(0); k < d.Rank-1; k++ {
		ext := d.Dims[k].Extent()
		if ext < 0 {
			return stat.InvalidExtent // assumed-size only legal in the final dim
		}
		if abs64(d.Dims[k+1].Stride) < abs64(d.Dims[k].Stride)*ext {
			return stat.InvalidStride
		}
	}
	if d.Attribute == AttrPointer {
		for k := int32(0); k < d.Rank; k++ {
			if d.Dims[k].Lower != 0 {
				return stat.InvalidDescriptor
			}
		}
	}
	return stat.Success
}

// NumElements returns the total element count described by d, or -1 if any
// dimension is assumed-size.
func NumElements(d *Descriptor) int64 {
	if d.Rank == 0 {
		return 1
	}
	n := int64(1)
	for k := int32(0); k < d.Rank; k++ {
		ext := d.Dims[k].Extent()
		if ext < 0 {
			return -1
		}
		n *= ext
	}
	return n
}

//
// ISO descriptor utility surface (establish/allocate/section/address/
// select-part/set-pointer). These are simple pointer-arithmetic primitives
// whose external contract is fixed by the ISO_Fortran_binding standard;
// the rest of this module depends on Descriptor, so a faithful
// implementation of this surface lives here rather than being stubbed out.
//

// Establish initializes d in place as a new, unallocated descriptor of the
// given type/rank/attribute. Pointer descriptors are reset so every
// lower_bound is 0, the post-establish invariant.
func Establish(d *Descriptor, t TypeTag, rank int32, attr Attribute) error {
	if rank < 0 || rank > MaxRank {
		return errors.New("descriptor: establish: invalid rank")
	}
	*d = Descriptor{ElemLen: t.ElemLen(), Rank: rank, Attribute: attr, Type: t, Offset: -1, Span: 0}
	return nil
}

// Allocate backs d with freshly allocated memory shaped by lower/upper
// bounds, computing column-major strides. Rank 0 ignores lower/upper and
// produces a scalar slot.
func Allocate(d *Descriptor, lower, upper []int64) error {
	if d.Attribute == AttrOther {
		return errors.New("descriptor: allocate: not allocatable")
	}
	if d.Rank == 0 {
		d.Base = make([]byte, d.ElemLen)
		return nil
	}
	if int32(len(lower)) != d.Rank || int32(len(upper)) != d.Rank {
		return errors.New("descriptor: allocate: bound count does not match rank")
	}
	stride := int64(d.ElemLen)
	n := int64(1)
	for k := int32(0); k < d.Rank; k++ {
		lo, up := lower[k], upper[k]
		if d.Attribute == AttrPointer {
			lo = 0
			up = upper[k] - lower[k]
		}
		ext := up - lo + 1
		if ext < 0 {
			return errors.New("descriptor: allocate: upper < lower")
		}
		d.Dims[k] = Dim{Lower: lo, Upper: up, Stride: stride}
		stride *= ext
		n *= ext
	}
	d.Base = make([]byte, n*int64(d.ElemLen))
	return nil
}

// Deallocate releases d's backing store, leaving shape metadata intact the
// way a Fortran DEALLOCATE leaves the descriptor addressable-but-empty.
func Deallocate(d *Descriptor) error {
	if d.Attribute == AttrOther {
		return errors.New("descriptor: deallocate: not allocatable")
	}
	if d.Base == nil {
		return errors.New("descriptor: deallocate: not allocated")
	}
	d.Base = nil
	return nil
}

// Address returns the byte slice for the element selected by subscripts
// (one index per dimension, in descriptor order).
func Address(d *Descriptor, subscripts []int64) ([]byte, error) {
	if int32(len(subscripts)) != d.Rank {
		return nil, errors.New("descriptor: address: subscript count does not match rank")
	}
	off := int64(0)
	for k, idx := range subscripts {
		dim := d.Dims[k]
		if idx < dim.Lower || (dim.Extent() >= 0 && idx > dim.Upper) {
			return nil, errors.New("descriptor: address: subscript out of bounds")
		}
		off += (idx - dim.Lower) * dim.Stride
	}
	if off < 0 || off+int64(d.ElemLen) > int64(len(d.Base)) {
		return nil, errors.New("descriptor: address: computed offset out of bounds")
	}
	return d.Base[off : off+int64(d.ElemLen)], nil
}

// Section builds a new descriptor describing a contiguous or strided
// sub-array of src. A zero stride in dim k requests rank reduction for
// that dimension; an absent upper bound on an assumed-size source dim is
// an invalid-extent error rather than an invented semantics.
func Section(src *Descriptor, lower, upper, strideMult []int64) (*Descriptor, error) {
	if int32(len(lower)) != src.Rank || int32(len(upper)) != src.Rank || int32(len(strideMult)) != src.Rank {
		return nil, errors.New("descriptor: section: length mismatch with source rank")
	}
	out := &Descriptor{Base: src.Base, ElemLen: src.ElemLen, Attribute: src.Attribute, Type: src.Type, Offset: -1, Span: 0}
	baseOff := int64(0)
	outRank := int32(0)
	var dims [MaxRank]Dim
	for k := int32(0); k < src.Rank; k++ {
		sdim := src.Dims[k]
		if sdim.Extent() < 0 && upper[k] == sentinelNoUpper {
			return nil, errors.New("descriptor: section: upper bound required for assumed-size source dim")
		}
		baseOff += (lower[k] - sdim.Lower) * sdim.Stride
		if strideMult[k] == 0 {
			if lower[k] != upper[k] {
				return nil, errors.New("descriptor: section: zero stride requires lower == upper")
			}
			continue // rank reduction: this dim does not appear in out
		}
		ext := (upper[k]-lower[k])/strideMult[k] + 1
		dims[outRank] = Dim{Lower: 0, Upper: ext - 1, Stride: sdim.Stride * strideMult[k]}
		outRank++
	}
	out.Rank = outRank
	out.Dims = dims
	out.Offset = baseOff
	if baseOff != 0 && out.Base != nil {
		out.Base = out.Base[baseOff:]
	}
	return out, nil
}

// sentinelNoUpper marks an absent upper bound argument to Section.
const sentinelNoUpper = int64(1)<<63 - 1

// SelectPart returns a new descriptor over a byte-range sub-object of src
// (a derived-type component), preserving src's dimensionality but not its
// element type.
func SelectPart(src *Descriptor, byteOffset int64, t TypeTag) (*Descriptor, error) {
	if byteOffset < 0 || byteOffset+int64(t.ElemLen()) > int64(len(src.Base)) {
		return nil, errors.New("descriptor: select_part: offset out of bounds")
	}
	out := *src
	out.Base = src.Base[byteOffset:]
	out.ElemLen = t.ElemLen()
	out.Type = t
	out.Offset = -1
	out.Span = 0
	return &out, nil
}

// SetPointer makes d an AttrPointer alias of target's storage, resetting
// lower bounds to 0 per the post-establish invariant.
func SetPointer(d *Descriptor, target *Descriptor) {
	*d = *target
	d.Attribute = AttrPointer
	for k := int32(0); k < d.Rank; k++ {
		d.Dims[k].Upper -= d.Dims[k].Lower
		d.Dims[k].Lower = 0
	}
}
