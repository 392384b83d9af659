package refchain

import (
	"github.com/pkg/errors"

	"github.com/sourceryinstitute/libcaf-go/descriptor"
	"github.com/sourceryinstitute/libcaf-go/stat"
	"github.com/sourceryinstitute/libcaf-go/token"
	"github.com/sourceryinstitute/libcaf-go/transport"
	"github.com/sourceryinstitute/libcaf-go/xfer"
)

// Interpreter walks reference chains against one job's set of windows.
type Interpreter struct {
	job *transport.Job
}

// NewInterpreter builds an interpreter bound to job.
func NewInterpreter(job *transport.Job) *Interpreter {
	return &Interpreter{job: job}
}

// statErr lets resolve/dimValues fail with one of the stat codes named in
// the failure model while still satisfying the error interface.
type statErr stat.Stat

func (e statErr) Error() string { return stat.Stat(e).String() }

func asStat(err error) (stat.Stat, bool) {
	se, ok := err.(statErr)
	return stat.Stat(se), ok
}

// resolved is the outcome of walking a chain: the final token/image to
// address, the byte offset of each selected leaf element relative to that
// token's payload, the extents kept after rank-reducing Single
// subscripts (in ref order), and the remote element's type/size for
// conversion.
type resolved struct {
	tok          *token.Token
	image        int
	elemOffsets  []int64
	keptExtents  []int64
	elemType     descriptor.TypeTag
	elemLen      int32
}

// dimValues resolves sub against dim and returns element indices relative
// to dim.Lower (0 names the dimension's first element) — cartesianOffsets
// multiplies these directly by the dimension's byte stride, so callers
// must never hand it an absolute Fortran subscript.
func dimValues(dim descriptor.Dim, sub Subscript) ([]int64, bool, error) {
	stride := sub.Stride
	if stride == 0 {
		stride = 1
	}
	switch sub.Mode {
	case ModeFull, ModeNone:
		ext := dim.Extent()
		if ext < 0 {
			return nil, false, errors.New("refchain: whole-dimension selector on an assumed-size dim")
		}
		vals := make([]int64, ext)
		for i := range vals {
			vals[i] = int64(i)
		}
		return vals, true, nil
	case ModeSingle:
		if sub.Lower < dim.Lower || (dim.Extent() >= 0 && sub.Lower > dim.Upper) {
			return nil, false, statErr(stat.ErrOutOfBounds)
		}
		return []int64{sub.Lower - dim.Lower}, false, nil
	case ModeRange:
		return rangeValues(sub.Lower-dim.Lower, sub.Upper-dim.Lower, stride), true, nil
	case ModeOpenStart:
		return rangeValues(0, sub.Upper-dim.Lower, stride), true, nil
	case ModeOpenEnd:
		return rangeValues(sub.Lower-dim.Lower, dim.Upper-dim.Lower, stride), true, nil
	case ModeVector:
		rel := make([]int64, len(sub.Vector))
		for i, v := range sub.Vector {
			rel[i] = v - dim.Lower
		}
		return rel, true, nil
	default:
		return nil, false, errors.Errorf("refchain: unknown subscript mode %d", sub.Mode)
	}
}

func rangeValues(lower, upper, stride int64) []int64 {
	if stride == 0 {
		stride = 1
	}
	var vals []int64
	if stride > 0 {
		for v := lower; v <= upper; v += stride {
			vals = append(vals, v)
		}
	} else {
		for v := lower; v >= upper; v += stride {
			vals = append(vals, v)
		}
	}
	return vals
}

// cartesianOffsets returns the byte offset of every element selected across
// dims (already resolved to per-dim value lists), in column-major order
// (dim 0 fastest), matching every other addressing computation in this
// module.
func cartesianOffsets(dimsVals [][]int64, strides []int64) []int64 {
	total := int64(1)
	for _, vs := range dimsVals {
		total *= int64(len(vs))
	}
	offsets := make([]int64, 0, total)
	idx := make([]int, len(dimsVals))
	for {
		off := int64(0)
		for k, vs := range dimsVals {
			off += vs[idx[k]] * strides[k]
		}
		offsets = append(offsets, off)
		k := 0
		for ; k < len(dimsVals); k++ {
			idx[k]++
			if idx[k] < len(dimsVals[k]) {
				break
			}
			idx[k] = 0
		}
		if k == len(dimsVals) {
			break
		}
	}
	return offsets
}

// resolve walks refs starting at (t, image), accumulating the byte offsets
// of every leaf element it selects. At most one Array/StaticArray ref may
// appear in a chain; a second one is an INVALID_RANK failure per the
// "double array ref" rule.
func (ip *Interpreter) resolve(t *token.Token, image int, refs []*Ref) (*resolved, error) {
	// Each token already carries its own window handle, so a component
	// crossing just switches which token's window subsequent offsets and
	// Get/Put calls address; there is no separate dynamic-window flag to
	// track on top of that.
	cur := t
	curImage := image
	offset := t.Offset
	desc := t.Desc
	arraySeen := false

	leafOffsets := []int64{0}
	var keptExtents []int64
	var elemType descriptor.TypeTag
	elemLen := t.Size
	if t.Desc != nil {
		elemType = t.Desc.Type
		elemLen = int64(t.Desc.ElemLen)
	}

	for _, r := range refs {
		switch r.Kind {
		case RefComponent:
			if r.TokenSubOffset == 0 {
				offset += r.ByteOffset
				for i := range leafOffsets {
					leafOffsets[i] += r.ByteOffset
				}
				continue
			}
			if r.Component == nil {
				return nil, errors.New("refchain: component crossing with no component token")
			}
			cur = r.Component
			// component tokens live on the same image they were registered on in this substrate
			offset = cur.Offset
			desc = cur.Desc
			leafOffsets = []int64{0}
			if cur.Desc != nil {
				elemType = cur.Desc.Type
				elemLen = int64(cur.Desc.ElemLen)
			} else {
				elemType = descriptor.TypeTag{}
				elemLen = cur.Size
			}

		case RefArray, RefStaticArray:
			if arraySeen {
				return nil, statErr(stat.InvalidRank)
			}
			arraySeen = true

			var dims []descriptor.Dim
			if r.Kind == RefStaticArray {
				dims = make([]descriptor.Dim, len(r.StaticExtents))
				stride := elemLen
				for k, ext := range r.StaticExtents {
					dims[k] = descriptor.Dim{Lower: 0, Upper: ext - 1, Stride: stride}
					stride *= ext
				}
			} else {
				if desc == nil {
					return nil, statErr(stat.ErrBaseAddrNull)
				}
				dims = desc.Dims[:desc.Rank]
			}
			if len(r.Subscripts) != len(dims) {
				return nil, statErr(stat.InvalidRank)
			}

			dimsVals := make([][]int64, len(dims))
			strides := make([]int64, len(dims))
			for k, sub := range r.Subscripts {
				vals, keep, err := dimValues(dims[k], sub)
				if err != nil {
					return nil, err
				}
				dimsVals[k] = vals
				strides[k] = dims[k].Stride
				if keep {
					keptExtents = append(keptExtents, int64(len(vals)))
				}
			}
			arrayOffsets := cartesianOffsets(dimsVals, strides)
			next := make([]int64, 0, len(leafOffsets)*len(arrayOffsets))
			for _, base := range leafOffsets {
				for _, ao := range arrayOffsets {
					next = append(next, base+ao)
				}
			}
			leafOffsets = next
		}
	}

	return &resolved{tok: cur, image: curImage, elemOffsets: leafOffsets, keptExtents: keptExtents, elemType: elemType, elemLen: int32(elemLen)}, nil
}

// GetByRef reads every element the chain selects on image into dst,
// reallocating dst when it is allocatable and its current shape does not
// match what the chain selected.
func (ip *Interpreter) GetByRef(t *token.Token, image int, dst *descriptor.Descriptor, refs []*Ref, out *stat.Out) error {
	res, err := ip.resolve(t, image, refs)
	if err != nil {
		if s, ok := asStat(err); ok {
			return out.Set(s, err)
		}
		return out.Set(stat.Failure, err)
	}
	if err := reshapeIfNeeded(dst, res.keptExtents, out); err != nil {
		return err
	}
	dstOffsets := descriptorLeafOffsets(dst)
	if len(dstOffsets) != len(res.elemOffsets) {
		return out.Set(stat.InvalidExtent, errors.New("refchain: get_by_ref: element count mismatch"))
	}
	for i, ro := range res.elemOffsets {
		raw, err := ip.job.Get(res.image, res.tok.Window, res.tok.Offset+ro, int64(res.elemLen))
		if err != nil {
			return out.Set(stat.ErrOutOfBounds, err)
		}
		elem, err := xfer.ConvertElement(raw, res.elemType, dst.Type, dst.ElemLen)
		if err != nil {
			return out.Set(stat.InvalidType, err)
		}
		copy(dst.Base[dstOffsets[i]:dstOffsets[i]+int64(dst.ElemLen)], elem)
	}
	out.Ok()
	return nil
}

// SendByRef writes src into every element the chain selects on image.
func (ip *Interpreter) SendByRef(t *token.Token, image int, src *descriptor.Descriptor, refs []*Ref, out *stat.Out) error {
	res, err := ip.resolve(t, image, refs)
	if err != nil {
		if s, ok := asStat(err); ok {
			return out.Set(s, err)
		}
		return out.Set(stat.Failure, err)
	}
	srcOffsets := descriptorLeafOffsets(src)
	if len(srcOffsets) != len(res.elemOffsets) {
		return out.Set(stat.InvalidExtent, errors.New("refchain: send_by_ref: element count mismatch"))
	}
	for i, ro := range res.elemOffsets {
		raw := src.Base[srcOffsets[i] : srcOffsets[i]+int64(src.ElemLen)]
		elem, err := xfer.ConvertElement(raw, src.Type, res.elemType, res.elemLen)
		if err != nil {
			return out.Set(stat.InvalidType, err)
		}
		if err := ip.job.Put(res.image, res.tok.Window, res.tok.Offset+ro, elem); err != nil {
			return out.Set(stat.ErrOutOfBounds, err)
		}
	}
	out.Ok()
	return nil
}

// SendGetByRef copies data from one chain to another without materializing
// it in the caller's own memory, element by element.
func (ip *Interpreter) SendGetByRef(dstTok *token.Token, dstImage int, dstRefs []*Ref, srcTok *token.Token, srcImage int, srcRefs []*Ref, out *stat.Out) error {
	dstRes, err := ip.resolve(dstTok, dstImage, dstRefs)
	if err != nil {
		if s, ok := asStat(err); ok {
			return out.Set(s, err)
		}
		return out.Set(stat.Failure, err)
	}
	srcRes, err := ip.resolve(srcTok, srcImage, srcRefs)
	if err != nil {
		if s, ok := asStat(err); ok {
			return out.Set(s, err)
		}
		return out.Set(stat.Failure, err)
	}
	if len(dstRes.elemOffsets) != len(srcRes.elemOffsets) {
		return out.Set(stat.InvalidExtent, errors.New("refchain: sendget_by_ref: element count mismatch"))
	}
	for i := range srcRes.elemOffsets {
		raw, err := ip.job.Get(srcRes.image, srcRes.tok.Window, srcRes.tok.Offset+srcRes.elemOffsets[i], int64(srcRes.elemLen))
		if err != nil {
			return out.Set(stat.ErrOutOfBounds, err)
		}
		elem, err := xfer.ConvertElement(raw, srcRes.elemType, dstRes.elemType, dstRes.elemLen)
		if err != nil {
			return out.Set(stat.InvalidType, err)
		}
		if err := ip.job.Put(dstRes.image, dstRes.tok.Window, dstRes.tok.Offset+dstRes.elemOffsets[i], elem); err != nil {
			return out.Set(stat.ErrOutOfBounds, err)
		}
	}
	out.Ok()
	return nil
}

// descriptorLeafOffsets returns dst's own per-element byte offsets, in the
// same column-major order resolve produces for a remote chain.
func descriptorLeafOffsets(d *descriptor.Descriptor) []int64 {
	if d.Rank == 0 {
		return []int64{0}
	}
	extents := make([]int64, d.Rank)
	n := int64(1)
	for k := int32(0); k < d.Rank; k++ {
		e := d.Dims[k].Extent()
		if e < 0 {
			e = 0
		}
		extents[k] = e
		n *= e
	}
	offsets := make([]int64, 0, n)
	idx := make([]int64, d.Rank)
	for {
		off := int64(0)
		for k := int32(0); k < d.Rank; k++ {
			off += idx[k] * d.Dims[k].Stride
		}
		offsets = append(offsets, off)
		k := int32(0)
		for ; k < d.Rank; k++ {
			idx[k]++
			if idx[k] < extents[k] {
				break
			}
			idx[k] = 0
		}
		if k == d.Rank {
			break
		}
	}
	return offsets
}

// reshapeIfNeeded allocates or validates dst against the extents the chain
// selected: an allocatable dst not yet sized (or sized incorrectly) is
// (re)established; a non-allocatable dst must already match.
func reshapeIfNeeded(dst *descriptor.Descriptor, keptExtents []int64, out *stat.Out) error {
	if len(keptExtents) == 0 {
		return nil // scalar result, nothing to reshape
	}
	if int(dst.Rank) == len(keptExtents) {
		match := true
		for k, ext := range keptExtents {
			if dst.Dims[k].Extent() != ext {
				match = false
				break
			}
		}
		if match && dst.Base != nil {
			return nil
		}
	}
	if dst.Attribute != descriptor.AttrAllocatable {
		return out.Set(stat.InvalidExtent, errors.New("refchain: destination extent mismatch and not reallocatable"))
	}
	lower := make([]int64, len(keptExtents))
	upper := make([]int64, len(keptExtents))
	for k, ext := range keptExtents {
		lower[k] = 0
		upper[k] = ext - 1
	}
	dst.Rank = int32(len(keptExtents))
	if err := descriptor.Allocate(dst, lower, upper); err != nil {
		return out.Set(stat.ErrMemAllocation, err)
	}
	return nil
}
