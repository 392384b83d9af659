// Span computation over a Descriptor's addressing, used to pick which
// rung of the transfer decision ladder a given pair of endpoints needs.
package xfer

import "github.com/sourceryinstitute/libcaf-go/descriptor"

// run is a maximal run of consecutive elements whose byte offsets are
// exactly elemLen apart — the unit a single Put/Get call can move without
// per-element handling.
type run struct {
	offset int64 // byte offset of the run's first element
	count  int64 // element count
}

// elementOffsets returns the byte offset of every element addressed by d,
// in column-major order (the first dimension varies fastest), matching the
// ordering Validate's stride invariant assumes.
func elementOffsets(d *descriptor.Descriptor) []int64 {
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

// mergeRuns collapses a sorted-by-construction offset list into maximal
// elemLen-spaced runs, ladder step 3's "indexed datatype" realized as a
// run-length list of (offset, length) spans.
func mergeRuns(offsets []int64, elemLen int32) []run {
	if len(offsets) == 0 {
		return nil
	}
	runs := make([]run, 0, len(offsets))
	cur := run{offset: offsets[0], count: 1}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] == cur.offset+cur.count*int64(elemLen) {
			cur.count++
			continue
		}
		runs = append(runs, cur)
		cur = run{offset: offsets[i], count: 1}
	}
	runs = append(runs, cur)
	return runs
}
