package collective

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/sourceryinstitute/libcaf-go/descriptor"
	"github.com/sourceryinstitute/libcaf-go/stat"
	"github.com/sourceryinstitute/libcaf-go/team"
)

// readInt/writeInt/readFloat/writeFloat duplicate xfer/convert.go's
// technique for decoding a typed scalar out of a raw byte slice; they are
// re-declared here rather than imported because the originals are
// unexported in a different package and this package's reduction ops need
// the same little-endian scalar view xfer uses for puts/gets.
func readInt(b []byte, kind int32) int64 {
	switch kind {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case 8:
		return int64(binary.LittleEndian.Uint64(b))
	default:
		return 0
	}
}

func writeInt(b []byte, kind int32, v int64) {
	switch kind {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, uint64(v))
	}
}

func readFloat(b []byte, kind int32) float64 {
	switch kind {
	case 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		return 0
	}
}

func writeFloat(b []byte, kind int32, v float64) {
	switch kind {
	case 4:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case 8:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}

// ReduceOp combines two elements of the same type, the functional
// analogue of picking an MPI_Op for a given MPI_Datatype. User reductions
// (co_reduce with a caller-supplied function) wrap an arbitrary UserOp
// into one of these, ignoring the type tag.
type ReduceOp func(a, b []byte, t descriptor.TypeTag) []byte

// UserOp is the shape of a user-supplied co_reduce operator: combine two
// raw element buffers, by-value or by-reference depending on how the
// caller declared it (that distinction is resolved by the caller before
// reaching this package; both variants present the same signature here).
type UserOp func(a, b []byte) []byte

func scalarNumericOp(a, b []byte, t descriptor.TypeTag, intOp func(x, y int64) int64, floatOp func(x, y float64) float64) []byte {
	out := make([]byte, len(a))
	switch t.Base {
	case descriptor.TypeInteger, descriptor.TypeLogical:
		writeInt(out, t.Kind, intOp(readInt(a, t.Kind), readInt(b, t.Kind)))
	case descriptor.TypeReal:
		writeFloat(out, t.Kind, floatOp(readFloat(a, t.Kind), readFloat(b, t.Kind)))
	case descriptor.TypeComplex:
		half := len(a) / 2
		writeFloat(out[:half], t.Kind, floatOp(readFloat(a[:half], t.Kind), readFloat(b[:half], t.Kind)))
		writeFloat(out[half:], t.Kind, floatOp(readFloat(a[half:], t.Kind), readFloat(b[half:], t.Kind)))
	default:
		copy(out, a)
	}
	return out
}

// SumOp, MinOp, and MaxOp implement co_sum/co_min/co_max's elementwise
// reduction for every numeric intrinsic type.
func SumOp(a, b []byte, t descriptor.TypeTag) []byte {
	return scalarNumericOp(a, b, t, func(x, y int64) int64 { return x + y }, func(x, y float64) float64 { return x + y })
}

func MinOp(a, b []byte, t descriptor.TypeTag) []byte {
	return scalarNumericOp(a, b, t,
		func(x, y int64) int64 {
			if x < y {
				return x
			}
			return y
		},
		math.Min)
}

func MaxOp(a, b []byte, t descriptor.TypeTag) []byte {
	return scalarNumericOp(a, b, t,
		func(x, y int64) int64 {
			if x > y {
				return x
			}
			return y
		},
		math.Max)
}

// CoReduce implements co_reduce(): every member of comm contributes a's
// current value, the values combine pairwise with op in ascending
// local-index order, and only result_image observes the combined value —
// every other image's copy of a is left untouched, per spec.md's
// co_sum test scenario. Contiguous and non-contiguous descriptors are
// both handled by the same elementwise loop; a contiguous descriptor is
// simply the n=1-span case of it.
func (c *Coordinator) CoReduce(comm *team.Communicator, image int, a *descriptor.Descriptor, resultImage int, op ReduceOp, out *stat.Out) error {
	localIdx := comm.ThisImage(image)
	if localIdx == 0 {
		return out.Set(stat.InvalidDescriptor, errors.New("collective: co_reduce: image is not a member of comm"))
	}
	payload := append([]byte(nil), a.Base...)
	results := c.exchange(comm, "reduce", localIdx, payload)
	if localIdx != resultImage {
		out.Ok()
		return nil
	}
	ids := sortedKeys(results)
	elemLen := int(a.ElemLen)
	if elemLen <= 0 {
		return out.Set(stat.InvalidElemLen, errors.New("collective: co_reduce: zero element length"))
	}
	combined := append([]byte(nil), results[ids[0]]...)
	n := len(combined) / elemLen
	for _, id := range ids[1:] {
		v := results[id]
		for e := 0; e < n; e++ {
			lo, hi := e*elemLen, (e+1)*elemLen
			copy(combined[lo:hi], op(combined[lo:hi], v[lo:hi], a.Type))
		}
	}
	copy(a.Base, combined)
	out.Ok()
	return nil
}

// CoSum, CoMin, and CoMax are CoReduce specialized to the three built-in
// reduction operators named in spec.md §4.G.
func (c *Coordinator) CoSum(comm *team.Communicator, image int, a *descriptor.Descriptor, resultImage int, out *stat.Out) error {
	return c.CoReduce(comm, image, a, resultImage, SumOp, out)
}

func (c *Coordinator) CoMin(comm *team.Communicator, image int, a *descriptor.Descriptor, resultImage int, out *stat.Out) error {
	return c.CoReduce(comm, image, a, resultImage, MinOp, out)
}

func (c *Coordinator) CoMax(comm *team.Communicator, image int, a *descriptor.Descriptor, resultImage int, out *stat.Out) error {
	return c.CoReduce(comm, image, a, resultImage, MaxOp, out)
}

// CoReduceUser implements co_reduce with a caller-supplied operator,
// adapting it into a ReduceOp that ignores the type tag (a's bytes are
// opaque to this package when the operator is user-defined).
func (c *Coordinator) CoReduceUser(comm *team.Communicator, image int, a *descriptor.Descriptor, resultImage int, fn UserOp, out *stat.Out) error {
	return c.CoReduce(comm, image, a, resultImage, func(x, y []byte, _ descriptor.TypeTag) []byte { return fn(x, y) }, out)
}

// CoBroadcast implements co_broadcast(): every member calls with its own
// buffer in a; only source_image's contribution is authoritative, and
// every other member's buffer is overwritten with it. A, for character
// arrays, is expected to already be sized to the broadcast length on every
// image (the caller broadcasts the length itself before the payload, per
// spec.md's "for character arrays the length is broadcast first") — this
// function only moves the fixed-size payload.
func (c *Coordinator) CoBroadcast(comm *team.Communicator, image int, a *descriptor.Descriptor, sourceImage int, out *stat.Out) error {
	localIdx := comm.ThisImage(image)
	if localIdx == 0 {
		return out.Set(stat.InvalidDescriptor, errors.New("collective: co_broadcast: image is not a member of comm"))
	}
	var payload []byte
	if localIdx == sourceImage {
		payload = append([]byte(nil), a.Base...)
	}
	results := c.exchange(comm, "broadcast", localIdx, payload)
	src, ok := results[sourceImage]
	if !ok || src == nil {
		return out.Set(stat.Failure, errors.Errorf("collective: co_broadcast: source image %d did not contribute", sourceImage))
	}
	if localIdx != sourceImage {
		copy(a.Base, src)
	}
	out.Ok()
	return nil
}
