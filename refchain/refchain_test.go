package refchain

import (
	"encoding/binary"
	"testing"

	"github.com/sourceryinstitute/libcaf-go/descriptor"
	"github.com/sourceryinstitute/libcaf-go/stat"
	"github.com/sourceryinstitute/libcaf-go/token"
	"github.com/sourceryinstitute/libcaf-go/tools/tassert"
	"github.com/sourceryinstitute/libcaf-go/transport"
)

var intKind8 = descriptor.TypeTag{Base: descriptor.TypeInteger, Kind: 8}

func putInt64(t *testing.T, job *transport.Job, image int, h transport.Handle, offset int64, v int64) {
	t.Helper()
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	tassert.CheckError(t, job.Put(image, h, offset, b))
}

func TestGetByRefComponentOffsetOnly(t *testing.T) {
	job := transport.NewJob(2)
	var out stat.Out
	mgr, err := token.NewManager(job, 1, 0)
	tassert.CheckError(t, err)
	tok, err := mgr.Register(24, token.KindStatic, &descriptor.Descriptor{ElemLen: 8, Type: intKind8, Offset: -1}, nil, &out)
	tassert.CheckError(t, err)
	putInt64(t, job, 1, tok.Window, 0, 10)
	putInt64(t, job, 1, tok.Window, 8, 20)
	putInt64(t, job, 1, tok.Window, 16, 30)

	refs := []*Ref{{Kind: RefComponent, ByteOffset: 8}}
	dst := descriptor.NewScalar(make([]byte, 8), intKind8)

	ip := NewInterpreter(job)
	tassert.CheckError(t, ip.GetByRef(tok, 1, dst, refs, &out))
	tassert.Fatalf(t, out.Stat == stat.Success, "get_by_ref must report SUCCESS")
	tassert.Fatalf(t, binary.LittleEndian.Uint64(dst.Base) == 20, "component offset must select the second element, got %d", binary.LittleEndian.Uint64(dst.Base))
}

func TestGetByRefComponentCrossing(t *testing.T) {
	job := transport.NewJob(2)
	var out stat.Out
	mgr, err := token.NewManager(job, 1, 0)
	tassert.CheckError(t, err)

	outer, err := mgr.Register(8, token.KindComponentRegisterOnly, nil, nil, &out)
	tassert.CheckError(t, err)
	comp, err := mgr.Register(8, token.KindComponentRegisterOnly, &descriptor.Descriptor{ElemLen: 8, Type: intKind8, Offset: -1}, nil, &out)
	tassert.CheckError(t, err)
	putInt64(t, job, 1, comp.Window, comp.Offset, 77)

	refs := []*Ref{{Kind: RefComponent, TokenSubOffset: 1, Component: comp}}
	dst := descriptor.NewScalar(make([]byte, 8), intKind8)

	ip := NewInterpreter(job)
	tassert.CheckError(t, ip.GetByRef(outer, 1, dst, refs, &out))
	tassert.Fatalf(t, binary.LittleEndian.Uint64(dst.Base) == 77, "component crossing must read from the crossed token's window, got %d", binary.LittleEndian.Uint64(dst.Base))
}

func TestGetByRefArrayRangeSubscript(t *testing.T) {
	job := transport.NewJob(2)
	var out stat.Out
	mgr, err := token.NewManager(job, 1, 0)
	tassert.CheckError(t, err)

	desc := &descriptor.Descriptor{ElemLen: 8, Rank: 1, Type: intKind8, Offset: -1}
	desc.Dims[0] = descriptor.Dim{Lower: 1, Upper: 4, Stride: 8}
	tok, err := mgr.Register(32, token.KindStatic, desc, nil, &out)
	tassert.CheckError(t, err)
	for i, v := range []int64{10, 20, 30, 40} {
		putInt64(t, job, 1, tok.Window, int64(i)*8, v)
	}

	// a(2:3) — elements at index 1 and 2 (0-based column-major offsets 8, 16)
	refs := []*Ref{{Kind: RefArray, Subscripts: []Subscript{{Mode: ModeRange, Lower: 2, Upper: 3, Stride: 1}}}}
	dst := &descriptor.Descriptor{
		Base: make([]byte, 16), ElemLen: 8, Rank: 1, Type: intKind8, Offset: -1,
		Attribute: descriptor.AttrAllocatable,
	}
	dst.Dims[0] = descriptor.Dim{Lower: 0, Upper: 1, Stride: 8}

	ip := NewInterpreter(job)
	tassert.CheckError(t, ip.GetByRef(tok, 1, dst, refs, &out))
	tassert.Fatalf(t, binary.LittleEndian.Uint64(dst.Base[0:8]) == 20, "a(2:3) first element must be 20, got %d", binary.LittleEndian.Uint64(dst.Base[0:8]))
	tassert.Fatalf(t, binary.LittleEndian.Uint64(dst.Base[8:16]) == 30, "a(2:3) second element must be 30, got %d", binary.LittleEndian.Uint64(dst.Base[8:16]))
}

func TestGetByRefArraySingleReducesRank(t *testing.T) {
	job := transport.NewJob(2)
	var out stat.Out
	mgr, err := token.NewManager(job, 1, 0)
	tassert.CheckError(t, err)

	desc := &descriptor.Descriptor{ElemLen: 8, Rank: 1, Type: intKind8, Offset: -1}
	desc.Dims[0] = descriptor.Dim{Lower: 1, Upper: 3, Stride: 8}
	tok, err := mgr.Register(24, token.KindStatic, desc, nil, &out)
	tassert.CheckError(t, err)
	putInt64(t, job, 1, tok.Window, 0, 1)
	putInt64(t, job, 1, tok.Window, 8, 2)
	putInt64(t, job, 1, tok.Window, 16, 3)

	refs := []*Ref{{Kind: RefArray, Subscripts: []Subscript{{Mode: ModeSingle, Lower: 2}}}}
	dst := descriptor.NewScalar(make([]byte, 8), intKind8)

	ip := NewInterpreter(job)
	tassert.CheckError(t, ip.GetByRef(tok, 1, dst, refs, &out))
	tassert.Fatalf(t, binary.LittleEndian.Uint64(dst.Base) == 2, "a(2) must select the second element, got %d", binary.LittleEndian.Uint64(dst.Base))
}

func TestGetByRefArraySingleOutOfBounds(t *testing.T) {
	job := transport.NewJob(2)
	var out stat.Out
	mgr, err := token.NewManager(job, 1, 0)
	tassert.CheckError(t, err)

	desc := &descriptor.Descriptor{ElemLen: 8, Rank: 1, Type: intKind8, Offset: -1}
	desc.Dims[0] = descriptor.Dim{Lower: 1, Upper: 3, Stride: 8}
	tok, err := mgr.Register(24, token.KindStatic, desc, nil, &out)
	tassert.CheckError(t, err)

	refs := []*Ref{{Kind: RefArray, Subscripts: []Subscript{{Mode: ModeSingle, Lower: 9}}}}
	dst := descriptor.NewScalar(make([]byte, 8), intKind8)

	ip := NewInterpreter(job)
	err = ip.GetByRef(tok, 1, dst, refs, &out)
	tassert.Fatalf(t, err != nil && out.Stat == stat.ErrOutOfBounds, "out-of-range subscript must report ERROR_OUT_OF_BOUNDS, got %v", out.Stat)
}

func TestGetByRefStaticArray(t *testing.T) {
	job := transport.NewJob(2)
	var out stat.Out
	mgr, err := token.NewManager(job, 1, 0)
	tassert.CheckError(t, err)

	tok, err := mgr.Register(24, token.KindStatic, nil, nil, &out)
	tassert.CheckError(t, err)
	putInt64(t, job, 1, tok.Window, 0, 100)
	putInt64(t, job, 1, tok.Window, 8, 200)
	putInt64(t, job, 1, tok.Window, 16, 300)

	refs := []*Ref{{Kind: RefStaticArray, StaticExtents: []int64{3}, Subscripts: []Subscript{{Mode: ModeSingle, Lower: 1}}}}
	dst := descriptor.NewScalar(make([]byte, 8), intKind8)

	ip := NewInterpreter(job)
	tassert.CheckError(t, ip.GetByRef(tok, 1, dst, refs, &out))
	tassert.Fatalf(t, binary.LittleEndian.Uint64(dst.Base) == 200, "static array index 1 must select the second element, got %d", binary.LittleEndian.Uint64(dst.Base))
}

func TestResolveRejectsDoubleArrayRef(t *testing.T) {
	job := transport.NewJob(2)
	var out stat.Out
	mgr, err := token.NewManager(job, 1, 0)
	tassert.CheckError(t, err)

	desc := &descriptor.Descriptor{ElemLen: 8, Rank: 1, Type: intKind8, Offset: -1}
	desc.Dims[0] = descriptor.Dim{Lower: 1, Upper: 3, Stride: 8}
	tok, err := mgr.Register(24, token.KindStatic, desc, nil, &out)
	tassert.CheckError(t, err)

	refs := []*Ref{
		{Kind: RefArray, Subscripts: []Subscript{{Mode: ModeSingle, Lower: 1}}},
		{Kind: RefStaticArray, StaticExtents: []int64{2}, Subscripts: []Subscript{{Mode: ModeSingle, Lower: 1}}},
	}
	dst := descriptor.NewScalar(make([]byte, 8), intKind8)

	ip := NewInterpreter(job)
	err = ip.GetByRef(tok, 1, dst, refs, &out)
	tassert.Fatalf(t, err != nil && out.Stat == stat.InvalidRank, "a second array ref in one chain must report INVALID_RANK, got %v", out.Stat)
}

func TestGetByRefCharacterPads(t *testing.T) {
	job := transport.NewJob(2)
	var out stat.Out
	mgr, err := token.NewManager(job, 1, 0)
	tassert.CheckError(t, err)

	charKind1 := descriptor.TypeTag{Base: descriptor.TypeCharacter, Kind: 1}
	tok, err := mgr.Register(3, token.KindStatic, &descriptor.Descriptor{ElemLen: 3, Type: charKind1, Offset: -1}, nil, &out)
	tassert.CheckError(t, err)
	tassert.CheckError(t, job.Put(1, tok.Window, 0, []byte("abc")))

	refs := []*Ref{{Kind: RefComponent}}
	dst := &descriptor.Descriptor{Base: make([]byte, 5), ElemLen: 5, Type: charKind1, Offset: -1}

	ip := NewInterpreter(job)
	tassert.CheckError(t, ip.GetByRef(tok, 1, dst, refs, &out))
	tassert.Fatalf(t, string(dst.Base) == "abc  ", "character get_by_ref must pad with trailing spaces, got %q", string(dst.Base))
}

func TestSendByRefWritesThroughChain(t *testing.T) {
	job := transport.NewJob(2)
	var out stat.Out
	mgr, err := token.NewManager(job, 1, 0)
	tassert.CheckError(t, err)
	tok, err := mgr.Register(16, token.KindStatic, &descriptor.Descriptor{ElemLen: 8, Type: intKind8, Offset: -1}, nil, &out)
	tassert.CheckError(t, err)

	srcBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(srcBuf, 55)
	src := descriptor.NewScalar(srcBuf, intKind8)

	refs := []*Ref{{Kind: RefComponent, ByteOffset: 8}}
	ip := NewInterpreter(job)
	tassert.CheckError(t, ip.SendByRef(tok, 1, src, refs, &out))

	raw, err := job.Get(1, tok.Window, 8, 8)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, binary.LittleEndian.Uint64(raw) == 55, "send_by_ref must write to the component-offset address, got %d", binary.LittleEndian.Uint64(raw))
}
