package xfer

import (
	"encoding/binary"
	"testing"

	"github.com/sourceryinstitute/libcaf-go/descriptor"
	"github.com/sourceryinstitute/libcaf-go/memsys"
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

func getInt64(d *descriptor.Descriptor) int64 {
	return int64(binary.LittleEndian.Uint64(d.Base))
}

func TestGetScalarRoundTrip(t *testing.T) {
	job := transport.NewJob(2)
	var out stat.Out
	mgr1, err := token.NewManager(job, 1, 0)
	tassert.CheckError(t, err)
	tok, err := mgr1.Register(8, token.KindStatic, nil, nil, &out)
	tassert.CheckError(t, err)
	putInt64(t, job, 1, tok.Window, 0, 42)

	src := descriptor.NewScalar(nil, intKind8)
	dst := descriptor.NewScalar(make([]byte, 8), intKind8)

	e := NewEngine(job, 0, memsys.NewMMSA())
	tassert.CheckError(t, e.Get(tok, 1, dst, src, &out))
	tassert.Fatalf(t, out.Stat == stat.Success, "get must report SUCCESS")
	tassert.Fatalf(t, getInt64(dst) == 42, "got %d, want 42", getInt64(dst))
}

func TestSendScalarRoundTrip(t *testing.T) {
	job := transport.NewJob(2)
	var out stat.Out
	mgr1, err := token.NewManager(job, 1, 0)
	tassert.CheckError(t, err)
	tok, err := mgr1.Register(8, token.KindStatic, nil, nil, &out)
	tassert.CheckError(t, err)

	srcBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(srcBuf, 99)
	src := descriptor.NewScalar(srcBuf, intKind8)
	dstShape := descriptor.NewScalar(nil, intKind8)

	e := NewEngine(job, 0, memsys.NewMMSA())
	tassert.CheckError(t, e.Send(tok, 1, dstShape, src, &out))
	tassert.Fatalf(t, out.Stat == stat.Success, "send must report SUCCESS")

	raw, err := job.Get(1, tok.Window, 0, 8)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, binary.LittleEndian.Uint64(raw) == 99, "remote window must hold 99 after send")
}

func TestGetCharacterPads(t *testing.T) {
	job := transport.NewJob(2)
	var out stat.Out
	mgr1, err := token.NewManager(job, 1, 0)
	tassert.CheckError(t, err)
	charKind1 := descriptor.TypeTag{Base: descriptor.TypeCharacter, Kind: 1}
	tok, err := mgr1.Register(3, token.KindStatic, nil, nil, &out)
	tassert.CheckError(t, err)
	tassert.CheckError(t, job.Put(1, tok.Window, 0, []byte("abc")))

	src := &descriptor.Descriptor{ElemLen: 3, Type: charKind1, Offset: -1}
	dst := &descriptor.Descriptor{Base: make([]byte, 5), ElemLen: 5, Type: charKind1, Offset: -1}

	e := NewEngine(job, 0, memsys.NewMMSA())
	tassert.CheckError(t, e.Get(tok, 1, dst, src, &out))
	tassert.Fatalf(t, string(dst.Base) == "abc  ", "character get must pad with trailing spaces, got %q", string(dst.Base))
}

func TestSendAsyncDefersUntilFlushAll(t *testing.T) {
	job := transport.NewJob(2)
	var out stat.Out
	mgr1, err := token.NewManager(job, 1, 0)
	tassert.CheckError(t, err)
	tok, err := mgr1.Register(8, token.KindStatic, nil, nil, &out)
	tassert.CheckError(t, err)

	srcBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(srcBuf, 7)
	src := descriptor.NewScalar(srcBuf, intKind8)
	dstShape := descriptor.NewScalar(nil, intKind8)

	e := NewEngine(job, 0, memsys.NewMMSA())
	tassert.CheckError(t, e.SendAsync(tok, 1, dstShape, src, &out))

	raw, err := job.Get(1, tok.Window, 0, 8)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, binary.LittleEndian.Uint64(raw) == 0, "non-blocking put must not be visible before FlushAll")

	tassert.CheckError(t, e.FlushAll())
	raw, err = job.Get(1, tok.Window, 0, 8)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, binary.LittleEndian.Uint64(raw) == 7, "FlushAll must apply the queued put")
}

func TestGetStridedSection(t *testing.T) {
	job := transport.NewJob(2)
	var out stat.Out
	mgr1, err := token.NewManager(job, 1, 0)
	tassert.CheckError(t, err)
	// four 8-byte integers in the remote window: 10, 20, 30, 40
	tok, err := mgr1.Register(32, token.KindStatic, nil, nil, &out)
	tassert.CheckError(t, err)
	for i, v := range []int64{10, 20, 30, 40} {
		putInt64(t, job, 1, tok.Window, int64(i)*8, v)
	}

	// Source section picks elements 0 and 2 (stride 16 bytes).
	src := &descriptor.Descriptor{
		ElemLen: 8, Rank: 1, Type: intKind8, Offset: -1,
		Dims: [descriptor.MaxRank]descriptor.Dim{{Lower: 0, Upper: 1, Stride: 16}},
	}
	dstBuf := make([]byte, 16)
	dst := &descriptor.Descriptor{
		Base: dstBuf, ElemLen: 8, Rank: 1, Type: intKind8, Offset: -1,
		Dims: [descriptor.MaxRank]descriptor.Dim{{Lower: 0, Upper: 1, Stride: 8}},
	}

	e := NewEngine(job, 0, memsys.NewMMSA())
	tassert.CheckError(t, e.Get(tok, 1, dst, src, &out))
	tassert.Fatalf(t, binary.LittleEndian.Uint64(dstBuf[0:8]) == 10, "first strided element must be 10")
	tassert.Fatalf(t, binary.LittleEndian.Uint64(dstBuf[8:16]) == 30, "second strided element must be 30")
}
