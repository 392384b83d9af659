package rfunc

import (
	"encoding/binary"
	"testing"

	"github.com/sourceryinstitute/libcaf-go/descriptor"
	"github.com/sourceryinstitute/libcaf-go/tools/tassert"
	"github.com/sourceryinstitute/libcaf-go/transport"
)

func encodeInt(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

func decodeInt(b []byte) int64 { return int64(binary.LittleEndian.Uint64(b)) }

// newHarness builds n images, each with its own Channel and Manager sharing
// one process-global accessor Table, the arrangement every other package's
// rfunc.Manager is constructed with.
func newHarness(n int) (job *transport.Job, table *Table, managers []*Manager) {
	job = transport.NewJob(n)
	table = NewTable()
	channels := make(map[int]*Channel, n)
	for i := 0; i < n; i++ {
		channels[i] = NewChannel(job, i, table)
	}
	managers = make([]*Manager, n)
	for i := 0; i < n; i++ {
		managers[i] = NewManager(job, i, table, channels)
	}
	return job, table, managers
}

func TestGetFromRemoteDoublesRemoteValue(t *testing.T) {
	_, table, mgrs := newHarness(2)
	hash := table.RegisterGetter("double", func(addData []byte) ([]byte, *descriptor.Descriptor, error) {
		return encodeInt(decodeInt(addData) * 2), nil, nil
	})
	table.Finish()

	data, desc, err := mgrs[0].GetFromRemote(1, hash, encodeInt(21), false)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, desc == nil, "descriptor must be nil when not requested")
	tassert.Fatalf(t, decodeInt(data) == 42, "got %d, want 42", decodeInt(data))
}

func TestGetFromRemoteIncludesDescriptorOnRequest(t *testing.T) {
	_, table, mgrs := newHarness(2)
	tag := descriptor.TypeTag{Base: descriptor.TypeInteger, Kind: 8}
	hash := table.RegisterGetter("typed", func(addData []byte) ([]byte, *descriptor.Descriptor, error) {
		return encodeInt(7), descriptor.NewScalar(nil, tag), nil
	})
	table.Finish()

	_, desc, err := mgrs[0].GetFromRemote(1, hash, nil, true)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, desc != nil, "descriptor must be present when requested")
	tassert.Fatalf(t, desc.Type == tag, "descriptor type must round-trip, got %+v", desc.Type)
}

func TestGetFromRemoteSelfOptimizesLocally(t *testing.T) {
	_, table, mgrs := newHarness(2)
	var calls int
	hash := table.RegisterGetter("count", func(addData []byte) ([]byte, *descriptor.Descriptor, error) {
		calls++
		return []byte{1}, nil, nil
	})
	table.Finish()

	_, _, err := mgrs[0].GetFromRemote(0, hash, nil, false)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, calls == 1, "self-addressed get must still invoke the accessor exactly once, got %d", calls)
}

func TestIsPresentOnRemote(t *testing.T) {
	_, table, mgrs := newHarness(2)
	hash := table.RegisterPredicate("present", func(addData []byte) (bool, error) {
		return len(addData) > 0, nil
	})
	table.Finish()

	present, err := mgrs[0].IsPresentOnRemote(1, hash, []byte("x"))
	tassert.CheckError(t, err)
	tassert.Fatalf(t, present, "non-empty add-data must report present")

	absent, err := mgrs[0].IsPresentOnRemote(1, hash, nil)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, !absent, "empty add-data must report absent")
}

func TestSendToRemoteDeliversToReceiver(t *testing.T) {
	_, table, mgrs := newHarness(2)
	received := make(chan int64, 1)
	hash := table.RegisterReceiver("sink", func(addData, data []byte) error {
		received <- decodeInt(data)
		return nil
	})
	table.Finish()

	tassert.CheckError(t, mgrs[0].SendToRemote(1, hash, nil, encodeInt(99)))
	tassert.Fatalf(t, <-received == 99, "receiver must observe the sent payload")
}

func TestTransferBetweenRemotesBothLocal(t *testing.T) {
	_, table, mgrs := newHarness(3)
	srcHash := table.RegisterGetter("src", func(addData []byte) ([]byte, *descriptor.Descriptor, error) {
		return encodeInt(5), nil, nil
	})
	var got int64
	dstHash := table.RegisterReceiver("dst", func(addData, data []byte) error {
		got = decodeInt(data)
		return nil
	})
	table.Finish()

	tassert.CheckError(t, mgrs[0].TransferBetweenRemotes(0, srcHash, nil, 0, dstHash, nil))
	tassert.Fatalf(t, got == 5, "local transfer must deliver the fetched value, got %d", got)
}

func TestTransferBetweenRemotesSameRemote(t *testing.T) {
	_, table, mgrs := newHarness(3)
	srcHash := table.RegisterGetter("src", func(addData []byte) ([]byte, *descriptor.Descriptor, error) {
		return encodeInt(11), nil, nil
	})
	received := make(chan int64, 1)
	dstHash := table.RegisterReceiver("dst", func(addData, data []byte) error {
		received <- decodeInt(data)
		return nil
	})
	table.Finish()

	tassert.CheckError(t, mgrs[0].TransferBetweenRemotes(1, srcHash, nil, 1, dstHash, nil))
	tassert.Fatalf(t, <-received == 11, "same-remote transfer must forward the fetched value")
}

func TestTransferBetweenRemotesDistinctRemotes(t *testing.T) {
	_, table, mgrs := newHarness(3)
	srcHash := table.RegisterGetter("src", func(addData []byte) ([]byte, *descriptor.Descriptor, error) {
		return encodeInt(3), nil, nil
	})
	received := make(chan int64, 1)
	dstHash := table.RegisterReceiver("dst", func(addData, data []byte) error {
		received <- decodeInt(data)
		return nil
	})
	table.Finish()

	tassert.CheckError(t, mgrs[0].TransferBetweenRemotes(1, srcHash, nil, 2, dstHash, nil))
	tassert.Fatalf(t, <-received == 3, "cross-remote transfer must deliver the fetched value")
}

func TestLateRegistrationReopensTable(t *testing.T) {
	_, table, _ := newHarness(1)
	h1 := table.RegisterGetter("a", func([]byte) ([]byte, *descriptor.Descriptor, error) { return nil, nil, nil })
	table.Finish()
	if _, ok := table.Index(h1); !ok {
		t.Fatalf("a must be indexable once prepared")
	}
	h2 := table.RegisterGetter("b", func([]byte) ([]byte, *descriptor.Descriptor, error) { return nil, nil, nil })
	if _, ok := table.Index(h2); ok {
		t.Fatalf("b must not be indexable before the table is re-finished")
	}
	table.Finish()
	if _, ok := table.Index(h2); !ok {
		t.Fatalf("b must be indexable after re-finishing")
	}
}
