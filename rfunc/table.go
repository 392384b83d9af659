package rfunc

import (
	"sort"
	"sync"

	"github.com/sourceryinstitute/libcaf-go/cmn/config"
	"github.com/sourceryinstitute/libcaf-go/cmn/nlog"
)

// tableState is the three-state automaton from spec.md §3 "Accessor table":
// Uninitialized -> Open (accepting registrations) -> Prepared (sorted,
// binary-searchable). A registration arriving after Prepared reverts the
// table to Open.
type tableState int32

const (
	stateUninitialized tableState = iota
	stateOpen
	statePrepared
)

// Table is the sorted, binary-searchable accessor registry. Accessor
// identities are process-global per spec.md's Non-goals, so one Table is
// shared by every image's rfunc.Manager.
type Table struct {
	mu      sync.Mutex
	state   tableState
	entries []accessor
}

// NewTable builds an empty, Uninitialized table.
func NewTable() *Table { return &Table{} }

// RegisterGetter, RegisterPredicate, and RegisterReceiver append an entry
// keyed by Hash(name) and return that hash for the caller to hand to peers
// (they address the accessor by hash, resolved locally via Index).
func (t *Table) RegisterGetter(name string, fn GetterFunc) int64 {
	return t.register(accessor{kind: KindGetter, getter: fn}, name)
}

func (t *Table) RegisterPredicate(name string, fn PredicateFunc) int64 {
	return t.register(accessor{kind: KindPredicate, predicate: fn}, name)
}

func (t *Table) RegisterReceiver(name string, fn ReceiverFunc) int64 {
	return t.register(accessor{kind: KindReceiver, receiver: fn}, name)
}

func (t *Table) register(a accessor, name string) int64 {
	h := Hash(name)
	a.hash = h
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == statePrepared {
		nlog.Infof("rfunc: table reopened by late registration of %q", name)
	}
	t.state = stateOpen
	t.entries = append(t.entries, a)
	if len(t.entries)%config.Get().AccessorGrowBy == 0 {
		nlog.Infof("rfunc: accessor table grown to %d entries", len(t.entries))
	}
	return h
}

// Finish implements register_accessors_finish(): sorts the table by hash
// and moves it to Prepared. From then on Index is O(log N).
func (t *Table) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	sort.Slice(t.entries, func(i, j int) bool { return t.entries[i].hash < t.entries[j].hash })
	t.state = statePrepared
}

// Index implements get_remote_function_index(): a binary search that only
// succeeds once the table is Prepared, matching "any lookup requires
// Prepared".
func (t *Table) Index(hash int64) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != statePrepared {
		return 0, false
	}
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].hash >= hash })
	if i < len(t.entries) && t.entries[i].hash == hash {
		return i, true
	}
	return 0, false
}

func (t *Table) at(i int) (accessor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != statePrepared || i < 0 || i >= len(t.entries) {
		return accessor{}, false
	}
	return t.entries[i], true
}
