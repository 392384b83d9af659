package collective

import (
	"sync"
	"testing"

	"github.com/sourceryinstitute/libcaf-go/stat"
	"github.com/sourceryinstitute/libcaf-go/team"
	"github.com/sourceryinstitute/libcaf-go/tools/tassert"
	"github.com/sourceryinstitute/libcaf-go/transport"
)

func TestSyncImagesEmptyListIsNoOp(t *testing.T) {
	job := transport.NewJob(2)
	teams := team.NewManager(2)
	c := NewCoordinator(teams, nil)
	var out stat.Out
	tassert.CheckError(t, c.SyncImages(0, nil, nil, &out))
	tassert.Fatalf(t, out.Stat == stat.Success, "empty sync_images must report success, got %v", out.Stat)
	_ = job
}

func TestSyncImagesDuplicateDetected(t *testing.T) {
	teams := team.NewManager(3)
	c := NewCoordinator(teams, nil)
	var out stat.Out
	err := c.SyncImages(0, []int{1, 1}, nil, &out)
	tassert.Fatalf(t, err != nil, "duplicate peer must be rejected")
	tassert.Fatalf(t, out.Stat == stat.StatDupSyncImages, "got %v, want STAT_DUP_SYNC_IMAGES", out.Stat)
}

func TestSyncImagesStoppedPeerAborts(t *testing.T) {
	teams := team.NewManager(3)
	status := team.NewStatusRegistry(3)
	status.SetStopped(1)
	c := NewCoordinator(teams, status)
	var out stat.Out
	err := c.SyncImages(0, []int{1}, nil, &out)
	tassert.Fatalf(t, err != nil, "sync against a stopped peer must fail")
	tassert.Fatalf(t, out.Stat == stat.StatStoppedImage, "got %v, want STAT_STOPPED_IMAGE", out.Stat)
}

func TestSyncImagesRendezvousBothSides(t *testing.T) {
	teams := team.NewManager(2)
	c := NewCoordinator(teams, nil)
	var out0, out1 stat.Out
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		tassert.CheckError(t, c.SyncImages(0, []int{1}, nil, &out0))
	}()
	go func() {
		defer wg.Done()
		tassert.CheckError(t, c.SyncImages(1, []int{0}, nil, &out1))
	}()
	wg.Wait()
	tassert.Fatalf(t, out0.Stat == stat.Success && out1.Stat == stat.Success, "both sides of a matched sync_images must succeed")
}

func TestAtomicDefineRefRoundTrip(t *testing.T) {
	job := transport.NewJob(1)
	w, err := job.RegisterWindow(0, 4)
	tassert.CheckError(t, err)
	var out stat.Out
	tassert.CheckError(t, AtomicDefine(job, 0, w.Handle, 0, 42, &out))
	v, err := AtomicRef(job, 0, w.Handle, 0, &out)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, v == 42, "got %d, want 42", v)
}

func TestAtomicCas(t *testing.T) {
	job := transport.NewJob(1)
	w, err := job.RegisterWindow(0, 4)
	tassert.CheckError(t, err)
	var out stat.Out
	tassert.CheckError(t, AtomicDefine(job, 0, w.Handle, 0, 1, &out))

	ok, err := AtomicCas(job, 0, w.Handle, 0, 1, 2, &out)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, ok, "cas must succeed when old matches")

	ok, err = AtomicCas(job, 0, w.Handle, 0, 1, 3, &out)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, !ok, "cas must fail when old no longer matches")
}

func TestAtomicOpBitwise(t *testing.T) {
	job := transport.NewJob(1)
	w, err := job.RegisterWindow(0, 4)
	tassert.CheckError(t, err)
	var out stat.Out
	tassert.CheckError(t, AtomicDefine(job, 0, w.Handle, 0, 0b1010, &out))

	old, err := AtomicOp(job, 0, w.Handle, 0, OpOr, 0b0101, &out)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, old == 0b1010, "got previous value %d, want 10", old)
	v, err := AtomicRef(job, 0, w.Handle, 0, &out)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, v == 0b1111, "got %d, want 15 after bor", v)
}

func TestLockUnlockMutualExclusion(t *testing.T) {
	job := transport.NewJob(1)
	w, err := job.RegisterWindow(0, 4)
	tassert.CheckError(t, err)
	var out stat.Out
	tassert.CheckError(t, Lock(job, 0, w.Handle, 0, nil, &out))

	var holder int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 1; i <= 2; i++ {
		i := i
		go func() {
			defer wg.Done()
			var out2 stat.Out
			tassert.CheckError(t, Lock(job, 0, w.Handle, 0, nil, &out2))
			mu.Lock()
			holder = i
			mu.Unlock()
			tassert.CheckError(t, Unlock(job, 0, w.Handle, 0, &out2))
		}()
	}
	tassert.CheckError(t, Unlock(job, 0, w.Handle, 0, &out))
	wg.Wait()
	tassert.Fatalf(t, holder == 1 || holder == 2, "one of the two waiters must have taken the lock")
}

func TestEventPostWaitQuery(t *testing.T) {
	job := transport.NewJob(1)
	w, err := job.RegisterWindow(0, 4)
	tassert.CheckError(t, err)
	var out stat.Out

	tassert.CheckError(t, EventPost(job, 0, w.Handle, 0, &out))
	tassert.CheckError(t, EventPost(job, 0, w.Handle, 0, &out))

	n, err := EventQuery(job, 0, w.Handle, 0, &out)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, n == 2, "got %d posts, want 2", n)

	tassert.CheckError(t, EventWait(job, 0, w.Handle, 0, 2, nil, &out))
	n, err = EventQuery(job, 0, w.Handle, 0, &out)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, n == 0, "event_wait must consume the posts it waited for, got %d remaining", n)
}

func TestEventWaitBlocksUntilPosted(t *testing.T) {
	job := transport.NewJob(1)
	w, err := job.RegisterWindow(0, 4)
	tassert.CheckError(t, err)

	done := make(chan struct{})
	go func() {
		var out stat.Out
		tassert.CheckError(t, EventWait(job, 0, w.Handle, 0, 1, nil, &out))
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("event_wait must not return before the matching post")
	default:
	}

	var out stat.Out
	tassert.CheckError(t, EventPost(job, 0, w.Handle, 0, &out))
	<-done
}
