// Package collective implements sync/collectives/atomics/locks/events
// (component G): barriers, sync-images, co-broadcast/co-reduce, mutex
// lock/unlock, event post/wait/query, and atomic define/ref/cas/op. Every
// primitive here is one-sided: it addresses a peer's window directly
// through transport.Job rather than going through rfunc's accessor
// dispatch, matching "G never talks to the remote-function channel for
// atomics."
/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package collective

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/sourceryinstitute/libcaf-go/stat"
	"github.com/sourceryinstitute/libcaf-go/team"
	"github.com/sourceryinstitute/libcaf-go/transport"
)

// Flusher is implemented by the transfer engine's pending-put queue;
// SyncAll and SyncImages flush it before they rendezvous, matching the
// FIFO-then-sync ordering guarantee in spec.md §5.
type Flusher interface {
	FlushAll() error
}

type pairKey struct{ a, b int }

func newPairKey(a, b int) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

type exchangeKey struct {
	comm *team.Communicator
	tag  string
}

type exchangeState struct {
	mu   sync.Mutex
	want int
	got  map[int][]byte
	done chan struct{}
}

// Coordinator is the process-wide rendezvous point for every collective in
// this package: one per running program, shared by every image's goroutine
// the same way team.Manager and token.Manager are.
type Coordinator struct {
	teams  *team.Manager
	status *team.StatusRegistry

	mu    sync.Mutex
	pairs map[pairKey]*transport.Barrier
	exch  map[exchangeKey]*exchangeState
}

// NewCoordinator builds a Coordinator backed by teams for team-stack
// lookups and status for fail-fast checks (status may be nil, disabling
// failed-image short-circuiting).
func NewCoordinator(teams *team.Manager, status *team.StatusRegistry) *Coordinator {
	return &Coordinator{
		teams:  teams,
		status: status,
		pairs:  make(map[pairKey]*transport.Barrier),
		exch:   make(map[exchangeKey]*exchangeState),
	}
}

func (c *Coordinator) pairBarrier(a, b int) *transport.Barrier {
	k := newPairKey(a, b)
	c.mu.Lock()
	defer c.mu.Unlock()
	br, ok := c.pairs[k]
	if !ok {
		br = transport.NewBarrier(2)
		c.pairs[k] = br
	}
	return br
}

// exchange collects one payload per member of comm under tag, releasing
// every caller only once all NumImages() members have contributed — the
// same collect-until-N-arrive, delete-then-fan-out shape as
// team.Manager.FormTeam's formState, specialized to byte payloads instead
// of communicator membership.
func (c *Coordinator) exchange(comm *team.Communicator, tag string, localIdx int, payload []byte) map[int][]byte {
	key := exchangeKey{comm: comm, tag: tag}
	c.mu.Lock()
	es, ok := c.exch[key]
	if !ok {
		es = &exchangeState{want: comm.NumImages(), got: make(map[int][]byte), done: make(chan struct{})}
		c.exch[key] = es
	}
	c.mu.Unlock()

	es.mu.Lock()
	es.got[localIdx] = payload
	complete := len(es.got) == es.want
	es.mu.Unlock()

	if complete {
		c.mu.Lock()
		delete(c.exch, key)
		c.mu.Unlock()
		close(es.done)
	} else {
		<-es.done
	}

	es.mu.Lock()
	defer es.mu.Unlock()
	result := make(map[int][]byte, len(es.got))
	for k, v := range es.got {
		result[k] = v
	}
	return result
}

// SyncAll implements sync_all(): flush pending puts, then barrier on
// image's current team.
func (c *Coordinator) SyncAll(image int, f Flusher, out *stat.Out) error {
	if err := flush(f); err != nil {
		return out.Set(stat.Failure, err)
	}
	c.teams.Current(image).Barrier().Wait()
	out.Ok()
	return nil
}

// SyncTeam implements sync_team(): flush, then delegate to team.Manager's
// walk-the-stack barrier lookup.
func (c *Coordinator) SyncTeam(image int, comm *team.Communicator, f Flusher, out *stat.Out) error {
	if err := flush(f); err != nil {
		return out.Set(stat.Failure, err)
	}
	return c.teams.SyncTeam(image, comm, out)
}

// SyncImages implements sync_images(): pairwise rendezvous with every
// image in peers. Each pair is a 2-party barrier waited on concurrently so
// one slow peer does not serialize behind the others, matching "wait on
// all handles with waitany" in spirit if not in literal API shape.
func (c *Coordinator) SyncImages(image int, peers []int, f Flusher, out *stat.Out) error {
	if len(peers) == 0 {
		out.Ok()
		return nil
	}
	seen := make(map[int]bool, len(peers))
	for _, p := range peers {
		if seen[p] {
			return out.Set(stat.StatDupSyncImages, errors.Errorf("collective: sync_images: duplicate image %d", p))
		}
		seen[p] = true
	}
	if err := flush(f); err != nil {
		return out.Set(stat.Failure, err)
	}
	if c.status != nil {
		for _, p := range peers {
			if c.status.Get(p) == team.ImageStopped {
				return out.Set(stat.StatStoppedImage, errors.Errorf("collective: sync_images: image %d stopped", p))
			}
		}
	}
	var wg sync.WaitGroup
	wg.Add(len(peers))
	for _, p := range peers {
		p := p
		go func() {
			defer wg.Done()
			c.pairBarrier(image, p).Wait()
		}()
	}
	wg.Wait()
	out.Ok()
	return nil
}

func flush(f Flusher) error {
	if f == nil {
		return nil
	}
	if err := f.FlushAll(); err != nil {
		return errors.Wrap(err, "collective: flush pending puts")
	}
	return nil
}

func sortedKeys(m map[int][]byte) []int {
	ids := make([]int, 0, len(m))
	for k := range m {
		ids = append(ids, k)
	}
	sort.Ints(ids)
	return ids
}
