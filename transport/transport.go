// Package transport is the one-sided message-passing substrate every other
// component in this module runs on top of — a Go-native stand-in for an
// MPI-3 RMA layer. Each image is a goroutine-hosted Peer; windows are
// named byte arenas a Peer exposes, reachable from any other Peer by
// (image, window handle, offset) triples. Point-to-point request/reply
// traffic (used by the remote-function channel) goes through Send, which
// calls the destination image's installed Handler directly; sync traffic
// uses Barrier and never passes through a Handler.
//
// There is exactly one process here, so a window is a mutex-guarded byte
// arena and a request is a function call instead of a socket.
/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package transport

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Handle names a window, unique within the Job that created it.
type Handle uint64

var (
	ErrNoSuchImage  = errors.New("transport: no such image")
	ErrNoSuchWindow = errors.New("transport: no such window")
	ErrClosed       = errors.New("transport: job is closed")
)

// Window is a named, lockable byte arena exposed by one Peer. All RMA-style
// primitives (Put/Get/FetchAndAdd/CompareAndSwap) serialize through its
// mutex; this is the substrate's analogue of an MPI-3 passive-target
// access epoch, collapsed to a single critical section per operation since
// there is no real network round trip to overlap.
type Window struct {
	Handle Handle
	Owner  int // image id
	mu     sync.Mutex
	data   []byte
	unmap  func()
}

func newWindow(handle Handle, owner int, size int64) *Window {
	return &Window{Handle: handle, Owner: owner, data: make([]byte, size)}
}

// newStaticWindow backs the window with a static arena (mmap on unix, a
// plain slice elsewhere — see arena_unix.go/arena_other.go) instead of an
// ordinary heap slice, for windows registered against Kind static tokens.
func newStaticWindow(handle Handle, owner int, size int64) (*Window, error) {
	data, unmap, err := newStaticArena(size)
	if err != nil {
		return nil, err
	}
	return &Window{Handle: handle, Owner: owner, data: data, unmap: unmap}, nil
}

func (w *Window) Len() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(len(w.data))
}

func (w *Window) put(offset int64, src []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if offset < 0 || offset+int64(len(src)) > int64(len(w.data)) {
		return errors.Errorf("transport: put out of bounds (offset=%d len=%d size=%d)", offset, len(src), len(w.data))
	}
	copy(w.data[offset:], src)
	return nil
}

func (w *Window) get(offset int64, n int64) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if offset < 0 || offset+n > int64(len(w.data)) {
		return nil, errors.Errorf("transport: get out of bounds (offset=%d len=%d size=%d)", offset, n, len(w.data))
	}
	out := make([]byte, n)
	copy(out, w.data[offset:offset+n])
	return out, nil
}

// resize grows the window in place, used when a slave token attaches
// additional component payload to the global dynamic window.
func (w *Window) resize(n int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n > int64(len(w.data)) {
		grown := make([]byte, n)
		copy(grown, w.data)
		w.data = grown
	}
}

// fetchAndAddInt64 atomically adds delta to the int64 at offset and returns
// the pre-update value.
func (w *Window) fetchAndAddInt64(offset int64, delta int64) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if offset < 0 || offset+8 > int64(len(w.data)) {
		return 0, errors.New("transport: fetch_and_add out of bounds")
	}
	old := beInt64(w.data[offset:])
	putBeInt64(w.data[offset:], old+delta)
	return old, nil
}

// fetchAndAddInt32 is fetchAndAddInt64's 4-byte counterpart, used by
// event post/wait (token.go reserves lock/event storage as size*4 bytes,
// one int32 per slot, so event counters live in 4-byte slots rather than
// 8-byte ones).
func (w *Window) fetchAndAddInt32(offset int64, delta int32) (int32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if offset < 0 || offset+4 > int64(len(w.data)) {
		return 0, errors.New("transport: fetch_and_add32 out of bounds")
	}
	old := beInt32(w.data[offset:])
	putBeInt32(w.data[offset:], old+delta)
	return old, nil
}

func (w *Window) compareAndSwapInt32(offset int64, old, new int32) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if offset < 0 || offset+4 > int64(len(w.data)) {
		return false, errors.New("transport: compare_and_swap out of bounds")
	}
	cur := beInt32(w.data[offset:])
	if cur != old {
		return false, nil
	}
	putBeInt32(w.data[offset:], new)
	return true, nil
}

func (w *Window) readInt32(offset int64) (int32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if offset < 0 || offset+4 > int64(len(w.data)) {
		return 0, errors.New("transport: read out of bounds")
	}
	return beInt32(w.data[offset:]), nil
}

// Handler processes an inbound message and returns the reply payload,
// installed by rfunc as the per-image dispatcher for remote-function
// requests.
type Handler func(from int, msg *Message) (*Reply, error)

// Peer is one image's local state: the windows it owns and the inbox it
// serves point-to-point requests from.
type Peer struct {
	ID      int
	job     *Job
	mu      sync.RWMutex
	windows map[Handle]*Window
	handler Handler
}

// Job is the process-wide set of peers — the Go analogue of MPI_COMM_WORLD
// (or a sub-communicator after Team formation). One Job backs every team;
// the team package forms teams over subsets of its peers rather than
// creating narrower Jobs.
type Job struct {
	mu       sync.RWMutex
	peers    map[int]*Peer
	nextH    uint64
	closed   bool
	msgsSent prometheus.Counter
	msgsRecv prometheus.Counter
}

// NewJob creates a substrate with n images, ids 0..n-1 internally (the
// caller-facing 1-based numbering lives in the team package).
func NewJob(n int) *Job {
	j := &Job{
		peers: make(map[int]*Peer, n),
		msgsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caf_transport_messages_sent_total",
			Help: "Remote-function and RMA messages sent on this substrate.",
		}),
		msgsRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caf_transport_messages_received_total",
			Help: "Remote-function and RMA messages received on this substrate.",
		}),
	}
	for i := 0; i < n; i++ {
		j.peers[i] = &Peer{ID: i, job: j, windows: make(map[Handle]*Window)}
	}
	return j
}

func (j *Job) NumImages() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.peers)
}

func (j *Job) peer(id int) (*Peer, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}
	p, ok := j.peers[id]
	if !ok {
		return nil, ErrNoSuchImage
	}
	return p, nil
}

// Close tears down the job; subsequent operations return ErrClosed.
func (j *Job) Close() {
	j.mu.Lock()
	j.closed = true
	j.mu.Unlock()
}

// RegisterWindow creates a new window of size bytes owned by image id.
func (j *Job) RegisterWindow(id int, size int64) (*Window, error) {
	p, err := j.peer(id)
	if err != nil {
		return nil, err
	}
	j.mu.Lock()
	j.nextH++
	h := Handle(j.nextH)
	j.mu.Unlock()
	w := newWindow(h, id, size)
	p.mu.Lock()
	p.windows[h] = w
	p.mu.Unlock()
	return w, nil
}

// RegisterStaticWindow is RegisterWindow for a window that is known to live
// for the image's whole lifetime (a Kind static token): its backing arena
// is mmap'd rather than heap-allocated where the platform supports it, so
// it never moves under the garbage collector's compactor and never shares
// a page with unrelated heap objects.
func (j *Job) RegisterStaticWindow(id int, size int64) (*Window, error) {
	p, err := j.peer(id)
	if err != nil {
		return nil, err
	}
	j.mu.Lock()
	j.nextH++
	h := Handle(j.nextH)
	j.mu.Unlock()
	w, err := newStaticWindow(h, id, size)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.windows[h] = w
	p.mu.Unlock()
	return w, nil
}

// DeregisterWindow removes a window from its owner's table. It does not
// zero or reuse the handle; a stale handle after this call resolves to
// ErrNoSuchWindow, matching "deregister... removes from the team's list".
func (j *Job) DeregisterWindow(id int, h Handle) error {
	p, err := j.peer(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.windows[h]
	if !ok {
		return ErrNoSuchWindow
	}
	if w.unmap != nil {
		w.unmap()
	}
	delete(p.windows, h)
	return nil
}

func (j *Job) window(id int, h Handle) (*Window, error) {
	p, err := j.peer(id)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.windows[h]
	if !ok {
		return nil, ErrNoSuchWindow
	}
	return w, nil
}

// Put copies src into image `to`'s window at offset — a one-sided RMA put.
func (j *Job) Put(to int, h Handle, offset int64, src []byte) error {
	w, err := j.window(to, h)
	if err != nil {
		return err
	}
	return w.put(offset, src)
}

// Get reads n bytes from image `from`'s window at offset.
func (j *Job) Get(from int, h Handle, offset, n int64) ([]byte, error) {
	w, err := j.window(from, h)
	if err != nil {
		return nil, err
	}
	return w.get(offset, n)
}

func (j *Job) ResizeWindow(id int, h Handle, n int64) error {
	w, err := j.window(id, h)
	if err != nil {
		return err
	}
	w.resize(n)
	return nil
}

func (j *Job) FetchAndAddInt64(to int, h Handle, offset, delta int64) (int64, error) {
	w, err := j.window(to, h)
	if err != nil {
		return 0, err
	}
	return w.fetchAndAddInt64(offset, delta)
}

func (j *Job) FetchAndAddInt32(to int, h Handle, offset int64, delta int32) (int32, error) {
	w, err := j.window(to, h)
	if err != nil {
		return 0, err
	}
	return w.fetchAndAddInt32(offset, delta)
}

func (j *Job) CompareAndSwapInt32(to int, h Handle, offset int64, old, new int32) (bool, error) {
	w, err := j.window(to, h)
	if err != nil {
		return false, err
	}
	return w.compareAndSwapInt32(offset, old, new)
}

func (j *Job) ReadInt32(to int, h Handle, offset int64) (int32, error) {
	w, err := j.window(to, h)
	if err != nil {
		return 0, err
	}
	return w.readInt32(offset)
}

// SetHandler installs image id's inbound request dispatcher (rfunc's
// communication-thread entry point).
func (j *Job) SetHandler(id int, h Handler) error {
	p, err := j.peer(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
	return nil
}

// Send delivers msg to image `to` and blocks for its reply, the substrate
// primitive behind every remote-function request. Self-addressed
// sends still go through the handler (callers wanting the true bypass
// optimization call the handler directly; rfunc does this, see its
// "Self-optimization" handling).
func (j *Job) Send(to int, msg *Message) (*Reply, error) {
	p, err := j.peer(to)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	h := p.handler
	p.mu.RUnlock()
	if h == nil {
		return nil, errors.Errorf("transport: image %d has no registered handler", to)
	}
	j.msgsSent.Inc()
	reply, err := h(msg.SrcImage, msg)
	if err == nil {
		j.msgsRecv.Inc()
	}
	return reply, err
}

// Barrier's Wait blocks until n callers have called Wait in the same
// generation, the substrate primitive behind sync_all/sync_team.
// Implemented as an arrival count plus one channel closed per generation
// rather than a counting semaphore, so a caller that never shows up blocks
// the others visibly instead of silently completing a partial barrier.
type Barrier struct {
	mu      sync.Mutex
	arrived int
	n       int
	gen     int
	ch      chan struct{}
}

func NewBarrier(n int) *Barrier {
	return &Barrier{n: n, ch: make(chan struct{})}
}

func (b *Barrier) Wait() {
	b.mu.Lock()
	gen := b.gen
	b.arrived++
	if b.arrived == b.n {
		b.arrived = 0
		b.gen++
		close(b.ch)
		b.ch = make(chan struct{})
		b.mu.Unlock()
		return
	}
	ch := b.ch
	b.mu.Unlock()
	<-ch
	_ = gen
}

