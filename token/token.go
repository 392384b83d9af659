// Package token implements the window & token manager: registration and
// lifecycle of windowed memory, the process-wide global dynamic window,
// and the leaf "slave" tokens that expose derived-type component memory
// through it.
/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package token

import (
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/sourceryinstitute/libcaf-go/cmn/debug"
	"github.com/sourceryinstitute/libcaf-go/cmn/nlog"
	"github.com/sourceryinstitute/libcaf-go/descriptor"
	"github.com/sourceryinstitute/libcaf-go/stat"
	"github.com/sourceryinstitute/libcaf-go/transport"
)

// Kind enumerates the registration kinds.
type Kind int32

const (
	KindStatic Kind = iota
	KindAllocatable
	KindLockStatic
	KindLockAlloc
	KindCritical
	KindEventStatic
	KindEventAlloc
	KindComponentRegisterOnly
	KindComponentAllocateOnly
)

func (k Kind) isComponent() bool {
	return k == KindComponentRegisterOnly || k == KindComponentAllocateOnly
}

func (k Kind) isLockOrEvent() bool {
	return k == KindLockStatic || k == KindLockAlloc || k == KindEventStatic || k == KindEventAlloc || k == KindCritical
}

// Mode enumerates deregister modes.
type Mode int32

const (
	ModeFull Mode = iota
	ModeDataOnly
)

// Token is the runtime handle naming a window and its data. A primary
// token owns a dedicated window; a slave token's Window field
// instead names the process-wide global dynamic window it is attached to.
type Token struct {
	Kind    Kind
	Primary bool
	Image   int // owning image id
	Window  transport.Handle
	Offset  int64 // byte offset of this token's payload within Window
	Size    int64
	Desc    *descriptor.Descriptor // optional

	mgr *Manager
}

// IsSlave reports whether t is a slave token (attached to the global
// dynamic window rather than owning a window of its own).
func (t *Token) IsSlave() bool { return !t.Primary }

// Flusher is implemented by the transfer engine's pending-put queue;
// SyncMemory delegates to it so this package does not need to import the
// transfer engine (its natural dependency direction runs the other way).
type Flusher interface {
	FlushAll() error
}

// Manager owns one image's registry of primary and slave tokens plus its
// view of the process-wide global dynamic window.
type Manager struct {
	job       *transport.Job
	imageID   int
	mu        sync.Mutex
	globalWin transport.Handle
	globalLen int64
	tokens    map[*Token]struct{}
	present   *cuckoo.Filter // presence cache: tokens marked when they are registered
}

// NewManager creates the token manager for image id on job, attaching (or
// creating) the global dynamic window shared by every image for slave
// token exposure.
func NewManager(job *transport.Job, imageID int, globalWindowSize int64) (*Manager, error) {
	w, err := job.RegisterWindow(imageID, globalWindowSize)
	if err != nil {
		return nil, err
	}
	return &Manager{
		job:       job,
		imageID:   imageID,
		globalWin: w.Handle,
		globalLen: globalWindowSize,
		tokens:    make(map[*Token]struct{}),
		present:   cuckoo.NewDefaultCuckooFilter(),
	}, nil
}

// GlobalWindow returns the handle of this image's global dynamic window,
// the one every slave token on this image is attached to.
func (m *Manager) GlobalWindow() transport.Handle { return m.globalWin }

// Register implements register(). For lock/event kinds the
// storage is size*4 bytes (one int32 per slot) zeroed. Component kinds
// either create a new slave token attached to the global dynamic window
// (KindComponentRegisterOnly) or allocate payload inside an
// already-attached slave token (KindComponentAllocateOnly, requires an
// existing token passed as `existing`).
func (m *Manager) Register(size int64, kind Kind, desc *descriptor.Descriptor, existing *Token, out *stat.Out) (*Token, error) {
	if kind.isLockOrEvent() {
		size *= 4
	}
	switch {
	case kind == KindComponentAllocateOnly:
		return m.allocateComponentPayload(existing, size, desc, out)
	case kind.isComponent():
		return m.registerSlave(size, kind, desc, out)
	default:
		return m.registerPrimary(size, kind, desc, out)
	}
}

func (m *Manager) registerPrimary(size int64, kind Kind, desc *descriptor.Descriptor, out *stat.Out) (*Token, error) {
	register := m.job.RegisterWindow
	if kind == KindStatic {
		register = m.job.RegisterStaticWindow
	}
	w, err := register(m.imageID, size)
	if err != nil {
		return nil, out.Set(stat.ErrMemAllocation, err)
	}
	t := &Token{Kind: kind, Primary: true, Image: m.imageID, Window: w.Handle, Size: size, Desc: desc, mgr: m}
	m.mu.Lock()
	m.tokens[t] = struct{}{}
	m.mu.Unlock()
	out.Ok()
	return t, nil
}

func (m *Manager) registerSlave(size int64, kind Kind, desc *descriptor.Descriptor, out *stat.Out) (*Token, error) {
	m.mu.Lock()
	off := m.globalLen
	m.globalLen += size
	grow := m.globalLen
	m.mu.Unlock()
	if err := m.job.ResizeWindow(m.imageID, m.globalWin, grow); err != nil {
		return nil, out.Set(stat.ErrMemAllocation, err)
	}
	t := &Token{Kind: kind, Primary: false, Image: m.imageID, Window: m.globalWin, Offset: off, Size: size, Desc: desc, mgr: m}
	m.mu.Lock()
	m.tokens[t] = struct{}{}
	m.mu.Unlock()
	out.Ok()
	return t, nil
}

func (m *Manager) allocateComponentPayload(existing *Token, size int64, desc *descriptor.Descriptor, out *stat.Out) (*Token, error) {
	if existing == nil || existing.Primary {
		return nil, out.Set(stat.InvalidDescriptor, errNilSlave)
	}
	m.mu.Lock()
	off := m.globalLen
	m.globalLen += size
	grow := m.globalLen
	m.mu.Unlock()
	if err := m.job.ResizeWindow(m.imageID, m.globalWin, grow); err != nil {
		return nil, out.Set(stat.ErrMemAllocation, err)
	}
	existing.Offset = off
	existing.Size = size
	existing.Desc = desc
	out.Ok()
	return existing, nil
}

var errNilSlave = debugErr("token: component_allocate_only requires an existing slave token")

type debugErr string

func (e debugErr) Error() string { return string(e) }

// Deregister implements deregister(). Full mode releases the
// window (primary tokens) and removes t from the manager's registry;
// data-only mode reports success without changing anything: the payload,
// a primary token's window and a slave token's global-window attachment
// all stay as they were, and t stays registered.
func (m *Manager) Deregister(t *Token, mode Mode, out *stat.Out) error {
	debug.Assert(t != nil, "deregister: nil token")
	if mode == ModeDataOnly {
		out.Ok()
		return nil
	}
	m.mu.Lock()
	_, known := m.tokens[t]
	delete(m.tokens, t)
	m.mu.Unlock()
	if !known {
		return out.Set(stat.InvalidDescriptor, errUnknownToken)
	}
	if t.Primary {
		if err := m.job.DeregisterWindow(m.imageID, t.Window); err != nil {
			return out.Set(stat.Failure, err)
		}
	}
	out.Ok()
	return nil
}

var errUnknownToken = debugErr("token: deregister of unknown or already-freed token")

// SyncMemory implements sync_memory: flush any pending non-blocking puts
// before returning.
func (m *Manager) SyncMemory(f Flusher) error {
	if f == nil {
		return nil
	}
	return f.FlushAll()
}

// Tokens returns a snapshot of currently registered tokens, used by caf's
// checkOwnPresence to find the token a presence query names.
func (m *Manager) Tokens() []*Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Token, 0, len(m.tokens))
	for t := range m.tokens {
		out = append(out, t)
	}
	return out
}

// MarkPresent / MightBePresent implement a fast-path presence cache: a
// cuckoofilter hit still requires the authoritative round trip through
// rfunc's `present` command, but a miss lets is_present avoid it entirely.
func (m *Manager) MarkPresent(t *Token) {
	key := presenceKey(t)
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok := m.present.InsertUnique(key); !ok {
		nlog.Infof("token: presence filter saturated for image %d", m.imageID)
	}
}

func (m *Manager) MightBePresent(t *Token) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.present.Lookup(presenceKey(t))
}

func presenceKey(t *Token) []byte {
	b := make([]byte, 16)
	putBeInt64(b, int64(t.Window))
	putBeInt64(b[8:], t.Offset)
	return b
}

func putBeInt64(b []byte, v int64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
