// Package team implements the team stack: a stack of communicator groups
// with id/index mapping, formed and changed
// collectively by every image that currently belongs to the team being
// split — the Go-native analogue of MPI_Comm_split/MPI_Comm_create_group.
//
// Window and message addressing elsewhere in this module always uses
// process-global image ids (the transport package's peer ids); a
// Communicator only carries the membership list and the caller-facing
// local numbering, so forming a team never needs to stand up a new
// transport substrate — it narrows which global ids a caller may address
// and how they number them.
/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package team

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/sourceryinstitute/libcaf-go/cmn/debug"
	"github.com/sourceryinstitute/libcaf-go/stat"
	"github.com/sourceryinstitute/libcaf-go/token"
	"github.com/sourceryinstitute/libcaf-go/transport"
)

// Level names the three queries get_team(level) accepts.
type Level int32

const (
	LevelInitial Level = iota
	LevelParent
	LevelCurrent
)

// Communicator is a named subset of images with its own 1-based numbering,
// per the GLOSSARY. Two images that formed the same team_id in the same
// round share a pointer-identical Communicator.
type Communicator struct {
	TeamID  int64
	Members []int // process-global image ids, ordered by new_index ascending
	index   map[int]int
}

func newCommunicator(teamID int64, members []member) *Communicator {
	sort.Slice(members, func(i, j int) bool { return members[i].newIndex < members[j].newIndex })
	c := &Communicator{TeamID: teamID, Members: make([]int, len(members)), index: make(map[int]int, len(members))}
	for i, mm := range members {
		c.Members[i] = mm.globalID
		c.index[mm.globalID] = i + 1 // 1-based
	}
	return c
}

// NumImages returns the size of the communicator.
func (c *Communicator) NumImages() int { return len(c.Members) }

// ThisImage returns globalID's 1-based local index, or 0 if globalID is
// not a member.
func (c *Communicator) ThisImage(globalID int) int { return c.index[globalID] }

// Node is one entry of a team stack: the communicator it refers to, the
// primary tokens born while it was current, and a parent pointer (teams
// form a tree, never a cycle).
type Node struct {
	Comm     *Communicator
	Parent   *Node
	tokens   []*token.Token
	barrier  *transport.Barrier
	barrierOnce sync.Once
}

func (n *Node) Barrier() *transport.Barrier {
	n.barrierOnce.Do(func() { n.barrier = transport.NewBarrier(n.Comm.NumImages()) })
	return n.barrier
}

// AddToken records a primary token as born inside n, so EndTeam can free
// every token registered in a team when it ends.
func (n *Node) AddToken(t *token.Token) { n.tokens = append(n.tokens, t) }

type member struct {
	globalID int
	newIndex int
}

type formState struct {
	mu     sync.Mutex
	want   int
	got    map[int]formEntry
	done   chan struct{}
	result map[int]*Communicator
	err    error
}

type formEntry struct {
	teamID   int64
	newIndex int
}

// Manager coordinates team formation/change/end across every image in a
// single process; one Manager instance is shared
// by every image's goroutine, distinguished by the imageID argument each
// call carries — the same arrangement the transport substrate uses for
// its Job/Peer split.
type Manager struct {
	mu      sync.Mutex
	current map[int]*Node
	initial map[int]*Node
	forming map[*Communicator]*formState
}

// NewManager builds the initial team containing every image 0..n-1, the
// root of every team's parent-pointer tree.
func NewManager(n int) *Manager {
	members := make([]member, n)
	for i := 0; i < n; i++ {
		members[i] = member{globalID: i, newIndex: i}
	}
	comm := newCommunicator(0, members)
	root := &Node{Comm: comm}
	m := &Manager{current: make(map[int]*Node, n), initial: make(map[int]*Node, n), forming: make(map[*Communicator]*formState)}
	for i := 0; i < n; i++ {
		m.current[i] = root
		m.initial[i] = root
	}
	return m
}

func (m *Manager) nodeFor(imageID int) *Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current[imageID]
}

// FormTeam implements form_team(): a collective rendezvous
// among every image currently in imageID's team. Every member must call
// this with the same round (i.e. while all are still in the same current
// team) before any of them returns; each caller supplies its own team_id
// (the "color") and new_index (the "key", defaulting to its own global id).
func (m *Manager) FormTeam(imageID int, teamID int64, newIndex int, out *stat.Out) (*Communicator, error) {
	if teamID < 0 || newIndex < 0 {
		return nil, out.Set(stat.Failure, errors.New("team: form_team: negative team_id or new_index"))
	}
	node := m.nodeFor(imageID)
	comm := node.Comm

	m.mu.Lock()
	fs, ok := m.forming[comm]
	if !ok {
		fs = &formState{want: comm.NumImages(), got: make(map[int]formEntry), done: make(chan struct{})}
		m.forming[comm] = fs
	}
	m.mu.Unlock()

	fs.mu.Lock()
	fs.got[imageID] = formEntry{teamID: teamID, newIndex: newIndex}
	complete := len(fs.got) == fs.want
	fs.mu.Unlock()

	if complete {
		groups := map[int64][]member{}
		for gid, e := range fs.got {
			groups[e.teamID] = append(groups[e.teamID], member{globalID: gid, newIndex: e.newIndex})
		}
		result := make(map[int]*Communicator, len(fs.got))
		for tid, mems := range groups {
			c := newCommunicator(tid, mems)
			for _, mm := range mems {
				result[mm.globalID] = c
			}
		}
		fs.mu.Lock()
		fs.result = result
		fs.mu.Unlock()
		m.mu.Lock()
		delete(m.forming, comm)
		m.mu.Unlock()
		close(fs.done)
	} else {
		<-fs.done
	}

	fs.mu.Lock()
	c := fs.result[imageID]
	fs.mu.Unlock()
	debug.Assert(c != nil, "team: form_team: image missing from its own result set")
	out.Ok()
	return c, nil
}

// ChangeTeam implements change_team(): pushes a node onto
// imageID's stack referring to comm and makes it current.
func (m *Manager) ChangeTeam(imageID int, comm *Communicator, out *stat.Out) *Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := &Node{Comm: comm, Parent: m.current[imageID]}
	m.current[imageID] = n
	out.Ok()
	return n
}

// EndTeam implements end_team(): pops imageID's stack. The initial team
// may never be ended. Returns the tokens born in the popped node so the
// caller can deregister them (freeing a team frees them).
func (m *Manager) EndTeam(imageID int, out *stat.Out) ([]*token.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.current[imageID]
	if n.Parent == nil {
		return nil, out.Set(stat.Failure, errors.New("team: end_team: cannot end the initial team"))
	}
	m.current[imageID] = n.Parent
	out.Ok()
	return n.tokens, nil
}

// SyncTeam implements sync_team(): a barrier against comm, which must be
// imageID's current team, an ancestor, or a descendant of it — any node
// reachable by walking the stack.
func (m *Manager) SyncTeam(imageID int, comm *Communicator, out *stat.Out) error {
	n := m.findNode(imageID, comm)
	if n == nil {
		return out.Set(stat.Failure, errors.New("team: sync_team: comm is neither current, ancestor, nor descendant"))
	}
	n.Barrier().Wait()
	out.Ok()
	return nil
}

func (m *Manager) findNode(imageID int, comm *Communicator) *Node {
	m.mu.Lock()
	n := m.current[imageID]
	m.mu.Unlock()
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Comm == comm {
			return cur
		}
	}
	return nil
}

// ThisImage returns imageID's 1-based local index within comm, or within
// the current team if comm is nil.
func (m *Manager) ThisImage(imageID int, comm *Communicator) int {
	if comm == nil {
		comm = m.nodeFor(imageID).Comm
	}
	return comm.ThisImage(imageID)
}

// NumImages returns comm's size, or the current team's size if comm is nil.
func (m *Manager) NumImages(imageID int, comm *Communicator) int {
	if comm == nil {
		comm = m.nodeFor(imageID).Comm
	}
	return comm.NumImages()
}

// TeamNumber returns comm's team_id.
func (m *Manager) TeamNumber(comm *Communicator) int64 { return comm.TeamID }

// GetTeam returns the communicator handle for one of the three levels.
func (m *Manager) GetTeam(imageID int, level Level) *Communicator {
	switch level {
	case LevelInitial:
		return m.initial[imageID].Comm
	case LevelParent:
		if p := m.nodeFor(imageID).Parent; p != nil {
			return p.Comm
		}
		return m.initial[imageID].Comm
	default:
		return m.nodeFor(imageID).Comm
	}
}

// GetCommunicator returns comm, or the current team's communicator if nil.
func (m *Manager) GetCommunicator(imageID int, comm *Communicator) *Communicator {
	if comm != nil {
		return comm
	}
	return m.nodeFor(imageID).Comm
}

// Current returns imageID's current team node, for callers (caf,
// collective) that need to register tokens against it or read its
// communicator.
func (m *Manager) Current(imageID int) *Node { return m.nodeFor(imageID) }

// ImageStatus is the runtime-observable state of one peer: alive, stopped,
// or failed, per the GLOSSARY entry of the same name.
type ImageStatus int32

const (
	ImageAlive ImageStatus = iota
	ImageStopped
	ImageFailed
)

func (s ImageStatus) String() string {
	switch s {
	case ImageStopped:
		return "stopped"
	case ImageFailed:
		return "failed"
	default:
		return "alive"
	}
}

// StatusRegistry is the process-wide per-image status table: updates are
// broadcast eagerly on image termination (spec.md §7 tier 2) and consulted
// by sync_images/lock/event_wait before they commit to a wait (sync_all
// does not read it).
type StatusRegistry struct {
	mu     sync.Mutex
	status map[int]ImageStatus
}

// NewStatusRegistry builds a registry with every one of n images alive.
func NewStatusRegistry(n int) *StatusRegistry {
	r := &StatusRegistry{status: make(map[int]ImageStatus, n)}
	for i := 0; i < n; i++ {
		r.status[i] = ImageAlive
	}
	return r
}

// Get returns image's current status.
func (r *StatusRegistry) Get(image int) ImageStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status[image]
}

// SetStopped records image as having executed a normal STOP.
func (r *StatusRegistry) SetStopped(image int) { r.set(image, ImageStopped) }

// SetFailed records image as failed, the ABI's fail_image.
func (r *StatusRegistry) SetFailed(image int) { r.set(image, ImageFailed) }

func (r *StatusRegistry) set(image int, s ImageStatus) {
	r.mu.Lock()
	r.status[image] = s
	r.mu.Unlock()
}

// StoppedImages and FailedImages implement the ABI queries of the same
// name: the sorted list of images currently in that state.
func (r *StatusRegistry) StoppedImages() []int { return r.filtered(ImageStopped) }
func (r *StatusRegistry) FailedImages() []int  { return r.filtered(ImageFailed) }

func (r *StatusRegistry) filtered(want ImageStatus) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for id, s := range r.status {
		if s == want {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}
