// Package caf is the ABI-facing façade: it wires every component (A-G)
// together into a running multi-image process and exposes the flat
// operation surface named in spec.md §6 as methods on Runtime/Image,
// instead of scattering that wiring across each call site. Its
// terminate.go stop/error_stop family ends the process with os.Exit; the
// only other os.Exit call in the module is nlog.Fatalf.
/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package caf

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/sourceryinstitute/libcaf-go/collective"
	"github.com/sourceryinstitute/libcaf-go/descriptor"
	"github.com/sourceryinstitute/libcaf-go/memsys"
	"github.com/sourceryinstitute/libcaf-go/refchain"
	"github.com/sourceryinstitute/libcaf-go/rfunc"
	"github.com/sourceryinstitute/libcaf-go/stat"
	"github.com/sourceryinstitute/libcaf-go/team"
	"github.com/sourceryinstitute/libcaf-go/token"
	"github.com/sourceryinstitute/libcaf-go/transport"
	"github.com/sourceryinstitute/libcaf-go/xfer"
)

// Image is one image's view of the running program: its own token
// manager, transfer engine, reference-chain interpreter, and
// remote-function manager, plus the process-wide collaborators (team
// stack, accessor table, collective coordinator) it shares with every
// other image.
type Image struct {
	id  int
	rt  *Runtime

	tokens  *token.Manager
	engine  *xfer.Engine
	interp  *refchain.Interpreter
	channel *rfunc.Channel
	rfuncs  *rfunc.Manager

	presentHash int64
	rng         *rand.Rand
}

// Runtime is the process-wide state init() builds once: the transport
// substrate, the team stack, image status, the shared accessor table, the
// collective coordinator, and every image's own per-image state.
type Runtime struct {
	job    *transport.Job
	teams  *team.Manager
	status *team.StatusRegistry
	table  *rfunc.Table
	coord  *collective.Coordinator
	mmsa   *memsys.MMSA

	Images []*Image
}

// Init implements init(): stands up n images and the process-wide global
// dynamic window of globalWindowSize bytes on each, the coarray runtime's
// equivalent of MPI_Init plus the collective allocation of the window
// every slave token eventually attaches to.
func Init(n int, globalWindowSize int64) (*Runtime, error) {
	if n <= 0 {
		return nil, errors.New("caf: init: n must be positive")
	}
	job := transport.NewJob(n)
	rt := &Runtime{
		job:    job,
		teams:  team.NewManager(n),
		status: team.NewStatusRegistry(n),
		table:  rfunc.NewTable(),
		mmsa:   memsys.NewMMSA(),
	}
	rt.coord = collective.NewCoordinator(rt.teams, rt.status)

	channels := make(map[int]*rfunc.Channel, n)
	images := make([]*Image, n)
	for i := 0; i < n; i++ {
		tm, err := token.NewManager(job, i, globalWindowSize)
		if err != nil {
			return nil, errors.Wrapf(err, "caf: init: image %d", i)
		}
		ch := rfunc.NewChannel(job, i, rt.table)
		channels[i] = ch
		img := &Image{
			id:      i,
			rt:      rt,
			tokens:  tm,
			engine:  xfer.NewEngine(job, i, rt.mmsa),
			interp:  refchain.NewInterpreter(job),
			channel: ch,
			rng:     rand.New(rand.NewSource(int64(i) + 1)),
		}
		img.presentHash = rt.table.RegisterPredicate(fmt.Sprintf("caf/is_present/%d", i), img.checkOwnPresence)
		images[i] = img
	}
	for i, img := range images {
		img.rfuncs = rfunc.NewManager(job, i, rt.table, channels)
	}
	rt.table.Finish()
	rt.Images = images
	return rt, nil
}

// checkOwnPresence is the predicate every image registers for itself so a
// remote is_present can ask, by hash, whether this image's token at the
// window/offset addData names has been allocated; it never consults
// another image's state.
func (img *Image) checkOwnPresence(addData []byte) (bool, error) {
	h, off, err := decodeHandleOffset(addData)
	if err != nil {
		return false, err
	}
	for _, t := range img.tokens.Tokens() {
		if t.Window == h && t.Offset == off {
			return t.Desc != nil || t.Size > 0, nil
		}
	}
	return false, nil
}

func encodeHandleOffset(h transport.Handle, off int64) []byte {
	b := make([]byte, 16)
	putBE(b, uint64(h))
	putBE(b[8:], uint64(off))
	return b
}

func decodeHandleOffset(b []byte) (transport.Handle, int64, error) {
	if len(b) < 16 {
		return 0, 0, errors.New("caf: is_present: malformed add-data")
	}
	return transport.Handle(getBE(b)), int64(getBE(b[8:])), nil
}

func putBE(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func getBE(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Finalize implements finalize(): stops every image's communication
// thread and closes the transport substrate, after which no operation in
// this package may be called again.
func (rt *Runtime) Finalize() {
	for _, img := range rt.Images {
		img.channel.Close()
	}
	rt.job.Close()
}

// ThisImage and NumImages implement this_image()/num_images() with no
// team argument (the initial team).
func (img *Image) ThisImage() int   { return img.id }
func (img *Image) NumImages() int   { return len(img.rt.Images) }
func (img *Image) ID() int          { return img.id }

// Register implements register(): delegates to this image's token
// manager, marks the new token present in the local cache so a later
// is_present against it can short-circuit without a round trip, and, for
// a primary token, records it against the currently active team so
// EndTeam can free it when that team ends.
func (img *Image) Register(size int64, kind token.Kind, desc *descriptor.Descriptor, existing *token.Token, out *stat.Out) (*token.Token, error) {
	t, err := img.tokens.Register(size, kind, desc, existing, out)
	if err != nil {
		return nil, err
	}
	img.tokens.MarkPresent(t)
	if t.Primary {
		img.rt.teams.Current(img.id).AddToken(t)
	}
	return t, nil
}

// Deregister implements deregister().
func (img *Image) Deregister(t *token.Token, mode token.Mode, out *stat.Out) error {
	return img.tokens.Deregister(t, mode, out)
}

// SyncMemory implements sync_memory(): flushes this image's pending
// non-blocking puts.
func (img *Image) SyncMemory(out *stat.Out) error {
	if err := img.tokens.SyncMemory(img.engine); err != nil {
		return out.Set(stat.Failure, err)
	}
	out.Ok()
	return nil
}

// GlobalWindow exposes this image's global dynamic window handle, the one
// every slave token it registers attaches to.
func (img *Image) GlobalWindow() transport.Handle { return img.tokens.GlobalWindow() }

// Rand returns this image's PRNG, reseeded by RandomInit.
func (img *Image) Rand() *rand.Rand { return img.rng }
