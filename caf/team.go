/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package caf

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/teris-io/shortid"
	"golang.org/x/sync/errgroup"

	"github.com/sourceryinstitute/libcaf-go/cmn/nlog"
	"github.com/sourceryinstitute/libcaf-go/stat"
	"github.com/sourceryinstitute/libcaf-go/team"
	"github.com/sourceryinstitute/libcaf-go/token"
)

// FormTeam implements form_team() for this image. newIndex <= 0 means the
// caller left NEW_INDEX absent: this image's own id is used for
// membership ordering, and a shortid label is generated purely so the log
// line below can name the round without exposing the numeric id as if it
// were meaningful on its own.
func (img *Image) FormTeam(teamID int64, newIndex int, out *stat.Out) (*team.Communicator, error) {
	if newIndex <= 0 {
		newIndex = img.id
		if label, err := shortid.Generate(); err == nil {
			nlog.Infof("caf: form_team: image %d defaulted new_index, round=%s", img.id, label)
		}
	}
	return img.rt.teams.FormTeam(img.id, teamID, newIndex, out)
}

// FormTeamAll drives form_team for every image concurrently through an
// errgroup.Group. A real program has each image call form_team from its
// own process; this is the single-process equivalent a test harness or
// scripted multi-image driver uses to exercise that same collective
// rendezvous without spawning one goroutine call site per image by hand.
func (rt *Runtime) FormTeamAll(teamIDs map[int]int64, newIndices map[int]int) (map[int]*team.Communicator, error) {
	var g errgroup.Group
	var mu sync.Mutex
	results := make(map[int]*team.Communicator, len(rt.Images))
	for _, img := range rt.Images {
		img := img
		g.Go(func() error {
			var out stat.Out
			comm, err := img.FormTeam(teamIDs[img.id], newIndices[img.id], &out)
			if err != nil {
				return errors.Wrapf(err, "caf: form_team_all: image %d", img.id)
			}
			mu.Lock()
			results[img.id] = comm
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ChangeTeam implements change_team().
func (img *Image) ChangeTeam(comm *team.Communicator, out *stat.Out) *team.Node {
	return img.rt.teams.ChangeTeam(img.id, comm, out)
}

// EndTeam implements end_team(): pops this image's team stack and frees
// every token born while the popped team was current.
func (img *Image) EndTeam(out *stat.Out) error {
	tokens, err := img.rt.teams.EndTeam(img.id, out)
	if err != nil {
		return err
	}
	for _, t := range tokens {
		var dout stat.Out
		if derr := img.tokens.Deregister(t, token.ModeFull, &dout); derr != nil {
			nlog.Warningf("caf: end_team: image %d: releasing team-scoped token: %v", img.id, derr)
		}
	}
	return nil
}

// SyncTeam implements sync_team().
func (img *Image) SyncTeam(comm *team.Communicator, out *stat.Out) error {
	return img.rt.coord.SyncTeam(img.id, comm, img.engine, out)
}

// TeamNumber, GetTeam, and GetCommunicator implement the corresponding
// read-only team queries.
func (img *Image) TeamNumber(comm *team.Communicator) int64 { return img.rt.teams.TeamNumber(comm) }

func (img *Image) GetTeam(level team.Level) *team.Communicator {
	return img.rt.teams.GetTeam(img.id, level)
}

func (img *Image) GetCommunicator(comm *team.Communicator) *team.Communicator {
	return img.rt.teams.GetCommunicator(img.id, comm)
}
