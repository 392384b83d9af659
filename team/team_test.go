package team

import (
	"sync"
	"testing"

	"github.com/sourceryinstitute/libcaf-go/stat"
	"github.com/sourceryinstitute/libcaf-go/tools/tassert"
)

func TestInitialTeamMembership(t *testing.T) {
	m := NewManager(4)
	for i := 0; i < 4; i++ {
		tassert.Fatalf(t, m.ThisImage(i, nil) == i+1, "this_image(%d) = %d, want %d", i, m.ThisImage(i, nil), i+1)
	}
	tassert.Fatalf(t, m.NumImages(0, nil) == 4, "num_images of initial team must be 4")
}

func TestFormTeamSplitsIntoTwoGroups(t *testing.T) {
	m := NewManager(4)
	var wg sync.WaitGroup
	comms := make([]*Communicator, 4)
	colors := []int64{1, 2, 1, 2} // images 0,2 -> team 1; images 1,3 -> team 2
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(img int) {
			defer wg.Done()
			var out stat.Out
			c, err := m.FormTeam(img, colors[img], img, &out)
			tassert.CheckError(t, err)
			comms[img] = c
		}(i)
	}
	wg.Wait()

	tassert.Fatalf(t, comms[0] == comms[2], "images 0 and 2 must land in the same formed communicator")
	tassert.Fatalf(t, comms[1] == comms[3], "images 1 and 3 must land in the same formed communicator")
	tassert.Fatalf(t, comms[0] != comms[1], "images of different team_id must land in different communicators")
	tassert.Fatalf(t, comms[0].NumImages() == 2, "formed team must have 2 members, got %d", comms[0].NumImages())
}

func TestChangeTeamEndTeamRoundTrip(t *testing.T) {
	m := NewManager(2)
	var out stat.Out
	origTeam := m.GetTeam(0, LevelCurrent)
	origThisImage := m.ThisImage(0, nil)
	origNumImages := m.NumImages(0, nil)

	// Single-member split: image 0 alone forms its own team.
	m.ChangeTeam(0, &Communicator{TeamID: 99, Members: []int{0}, index: map[int]int{0: 1}}, &out)
	tassert.Fatalf(t, m.ThisImage(0, nil) == 1, "this_image inside the new team must be 1")

	_, err := m.EndTeam(0, &out)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, m.GetTeam(0, LevelCurrent) == origTeam, "end_team must restore the prior communicator")
	tassert.Fatalf(t, m.ThisImage(0, nil) == origThisImage, "this_image must be restored after end_team")
	tassert.Fatalf(t, m.NumImages(0, nil) == origNumImages, "num_images must be restored after end_team")
}

func TestEndTeamCannotEndInitial(t *testing.T) {
	m := NewManager(1)
	var out stat.Out
	_, err := m.EndTeam(0, &out)
	tassert.Fatalf(t, err != nil, "end_team on the initial team must fail")
	tassert.Fatalf(t, out.Stat != stat.Success, "end_team on the initial team must set a failing stat")
}

func TestSyncTeamAcceptsAncestor(t *testing.T) {
	m := NewManager(1) // single-member teams so every barrier completes immediately
	var out stat.Out
	initial := m.GetTeam(0, LevelCurrent)
	m.ChangeTeam(0, &Communicator{TeamID: 7, Members: []int{0}, index: map[int]int{0: 1}}, &out)

	tassert.CheckError(t, m.SyncTeam(0, initial, &out))
	tassert.Fatalf(t, out.Stat == stat.Success, "sync_team against an ancestor must succeed")
}

func TestSyncTeamRejectsUnrelatedCommunicator(t *testing.T) {
	m := NewManager(1)
	var out stat.Out
	unrelated := &Communicator{TeamID: 123, Members: []int{0}, index: map[int]int{0: 1}}
	err := m.SyncTeam(0, unrelated, &out)
	tassert.Fatalf(t, err != nil, "sync_team against an unrelated communicator must fail")
}
