package caf

import (
	"encoding/binary"
	"testing"

	"github.com/sourceryinstitute/libcaf-go/descriptor"
	"github.com/sourceryinstitute/libcaf-go/stat"
	"github.com/sourceryinstitute/libcaf-go/team"
	"github.com/sourceryinstitute/libcaf-go/token"
	"github.com/sourceryinstitute/libcaf-go/tools/tassert"
)

func int64Tag() descriptor.TypeTag { return descriptor.TypeTag{Base: descriptor.TypeInteger, Kind: 8} }

func encodeI64(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

func decodeI64(b []byte) int64 { return int64(binary.LittleEndian.Uint64(b)) }

func TestInitNumImagesAndThisImage(t *testing.T) {
	rt, err := Init(3, 256)
	tassert.CheckError(t, err)
	defer rt.Finalize()
	for i, img := range rt.Images {
		tassert.Fatalf(t, img.ThisImage() == i, "got this_image=%d, want %d", img.ThisImage(), i)
		tassert.Fatalf(t, img.NumImages() == 3, "got num_images=%d, want 3", img.NumImages())
	}
}

func TestRegisterSendGetRoundTrip(t *testing.T) {
	rt, err := Init(2, 256)
	tassert.CheckError(t, err)
	defer rt.Finalize()

	var out stat.Out
	dst1, err := rt.Images[1].Register(8, token.KindStatic, nil, nil, &out)
	tassert.CheckError(t, err)

	shape := descriptor.NewScalar(nil, int64Tag())
	src := descriptor.NewScalar(encodeI64(42), int64Tag())
	tassert.CheckError(t, rt.Images[0].Send(dst1, 1, shape, src, &out))
	tassert.Fatalf(t, out.Stat == stat.Success, "send: got stat %v", out.Stat)

	back := descriptor.NewScalar(make([]byte, 8), int64Tag())
	tassert.CheckError(t, rt.Images[0].Get(dst1, 1, back, shape, &out))
	tassert.Fatalf(t, decodeI64(back.Base) == 42, "got %d, want 42", decodeI64(back.Base))
}

func TestIsPresentReflectsRegistration(t *testing.T) {
	rt, err := Init(2, 256)
	tassert.CheckError(t, err)
	defer rt.Finalize()

	var out stat.Out
	desc := descriptor.NewScalar(make([]byte, 8), int64Tag())
	tok, err := rt.Images[1].Register(8, token.KindStatic, desc, nil, &out)
	tassert.CheckError(t, err)

	present, err := rt.Images[0].IsPresent(1, tok, &out)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, present, "a token registered with a descriptor must report present")
}

func TestFormTeamAllSplitsIntoTwoGroups(t *testing.T) {
	rt, err := Init(4, 256)
	tassert.CheckError(t, err)
	defer rt.Finalize()

	teamIDs := map[int]int64{0: 1, 1: 2, 2: 1, 3: 2}
	newIdx := map[int]int{}
	comms, err := rt.FormTeamAll(teamIDs, newIdx)
	tassert.CheckError(t, err)

	tassert.Fatalf(t, comms[0].NumImages() == 2, "team 1 should have 2 members, got %d", comms[0].NumImages())
	tassert.Fatalf(t, comms[1].NumImages() == 2, "team 2 should have 2 members, got %d", comms[1].NumImages())
	tassert.Fatalf(t, comms[0] == comms[2], "images 0 and 2 share team_id 1, must share a communicator")
	tassert.Fatalf(t, comms[1] == comms[3], "images 1 and 3 share team_id 2, must share a communicator")
}

func TestSyncAllRendezvousesEveryImage(t *testing.T) {
	rt, err := Init(3, 64)
	tassert.CheckError(t, err)
	defer rt.Finalize()

	done := make(chan int, 3)
	for _, img := range rt.Images {
		img := img
		go func() {
			var out stat.Out
			tassert.CheckError(t, img.SyncAll(&out))
			done <- img.ID()
		}()
	}
	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		seen[<-done] = true
	}
	tassert.Fatalf(t, len(seen) == 3, "sync_all must release every image, got %d", len(seen))
}

func TestCoSumAcrossThreeImages(t *testing.T) {
	rt, err := Init(3, 64)
	tassert.CheckError(t, err)
	defer rt.Finalize()
	comm := rt.Images[0].GetTeam(team.LevelCurrent)

	values := []int64{1, 2, 3}
	results := make([][]byte, 3)
	done := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			var out stat.Out
			a := descriptor.NewScalar(encodeI64(values[i]), int64Tag())
			tassert.CheckError(t, rt.Images[i].CoSum(comm, a, 1, &out))
			results[i] = a.Base
			done <- i
		}()
	}
	for i := 0; i < 3; i++ {
		<-done
	}
	tassert.Fatalf(t, decodeI64(results[0]) == 6, "result_image must observe the sum, got %d", decodeI64(results[0]))
	tassert.Fatalf(t, decodeI64(results[1]) == 2, "non-result image must keep its value, got %d", decodeI64(results[1]))
}

func TestLockMutualExclusionAcrossImages(t *testing.T) {
	rt, err := Init(2, 64)
	tassert.CheckError(t, err)
	defer rt.Finalize()

	var out stat.Out
	tok, err := rt.Images[0].Register(4, token.KindLockStatic, nil, nil, &out)
	tassert.CheckError(t, err)
	tassert.CheckError(t, rt.Images[0].Unlock(0, tok.Window, tok.Offset, &out))

	acquired := make(chan int, 2)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			var lout stat.Out
			tassert.CheckError(t, rt.Images[i].Lock(0, tok.Window, tok.Offset, &lout))
			acquired <- i
			tassert.CheckError(t, rt.Images[i].Unlock(0, tok.Window, tok.Offset, &lout))
		}()
	}
	first := <-acquired
	second := <-acquired
	tassert.Fatalf(t, first != second, "both images reported acquiring the lock simultaneously")
}

func TestStopNumericMarksImageStoppedInsteadOfExiting(t *testing.T) {
	rt, err := Init(2, 64)
	tassert.CheckError(t, err)
	defer rt.Finalize()

	exitCode := -1
	orig := osExit
	osExit = func(code int) { exitCode = code }
	defer func() { osExit = orig }()

	rt.Images[0].StopNumeric(7)
	tassert.Fatalf(t, exitCode == 7, "got exit code %d, want 7", exitCode)
	tassert.Fatalf(t, rt.Images[1].ImageStatus(0) == team.ImageStopped, "image 0 must be observed stopped by image 1")
}

func TestErrorStopMarksImageFailed(t *testing.T) {
	rt, err := Init(2, 64)
	tassert.CheckError(t, err)
	defer rt.Finalize()

	orig := osExit
	osExit = func(int) {}
	defer func() { osExit = orig }()

	rt.Images[0].ErrorStop(1)
	tassert.Fatalf(t, rt.Images[1].ImageStatus(0) == team.ImageFailed, "error_stop must mark the image failed, not merely stopped")
}

func TestEndTeamFreesPrimaryTokenRegisteredInsideIt(t *testing.T) {
	rt, err := Init(2, 64)
	tassert.CheckError(t, err)
	defer rt.Finalize()

	// Split the initial team into two singleton teams so each image lands
	// in its own communicator without deadlocking on the other's call.
	comms, err := rt.FormTeamAll(map[int]int64{0: 1, 1: 2}, map[int]int{})
	tassert.CheckError(t, err)

	var out stat.Out
	rt.Images[0].ChangeTeam(comms[0], &out)

	tok, err := rt.Images[0].Register(8, token.KindStatic, nil, nil, &out)
	tassert.CheckError(t, err)

	tassert.CheckError(t, rt.Images[0].EndTeam(&out))

	shape := descriptor.NewScalar(make([]byte, 8), int64Tag())
	err = rt.Images[0].Get(tok, 0, shape, shape, &out)
	tassert.Fatalf(t, err != nil, "get against a token freed by end_team must fail, got nil error")
}

func TestRandomInitRepeatableIsDeterministic(t *testing.T) {
	rt, err := Init(1, 64)
	tassert.CheckError(t, err)
	defer rt.Finalize()

	rt.Images[0].RandomInit(true, false)
	a := rt.Images[0].Rand().Int63()
	rt.Images[0].RandomInit(true, false)
	b := rt.Images[0].Rand().Int63()
	tassert.Fatalf(t, a == b, "repeatable random_init must reproduce the same sequence")
}
