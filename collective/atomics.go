package collective

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/sourceryinstitute/libcaf-go/cmn/config"
	"github.com/sourceryinstitute/libcaf-go/cmn/mono"
	"github.com/sourceryinstitute/libcaf-go/cmn/nlog"
	"github.com/sourceryinstitute/libcaf-go/stat"
	"github.com/sourceryinstitute/libcaf-go/team"
	"github.com/sourceryinstitute/libcaf-go/transport"
)

// AtomicDefine implements atomic_define(): a plain one-sided put of one
// 4-byte word, big-endian to match transport.Window's internal
// fetch-and-add/compare-and-swap encoding so atomic_ref/atomic_op observe
// whatever atomic_define last wrote.
func AtomicDefine(job *transport.Job, image int, h transport.Handle, offset int64, value int32, out *stat.Out) error {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(value))
	if err := job.Put(image, h, offset, b); err != nil {
		return out.Set(stat.Failure, err)
	}
	out.Ok()
	return nil
}

// AtomicRef implements atomic_ref(): a plain one-sided get.
func AtomicRef(job *transport.Job, image int, h transport.Handle, offset int64, out *stat.Out) (int32, error) {
	v, err := job.ReadInt32(image, h, offset)
	if err != nil {
		return 0, out.Set(stat.Failure, err)
	}
	out.Ok()
	return v, nil
}

// AtomicCas implements atomic_cas(): compare-and-swap under the window's
// own mutex, the "exclusive lock on the target" spec.md calls for.
func AtomicCas(job *transport.Job, image int, h transport.Handle, offset int64, old, new int32, out *stat.Out) (bool, error) {
	ok, err := job.CompareAndSwapInt32(image, h, offset, old, new)
	if err != nil {
		return false, out.Set(stat.Failure, err)
	}
	out.Ok()
	return ok, nil
}

// AtomicOpKind enumerates atomic_op's four operators.
type AtomicOpKind int32

const (
	OpAdd AtomicOpKind = iota
	OpAnd
	OpOr
	OpXor
)

// AtomicOp implements atomic_op(add|band|bor|bxor): add is a single
// fetch-and-add; the bitwise operators have no fetch-and-op primitive on
// Window, so they CAS-retry against the current value until they win,
// which is the same exclusive-access effect with a spin instead of a
// single round trip. Returns the pre-update value.
func AtomicOp(job *transport.Job, image int, h transport.Handle, offset int64, kind AtomicOpKind, operand int32, out *stat.Out) (int32, error) {
	if kind == OpAdd {
		old, err := job.FetchAndAddInt32(image, h, offset, operand)
		if err != nil {
			return 0, out.Set(stat.Failure, err)
		}
		out.Ok()
		return old, nil
	}
	for {
		old, err := job.ReadInt32(image, h, offset)
		if err != nil {
			return 0, out.Set(stat.Failure, err)
		}
		var next int32
		switch kind {
		case OpAnd:
			next = old & operand
		case OpOr:
			next = old | operand
		case OpXor:
			next = old ^ operand
		default:
			return 0, out.Set(stat.InvalidAttribute, errors.New("collective: atomic_op: unknown operator"))
		}
		ok, err := job.CompareAndSwapInt32(image, h, offset, old, next)
		if err != nil {
			return 0, out.Set(stat.Failure, err)
		}
		if ok {
			out.Ok()
			return old, nil
		}
	}
}

// Lock implements lock(): spin on a compare-and-swap of the lock window's
// single int slot (0 unlocked, 1 locked), backing off between attempts and
// checking each round the status of the image that hosts the lock, so a
// failed host image breaks the spin. The slot does not record which image
// holds the lock, so a failed holder on another image is not detected.
func Lock(job *transport.Job, image int, h transport.Handle, offset int64, status *team.StatusRegistry, out *stat.Out) error {
	start := mono.NanoTime()
	backoff := config.Get().LockSpinBackoff
	max := config.Get().LockSpinMax
	for {
		ok, err := job.CompareAndSwapInt32(image, h, offset, 0, 1)
		if err != nil {
			return out.Set(stat.Failure, err)
		}
		if ok {
			if elapsed := mono.Since(start); elapsed > max {
				nlog.Infof("collective: lock on image %d spun %s past expected max", image, elapsed)
			}
			out.Ok()
			return nil
		}
		if status != nil && status.Get(image) == team.ImageFailed {
			return out.Set(stat.StatFailedImage, errors.Errorf("collective: lock: image %d failed while held", image))
		}
		time.Sleep(backoff)
		if backoff < max {
			backoff *= 2
			if backoff > max {
				backoff = max
			}
		}
	}
}

// Unlock implements unlock(): release the lock slot unconditionally,
// matching the ABI's contract that only the current holder calls unlock.
func Unlock(job *transport.Job, image int, h transport.Handle, offset int64, out *stat.Out) error {
	if err := job.Put(image, h, offset, make([]byte, 4)); err != nil {
		return out.Set(stat.Failure, err)
	}
	out.Ok()
	return nil
}

// EventPost implements event_post(): fetch-and-add +1 on the event
// counter, spec's "fetch-and-op MPI_SUM with +1 on post."
func EventPost(job *transport.Job, image int, h transport.Handle, offset int64, out *stat.Out) error {
	if _, err := job.FetchAndAddInt32(image, h, offset, 1); err != nil {
		return out.Set(stat.Failure, err)
	}
	out.Ok()
	return nil
}

// EventWait implements event_wait(): poll until the counter has observed
// at least untilCount posts, then fetch-and-add -untilCount to consume
// them, per spec's "-until_count on wait after it has observed enough."
// untilCount <= 0 is treated as 1, the common single-post wait.
func EventWait(job *transport.Job, image int, h transport.Handle, offset int64, untilCount int32, status *team.StatusRegistry, out *stat.Out) error {
	if untilCount <= 0 {
		untilCount = 1
	}
	start := mono.NanoTime()
	backoff := config.Get().EventPollBackoff
	for {
		cur, err := job.ReadInt32(image, h, offset)
		if err != nil {
			return out.Set(stat.Failure, err)
		}
		if cur >= untilCount {
			if _, err := job.FetchAndAddInt32(image, h, offset, -untilCount); err != nil {
				return out.Set(stat.Failure, err)
			}
			if elapsed := mono.Since(start); elapsed > config.Get().LockSpinMax {
				nlog.Infof("collective: event_wait on image %d spun %s past expected max", image, elapsed)
			}
			out.Ok()
			return nil
		}
		if status != nil && status.Get(image) == team.ImageFailed {
			return out.Set(stat.StatFailedImage, errors.Errorf("collective: event_wait: image %d failed while waiting", image))
		}
		time.Sleep(backoff)
	}
}

// EventQuery implements event_query(): a non-consuming read of the
// counter.
func EventQuery(job *transport.Job, image int, h transport.Handle, offset int64, out *stat.Out) (int32, error) {
	v, err := job.ReadInt32(image, h, offset)
	if err != nil {
		return 0, out.Set(stat.Failure, err)
	}
	out.Ok()
	return v, nil
}
