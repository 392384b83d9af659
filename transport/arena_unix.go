//go:build unix

package transport

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// newStaticArena backs a statically registered window with an anonymous,
// page-aligned mapping instead of a heap slice, so its address stays fixed
// for the window's lifetime the way a Fortran SAVE'd coarray's backing
// store would. The returned func releases it; a zero-size request is a
// no-op mapping with a no-op release.
func newStaticArena(size int64) ([]byte, func(), error) {
	if size <= 0 {
		return nil, func() {}, nil
	}
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, errors.Wrap(err, "transport: mmap static window")
	}
	return data, func() { _ = unix.Munmap(data) }, nil
}
