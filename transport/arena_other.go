//go:build !unix

package transport

// newStaticArena falls back to a plain heap slice on non-unix platforms,
// where there is no mmap to back a page-aligned static window arena.
func newStaticArena(size int64) ([]byte, func(), error) {
	return make([]byte, size), func() {}, nil
}
