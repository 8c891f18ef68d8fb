//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris || aix

package rdma

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
	"os"
)

// MapFile maps the file at path read-only. The returned function releases the
// mapping; the bytes must not be used afterwards.
func MapFile(path string) ([]byte, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if st.Size() == 0 {
		return []byte{}, func() error { return nil }, nil
	}
	b, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "rdma: mmap %s", path)
	}
	return b, func() error { return unix.Munmap(b) }, nil
}
