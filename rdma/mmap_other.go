//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris || aix)

package rdma

import "os"

// MapFile reads the file at path into memory; this platform has no mmap.
func MapFile(path string) ([]byte, func() error, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return b, func() error { return nil }, nil
}
