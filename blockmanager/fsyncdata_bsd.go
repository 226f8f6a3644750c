//go:build freebsd || netbsd || openbsd

package blockmanager

import (
	"golang.org/x/sys/unix"
)

// Fdatasync falls back to fsync where fdatasync is not exposed
func Fdatasync(fd uintptr) error {
	return unix.Fsync(int(fd))
}
