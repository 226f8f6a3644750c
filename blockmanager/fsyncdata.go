//go:build linux

package blockmanager

import (
	"golang.org/x/sys/unix"
)

// Fdatasync flushes file data without forcing a metadata update
func Fdatasync(fd uintptr) error {
	for {
		err := unix.Fdatasync(int(fd))
		if err != unix.EINTR {
			return err
		}
	}
}
