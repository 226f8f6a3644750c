//go:build darwin

package blockmanager

import (
	"golang.org/x/sys/unix"
)

func Fdatasync(fd uintptr) error {
	// F_FULLFSYNC forces the drive to flush its buffers to stable storage.
	_, err := unix.FcntlInt(fd, unix.F_FULLFSYNC, 0)
	return err
}
