//go:build windows

package blockmanager

import (
	"golang.org/x/sys/windows"
)

// Fdatasync flushes the file buffers of the handle
func Fdatasync(fd uintptr) error {
	return windows.FlushFileBuffers(windows.Handle(fd))
}
