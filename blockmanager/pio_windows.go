//go:build windows

package blockmanager

import "os"

// pwrite writes at offset through the file handle
func pwrite(fd uintptr, data []byte, offset int64, f *os.File) (int, error) {
	return f.WriteAt(data, offset)
}

// pread reads at offset through the file handle
func pread(fd uintptr, data []byte, offset int64, f *os.File) (int, error) {
	return f.ReadAt(data, offset)
}
