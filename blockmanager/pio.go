//go:build !windows

package blockmanager

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// pwrite writes all of data at offset, retrying short writes
func pwrite(fd uintptr, data []byte, offset int64, _ *os.File) (int, error) {
	written := 0
	for written < len(data) {
		n, err := unix.Pwrite(int(fd), data[written:], offset+int64(written))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// pread fills data from offset.  Reading past the end of the file is io.EOF,
// or io.ErrUnexpectedEOF when part of data was filled.
func pread(fd uintptr, data []byte, offset int64, _ *os.File) (int, error) {
	read := 0
	for read < len(data) {
		n, err := unix.Pread(int(fd), data[read:], offset+int64(read))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return read, err
		}
		if n == 0 {
			if read == 0 {
				return 0, io.EOF
			}
			return read, io.ErrUnexpectedEOF
		}
		read += n
	}
	return read, nil
}
