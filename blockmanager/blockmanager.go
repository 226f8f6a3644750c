// Package blockmanager
//
// (C) Copyright Alex Gaetano Padula
//
// Licensed under the Mozilla Public License, v. 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.mozilla.org/en-US/MPL/2.0/
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package blockmanager

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

const MagicNumber = uint32(0x4D564343) // "MVCC"
const Version = uint32(1)              // Version of the file format

const headerSize = 12     // magic, version, crc
const blockHeaderSize = 8 // crc, size

// SyncOption defines the synchronization options for the file
type SyncOption int

const (
	SyncNone    SyncOption = iota // Don't sync at all
	SyncPartial                   // Do a sync in the background at intervals
	SyncFull                      // Do a sync after every append
)

var (
	// ErrCorrupt is returned when a header or block fails its checksum
	ErrCorrupt = errors.New("blockmanager: corrupt block")
	// ErrClosed is returned for operations on a closed block manager
	ErrClosed = errors.New("blockmanager: closed")
)

// BlockManager is an append-only file of checksummed blocks
type BlockManager struct {
	file         *os.File        // File handle for the block manager
	fd           uintptr         // File descriptor for direct syscalls
	tail         atomic.Int64    // Offset where the next block is written
	appendLock   sync.Mutex      // Serializes tail reservation
	syncOption   SyncOption      // Synchronization option for the file
	syncInterval time.Duration   // Interval for background sync (if applicable)
	closeChan    chan struct{}   // Channel to signal closure of the background sync
	wg           *sync.WaitGroup // WaitGroup to wait for background sync to finish
	closed       atomic.Bool
}

// Iterator walks the blocks of a file from the first to the last
type Iterator struct {
	blockManager *BlockManager
	offset       int64
}

// Open opens a file and initializes the BlockManager.
func Open(filename string, flag int, perm os.FileMode, syncOpt SyncOption, duration ...time.Duration) (*BlockManager, error) {
	file, err := os.OpenFile(filename, flag, perm)
	if err != nil {
		return nil, err
	}

	stats, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	bm := &BlockManager{
		file:       file,
		fd:         file.Fd(),
		syncOption: syncOpt,
		closeChan:  make(chan struct{}),
		wg:         &sync.WaitGroup{},
	}

	if len(duration) > 0 {
		bm.syncInterval = duration[0]
	} else {
		bm.syncInterval = time.Second
	}

	if stats.Size() == 0 {
		if err := bm.writeHeader(); err != nil {
			_ = file.Close()
			return nil, err
		}
		bm.tail.Store(headerSize)
	} else {
		if err := bm.readHeader(); err != nil {
			_ = file.Close()
			return nil, err
		}
		bm.tail.Store(stats.Size())
	}

	if bm.syncOption == SyncPartial {
		bm.wg.Add(1)
		go bm.backgroundSync()
	}

	return bm, nil
}

// writeHeader writes the file header at offset 0
func (bm *BlockManager) writeHeader() error {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], MagicNumber)
	binary.LittleEndian.PutUint32(buf[4:8], Version)
	binary.LittleEndian.PutUint32(buf[8:12], crc32.ChecksumIEEE(buf[0:8]))

	_, err := pwrite(bm.fd, buf, 0, bm.file)
	return err
}

// readHeader reads the header from the file and validates it.
func (bm *BlockManager) readHeader() error {
	buf := make([]byte, headerSize)
	if _, err := pread(bm.fd, buf, 0, bm.file); err != nil {
		return err
	}

	if crc32.ChecksumIEEE(buf[0:8]) != binary.LittleEndian.Uint32(buf[8:12]) {
		return errors.Wrap(ErrCorrupt, "header CRC mismatch")
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != MagicNumber {
		return errors.Wrap(ErrCorrupt, "invalid magic number")
	}
	if v := binary.LittleEndian.Uint32(buf[4:8]); v != Version {
		return errors.Newf("blockmanager: unsupported version %d", v)
	}
	return nil
}

// Append writes data as one block and returns the block's offset
func (bm *BlockManager) Append(data []byte) (int64, error) {
	if bm.closed.Load() {
		return 0, ErrClosed
	}

	block := make([]byte, blockHeaderSize+len(data))
	binary.LittleEndian.PutUint32(block[0:4], crc32.ChecksumIEEE(data))
	binary.LittleEndian.PutUint32(block[4:8], uint32(len(data)))
	copy(block[blockHeaderSize:], data)

	// Reserve the range; the write itself happens outside the lock
	bm.appendLock.Lock()
	offset := bm.tail.Load()
	bm.tail.Store(offset + int64(len(block)))
	bm.appendLock.Unlock()

	if _, err := pwrite(bm.fd, block, offset, bm.file); err != nil {
		return 0, err
	}

	if bm.syncOption == SyncFull {
		if err := Fdatasync(bm.fd); err != nil {
			return 0, err
		}
	}

	return offset, nil
}

// Read reads the block at offset
func (bm *BlockManager) Read(offset int64) ([]byte, int64, error) {
	if bm.closed.Load() {
		return nil, 0, ErrClosed
	}
	if offset >= bm.tail.Load() {
		return nil, 0, io.EOF
	}

	hdr := make([]byte, blockHeaderSize)
	if _, err := pread(bm.fd, hdr, offset, bm.file); err != nil {
		return nil, 0, err
	}
	crc := binary.LittleEndian.Uint32(hdr[0:4])
	size := binary.LittleEndian.Uint32(hdr[4:8])

	data := make([]byte, size)
	if size > 0 {
		if _, err := pread(bm.fd, data, offset+blockHeaderSize, bm.file); err != nil {
			return nil, 0, err
		}
	}
	if crc32.ChecksumIEEE(data) != crc {
		return nil, 0, errors.Wrapf(ErrCorrupt, "block at offset %d", offset)
	}

	return data, offset + blockHeaderSize + int64(size), nil
}

// Iterator returns an iterator positioned at the first block
func (bm *BlockManager) Iterator() *Iterator {
	return &Iterator{blockManager: bm, offset: headerSize}
}

// Next returns the next block and its offset, io.EOF after the last one
func (it *Iterator) Next() ([]byte, int64, error) {
	offset := it.offset
	data, next, err := it.blockManager.Read(offset)
	if err != nil {
		return nil, 0, err
	}
	it.offset = next
	return data, offset, nil
}

// Sync flushes written blocks to stable storage
func (bm *BlockManager) Sync() error {
	if bm.closed.Load() {
		return ErrClosed
	}
	return Fdatasync(bm.fd)
}

// Size returns the number of bytes written including the header
func (bm *BlockManager) Size() int64 {
	return bm.tail.Load()
}

// backgroundSync performs periodic synchronization of the file to disk.
func (bm *BlockManager) backgroundSync() {
	defer bm.wg.Done()

	ticker := time.NewTicker(bm.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = Fdatasync(bm.fd)
		case <-bm.closeChan:
			return
		}
	}
}

// Close stops background sync, flushes and closes the file
func (bm *BlockManager) Close() error {
	if !bm.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(bm.closeChan)
	bm.wg.Wait()

	if bm.syncOption != SyncNone {
		if err := Fdatasync(bm.fd); err != nil {
			_ = bm.file.Close()
			return err
		}
	}
	return bm.file.Close()
}
