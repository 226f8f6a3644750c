// Package mvcc
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
package mvcc

import (
	"bytes"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/wildcatdb/mvcc/queue"
	"github.com/wildcatdb/mvcc/skiplist"
)

// IterFlagRowPartial marks a scan that stopped inside a row
const IterFlagRowPartial uint8 = 1 << 0

// QueryEngineIterator walks (key, row) pairs in key order
type QueryEngineIterator interface {
	// Next moves to the next row, ErrIterEnd after the last
	Next() error
	Key() []byte
	Value() *Row
	IsReverseScan() bool
	IterFlag() uint8
}

// QueryEngine is the ordered key index rows are found through
type QueryEngine interface {
	Scan(start []byte, exclusiveStart bool, end []byte, exclusiveEnd bool, version Version) (QueryEngineIterator, error)
	RevertIter(it QueryEngineIterator)
	CheckAndPurge(key []byte, row *Row, version Version) (bool, error)
	SkipGap(key []byte, version Version, reverse bool) ([]byte, int64, error)
}

// SkiplistEngine is a QueryEngine over a lock-free skip list.  Purged rows
// are logically removed and parked on a retire queue for the reclaimer.
type SkiplistEngine struct {
	index       *skiplist.SkipList[Row]
	retired     *queue.Queue[*Row]
	activeIters atomic.Int64
	log         *logrus.Logger
}

// NewSkiplistEngine creates an empty engine
func NewSkiplistEngine(logger *logrus.Logger) *SkiplistEngine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SkiplistEngine{
		index:   skiplist.New[Row](),
		retired: queue.New[*Row](),
		log:     logger,
	}
}

// GetOrCreate returns the row under key, creating an empty one if needed
func (e *SkiplistEngine) GetOrCreate(key []byte) *Row {
	row, _ := e.index.GetOrInsert(key, NewRow())
	return row
}

// Get returns the row under key
func (e *SkiplistEngine) Get(key []byte) (*Row, bool) {
	return e.index.Get(key)
}

// Len returns the number of live rows
func (e *SkiplistEngine) Len() int64 {
	return e.index.Len()
}

// ActiveIterators returns the number of scans not yet reverted
func (e *SkiplistEngine) ActiveIterators() int64 {
	return e.activeIters.Load()
}

// Scan opens an iterator from start towards end.  If start sorts after end
// the scan runs in reverse.  Nil bounds are open.  Every row is returned
// whole, whatever version is, so IterFlag is always zero.
func (e *SkiplistEngine) Scan(start []byte, exclusiveStart bool, end []byte, exclusiveEnd bool, version Version) (QueryEngineIterator, error) {
	reverse := start != nil && end != nil && bytes.Compare(start, end) > 0
	it, err := e.index.NewRangeIterator(start, exclusiveStart, end, exclusiveEnd, reverse)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidArgument, err.Error())
	}

	e.activeIters.Add(1)
	return &skiplistEngineIterator{iter: it}, nil
}

// RevertIter releases an iterator returned by Scan
func (e *SkiplistEngine) RevertIter(it QueryEngineIterator) {
	sit, ok := it.(*skiplistEngineIterator)
	if !ok || sit == nil || sit.reverted {
		return
	}
	sit.reverted = true
	e.activeIters.Add(-1)
}

// CheckAndPurge removes row from the index if no snapshot at or after version
// can see data in it.  That holds when every node is decided and either all
// are aborted or the newest committed write is a delete at or below version.
func (e *SkiplistEngine) CheckAndPurge(key []byte, row *Row, version Version) (bool, error) {
	if key == nil || row == nil {
		return false, errors.Wrap(ErrInvalidArgument, "purge without key or row")
	}

	row.latch.Lock()
	defer row.latch.Unlock()

	if row.retired || !canPurge(row.head.Load(), version) {
		return false, nil
	}
	if !e.index.Remove(key, row) {
		// Already replaced or removed by someone else
		return false, nil
	}

	row.retire()
	e.retired.Enqueue(row)
	e.log.WithFields(logrus.Fields{"key": string(key), "version": version}).Trace("row purged")
	return true, nil
}

// canPurge decides purgeability of the chain starting at head
func canPurge(head *TransNode, version Version) bool {
	newest, settled := latestCommitted(head)
	if !settled {
		return false
	}
	if newest == nil {
		return true
	}
	return newest.DML == DMLDelete && newest.TransVersion() <= version
}

// hasDataAt reports whether a read at version could find data in the chain.
// Undecided writes count as data since they may commit below version.
func hasDataAt(head *TransNode, version Version) bool {
	for n := head; n != nil; n = n.prev {
		if n.IsLockNode() || n.IsAborted() {
			continue
		}
		if !n.isCommittedAt() {
			return true
		}
		if n.TransVersion() > version {
			continue
		}
		return n.DML != DMLDelete
	}
	return false
}

// SkipGap walks from key, exclusive, in the given direction over rows with no
// data at version.  It returns the first key with data and the number of rows
// skipped; a nil key means the gap runs to the end of the index.
func (e *SkiplistEngine) SkipGap(key []byte, version Version, reverse bool) ([]byte, int64, error) {
	if key == nil {
		return nil, 0, errors.Wrap(ErrInvalidArgument, "skip gap without start key")
	}

	it, err := e.index.NewRangeIterator(key, true, nil, false, reverse)
	if err != nil {
		return nil, 0, errors.Wrap(ErrInvalidArgument, err.Error())
	}

	var skipped int64
	for it.Next() {
		row := it.Value()
		if row == nil {
			continue
		}
		if hasDataAt(row.ListHead(), version) {
			return append([]byte(nil), it.Key()...), skipped, nil
		}
		skipped++
	}
	return nil, skipped, nil
}

// DrainRetired hands every purged row to fn and returns how many there were
func (e *SkiplistEngine) DrainRetired(fn func(*Row)) int {
	n := 0
	for {
		row, ok := e.retired.Dequeue()
		if !ok {
			return n
		}
		if fn != nil {
			fn(row)
		}
		n++
	}
}

// skiplistEngineIterator adapts a skip list iterator to QueryEngineIterator
type skiplistEngineIterator struct {
	iter     *skiplist.Iterator[Row]
	key      []byte
	row      *Row
	reverted bool
}

func (it *skiplistEngineIterator) Next() error {
	if it.reverted {
		return errors.Wrap(ErrNotInit, "iterator was reverted")
	}
	for it.iter.Next() {
		// A row purged between positioning and loading is skipped
		if row := it.iter.Value(); row != nil {
			it.key = it.iter.Key()
			it.row = row
			return nil
		}
	}
	it.key, it.row = nil, nil
	return ErrIterEnd
}

func (it *skiplistEngineIterator) Key() []byte {
	return it.key
}

func (it *skiplistEngineIterator) Value() *Row {
	return it.row
}

func (it *skiplistEngineIterator) IsReverseScan() bool {
	return it.iter.IsReverse()
}

func (it *skiplistEngineIterator) IterFlag() uint8 {
	return 0
}
