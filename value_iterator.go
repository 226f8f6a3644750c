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
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// ValueIterator walks the versions of one row starting from the version
// visible to a snapshot.  It is single pass; Init starts a new walk.
type ValueIterator struct {
	inited      bool
	ctx         *AccessCtx
	row         *Row
	versionIter *TransNode // Next node to consider, nil at the end
	skipCompact bool
	log         *logrus.Logger
	stats       *Stats
}

// NewValueIterator creates an iterator.  logger and stats may be nil.
func NewValueIterator(logger *logrus.Logger, stats *Stats) *ValueIterator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ValueIterator{log: logger, stats: stats}
}

// Init positions the iterator on the version of row visible to ctx.
// With flag.IterUncommitted the raw chain is walked from its head instead.
func (it *ValueIterator) Init(ctx *AccessCtx, key []byte, row *Row, flag QueryFlag, skipCompact bool) error {
	it.Reset()
	it.skipCompact = skipCompact

	if err := ctx.Validate(); err != nil {
		return err
	}
	it.ctx = ctx

	var err error
	switch head := row.ListHead(); {
	case head == nil:
		// Row does not exist
		it.inited = true
	case flag.IterUncommitted:
		it.row = row
		it.versionIter = head
		it.inited = true
	default:
		it.row = row
		if err = it.lockForRead(flag); err != nil {
			it.log.WithError(err).WithField("ctx", ctx.String()).Warn("failed to find start position for value iterator")
		} else {
			it.inited = true
		}
	}

	if it.log.IsLevelEnabled(logrus.TraceLevel) {
		it.log.WithFields(logrus.Fields{
			"key":          string(key),
			"version_iter": it.versionIter.String(),
			"read_latest":  flag.ReadLatest,
			"skip_compact": skipCompact,
			"ctx":          ctx.String(),
		}).Trace("value iterator init")
	}
	return err
}

// lockForRead resolves the first visible node of the row into versionIter
func (it *ValueIterator) lockForRead(flag QueryFlag) error {
	start := time.Now()

	// Captured once, nodes appended later are newer than this read
	iter := it.row.ListHead()
	it.versionIter = nil

	var err error
	for err == nil && iter != nil && it.versionIter == nil {
		iter, err = it.lockForReadInner(flag, iter)
	}

	if node := it.versionIter; node != nil {
		if it.ctx.WeakRead {
			node.SetSafeReadBarrier()
			node.SetSnapshotVersionBarrier(it.ctx.SnapshotVersion())
		}
		if !flag.Prewarm && !node.IsELR() {
			node.SetSnapshotVersionBarrier(it.ctx.SnapshotVersion())
		}
	}

	it.stats.observeLockForRead(start, err)
	return err
}

// lockForReadInner decides iter.  If it is visible it becomes versionIter,
// otherwise the node to try next is returned.
func (it *ValueIterator) lockForReadInner(flag QueryFlag, iter *TransNode) (*TransNode, error) {
	// Locks carry no payload
	if iter.IsLockNode() {
		return iter.prev, nil
	}

	// The snapshot and the reader differ for a cursor, which keeps reading
	// at the snapshot it was opened with while its transaction writes on.
	ctx := it.ctx
	snapshotTxID := ctx.Snapshot.TxID
	readerTxID := ctx.TxID
	snapshotVersion := ctx.SnapshotVersion()
	readLatest := flag.ReadLatest

	dataTxID := iter.TxID
	dataSeqNo := iter.SeqNo

	// Cleanout publishes the version before the state, so the state is read
	// first and the version after it.
	isCommitted := iter.IsCommitted()
	isAborted := iter.IsAborted()
	isELR := iter.IsELR()
	isDelayedCleanout := iter.IsDelayedCleanout()

	if (isCommitted || isAborted || isELR) ||
		(!isDelayedCleanout &&
			(dataTxID == snapshotTxID || (readLatest && dataTxID == readerTxID))) {
		return it.readWithoutCleanout(flag, iter, isCommitted, isAborted, isELR)
	}

	// Only a delayed node is cleaned out here, a node that is not delayed is
	// decided by its own transaction.
	cleanout := NoCleanout()
	if iter.IsDelayedCleanout() {
		cleanout = CleanoutTxNode(it.row, iter, true)
	}

	res, err := ctx.TxTable.Table.LockForRead(LockForReadArg{
		Ctx:        ctx,
		DataTxID:   dataTxID,
		DataSeqNo:  dataSeqNo,
		ReadLatest: readLatest,
	}, ctx.TxTable.Epoch, cleanout, RecheckTxNode(iter))
	if err != nil {
		it.log.WithError(err).WithField("node", iter.String()).Warn("lock for read failed")
		return iter, err
	}

	if res.CanRead && snapshotVersion >= res.Version {
		it.versionIter = iter
		return iter, nil
	}
	return iter.prev, nil
}

// readWithoutCleanout decides a node whose state is known from its flags, or
// that belongs to the snapshot's or the reader's own transaction.
func (it *ValueIterator) readWithoutCleanout(flag QueryFlag, iter *TransNode, isCommitted, isAborted, isELR bool) (*TransNode, error) {
	ctx := it.ctx
	dataTxID := iter.TxID
	readLatest := flag.ReadLatest

	switch {
	case isCommitted || isELR:
		if ctx.SnapshotVersion() >= iter.TransVersion() {
			it.versionIter = iter
			return iter, nil
		}
		return iter.prev, nil
	case isAborted:
		return iter.prev, nil
	case readLatest && dataTxID == ctx.TxID:
		// A transaction reading its latest sees its own writes
		it.versionIter = iter
		return iter, nil
	case dataTxID == ctx.Snapshot.TxID:
		// Writes made after the snapshot was taken stay invisible to it
		if iter.SeqNo <= ctx.Snapshot.SeqNo {
			it.versionIter = iter
			return iter, nil
		}
		return iter.prev, nil
	}

	it.stats.incInvariantViolation()
	err := errors.AssertionFailedf("lock for read reached an undecided node of a foreign transaction: node %s ctx %s",
		iter, ctx)
	it.log.WithFields(logrus.Fields{
		"node":        iter.String(),
		"ctx":         ctx.String(),
		"read_latest": readLatest,
		"prewarm":     flag.Prewarm,
	}).Error("lock for read never go here")
	return iter, err
}

// tryCleanoutTxNode publishes the outcome of an undecided delayed node
func (it *ValueIterator) tryCleanoutTxNode(node *TransNode) error {
	if node.IsDecided() || !node.IsDelayedCleanout() {
		return nil
	}
	guard := it.ctx.TxTable
	return guard.Table.CleanoutTxNode(node.TxID, guard.Epoch, it.row, node, true)
}

// GetNextNode returns the next version.  ok is false at the end.
// Aborted versions and locks are never returned.  A compacted baseline is
// returned only when compacted nodes are skipped over, otherwise it ends the
// walk without being returned.
func (it *ValueIterator) GetNextNode() (*TransNode, bool, error) {
	if !it.inited {
		return nil, false, ErrNotInit
	}

	for it.versionIter != nil {
		node := it.versionIter
		if err := it.tryCleanoutTxNode(node); err != nil {
			it.log.WithError(err).WithField("node", node.String()).Debug("cleanout of tx node failed")
		}

		it.moveToNextNode()
		if !(node.IsAborted() || node.IsLockNode() || (node.IsCompact() && !it.skipCompact)) {
			return node, true, nil
		}
	}
	return nil, false, nil
}

// moveToNextNode advances the cursor.  A compacted baseline ends the walk
// unless compacted nodes are skipped over.
func (it *ValueIterator) moveToNextNode() {
	node := it.versionIter
	switch {
	case node == nil:
	case node.IsCompact() && !it.skipCompact:
		it.versionIter = nil
	default:
		it.versionIter = node.prev
	}
}

// IsExist reports whether the next node is one GetNextNode returns.
// A baseline that ends the walk does not count.
func (it *ValueIterator) IsExist() bool {
	node := it.versionIter
	return node != nil && !(node.IsCompact() && !it.skipCompact)
}

// Row returns the row being walked
func (it *ValueIterator) Row() *Row {
	return it.row
}

// Reset returns the iterator to its uninitialized state
func (it *ValueIterator) Reset() {
	it.inited = false
	it.ctx = nil
	it.row = nil
	it.versionIter = nil
	it.skipCompact = false
}
