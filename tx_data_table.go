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
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/wildcatdb/mvcc/blockmanager"
	"github.com/wildcatdb/mvcc/lru"
)

// txDataShard holds the records of the transactions hashed to it
type txDataShard struct {
	lock sync.RWMutex
	data map[TransID]*TxData
}

// TxDataTable is an in-memory TxTable.  It is the authority on transaction
// outcomes and publishes them onto delayed-cleanout nodes when readers ask.
type TxDataTable struct {
	shards        []*txDataShard
	ids           *IDGenerator
	epoch         atomic.Int64
	opts          *Options
	log           *logrus.Logger
	stats         *Stats
	checkpointMu  sync.Mutex                                      // Serializes checkpoint and load
	blockManagers *lru.LRU[string, *blockmanager.BlockManager] // Open checkpoint files by path
}

// NewTxDataTable creates an empty tx table.  stats may be nil.
func NewTxDataTable(opts *Options, stats *Stats) (*TxDataTable, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	t := &TxDataTable{
		shards:        make([]*txDataShard, opts.TxTableShards),
		ids:           newIDGenerator(),
		opts:          opts,
		log:           opts.Logger,
		stats:         stats,
		blockManagers: lru.New[string, *blockmanager.BlockManager](opts.BlockManagerLRUSize),
	}
	for i := range t.shards {
		t.shards[i] = &txDataShard{data: make(map[TransID]*TxData)}
	}
	t.epoch.Store(1)
	return t, nil
}

// shard returns the shard owning id
func (t *TxDataTable) shard(id TransID) *txDataShard {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	return t.shards[xxhash.Sum64(buf[:])%uint64(len(t.shards))]
}

// Epoch returns the current epoch
func (t *TxDataTable) Epoch() int64 {
	return t.epoch.Load()
}

// Refresh starts a new epoch.  Guards taken before the call become stale.
func (t *TxDataTable) Refresh() int64 {
	return t.epoch.Add(1)
}

func (t *TxDataTable) checkEpoch(readEpoch int64) error {
	if cur := t.epoch.Load(); readEpoch != cur {
		return errors.Wrapf(ErrTxTableStale, "read epoch %d, table epoch %d", readEpoch, cur)
	}
	return nil
}

// Begin allocates a transaction id and registers it as running
func (t *TxDataTable) Begin(start Version) TransID {
	for {
		id := t.ids.nextID()
		if err := t.Register(id, start); err == nil {
			return id
		}
	}
}

// Register records a running transaction with a caller-chosen id
func (t *TxDataTable) Register(id TransID, start Version) error {
	if id == InvalidTransID {
		return errors.Wrap(ErrInvalidArgument, "invalid transaction id")
	}

	s := t.shard(id)
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.data[id]; ok {
		return errors.Wrapf(ErrInvalidArgument, "transaction %d already registered", id)
	}
	s.data[id] = newTxData(id, start)
	t.ids.observe(id)
	return nil
}

// update runs fn on the record of id under the shard lock
func (t *TxDataTable) update(id TransID, fn func(d *TxData) error) error {
	s := t.shard(id)
	s.lock.Lock()
	defer s.lock.Unlock()

	d, ok := s.data[id]
	if !ok {
		return errors.Wrapf(ErrTxDataNotFound, "transaction %d", id)
	}
	return fn(d)
}

// Commit decides id as committed at version
func (t *TxDataTable) Commit(id TransID, version Version) error {
	if version == MinVersion || version == MaxVersion {
		return errors.Wrapf(ErrInvalidArgument, "commit version %d", version)
	}
	return t.update(id, func(d *TxData) error {
		if d.State.IsDecided() {
			return errors.Wrapf(ErrInvalidArgument, "transaction %d already %s", id, d.State)
		}
		if d.State == TxDataStateELR && d.CommitVersion != version {
			return errors.Wrapf(ErrInvalidArgument, "transaction %d released at %d, commit at %d", id, d.CommitVersion, version)
		}
		d.State = TxDataStateCommitted
		d.CommitVersion = version
		t.log.WithFields(logrus.Fields{"tx_id": id, "version": version}).Trace("tx committed")
		return nil
	})
}

// Abort decides id as aborted.  An early-released transaction is bound to
// commit at its released version and cannot abort.
func (t *TxDataTable) Abort(id TransID) error {
	return t.update(id, func(d *TxData) error {
		if d.State != TxDataStateRunning {
			return errors.Wrapf(ErrInvalidArgument, "transaction %d already %s", id, d.State)
		}
		d.State = TxDataStateAborted
		d.CommitVersion = MaxVersion
		t.log.WithField("tx_id", id).Trace("tx aborted")
		return nil
	})
}

// SetELR releases id's locks early with a provisional commit version
func (t *TxDataTable) SetELR(id TransID, version Version) error {
	if version == MinVersion || version == MaxVersion {
		return errors.Wrapf(ErrInvalidArgument, "elr version %d", version)
	}
	return t.update(id, func(d *TxData) error {
		if d.State != TxDataStateRunning {
			return errors.Wrapf(ErrInvalidArgument, "transaction %d is %s", id, d.State)
		}
		d.State = TxDataStateELR
		d.CommitVersion = version
		return nil
	})
}

// AddUndoAction records a rollback to savepoint of a running transaction
func (t *TxDataTable) AddUndoAction(id TransID, action UndoAction) error {
	if action.From <= action.To {
		return errors.Wrapf(ErrInvalidArgument, "undo range (%d, %d]", action.To, action.From)
	}
	return t.update(id, func(d *TxData) error {
		if d.State != TxDataStateRunning {
			return errors.Wrapf(ErrInvalidArgument, "transaction %d is %s", id, d.State)
		}
		d.UndoStatus = append(d.UndoStatus, action)
		return nil
	})
}

// Get returns a copy of the record of id
func (t *TxDataTable) Get(id TransID) (*TxData, error) {
	s := t.shard(id)
	s.lock.RLock()
	defer s.lock.RUnlock()

	d, ok := s.data[id]
	if !ok {
		return nil, errors.Wrapf(ErrTxDataNotFound, "transaction %d", id)
	}
	return d.clone(), nil
}

// Len returns the number of records held
func (t *TxDataTable) Len() int {
	n := 0
	for _, s := range t.shards {
		s.lock.RLock()
		n += len(s.data)
		s.lock.RUnlock()
	}
	return n
}

// Recycle drops aborted records and committed records at or below boundary.
// Callers recycle only once no delayed-cleanout node of those transactions is
// reachable, otherwise readers of such nodes get ErrTxDataNotFound.
func (t *TxDataTable) Recycle(boundary Version) int {
	dropped := 0
	for _, s := range t.shards {
		s.lock.Lock()
		for id, d := range s.data {
			if d.State == TxDataStateAborted ||
				(d.State == TxDataStateCommitted && d.CommitVersion <= boundary) {
				delete(s.data, id)
				dropped++
			}
		}
		s.lock.Unlock()
	}
	if dropped > 0 {
		t.log.WithFields(logrus.Fields{"boundary": boundary, "dropped": dropped}).Debug("tx data recycled")
	}
	return dropped
}

// nodeOutcome is what the table knows about one write
type nodeOutcome struct {
	state   TxDataState
	version Version
	undone  bool
}

// outcome looks up the outcome of the write (id, seq)
func (t *TxDataTable) outcome(id TransID, seq int64) (nodeOutcome, error) {
	s := t.shard(id)
	s.lock.RLock()
	defer s.lock.RUnlock()

	d, ok := s.data[id]
	if !ok {
		return nodeOutcome{}, errors.Wrapf(ErrTxDataNotFound, "transaction %d", id)
	}
	return nodeOutcome{state: d.State, version: d.CommitVersion, undone: d.IsUndone(seq)}, nil
}

// LockForRead answers whether the write arg describes can be read.
// Decided writes and early-released writes are published onto the node
// through cleanout.
func (t *TxDataTable) LockForRead(arg LockForReadArg, readEpoch int64, cleanout CleanoutOp, recheck RecheckOp) (LockForReadResult, error) {
	if arg.Ctx == nil {
		return LockForReadResult{}, errors.Wrap(ErrInvalidArgument, "lock for read without access context")
	}
	if err := t.checkEpoch(readEpoch); err != nil {
		return LockForReadResult{}, err
	}

	if recheck != nil {
		if res, ok := recheck(); ok {
			return res, nil
		}
	}

	out, err := t.outcome(arg.DataTxID, arg.DataSeqNo)
	if err != nil {
		return LockForReadResult{}, err
	}

	var res LockForReadResult
	switch {
	case out.undone || out.state == TxDataStateAborted:
		// A write rolled back to a savepoint is as final as an abort
		res = LockForReadResult{CanRead: false, Version: MaxVersion, Determined: true}
		t.applyCleanout(cleanout, TxDataStateAborted, MaxVersion)
	case out.state == TxDataStateCommitted:
		res = LockForReadResult{CanRead: true, Version: out.version, Determined: true}
		t.applyCleanout(cleanout, TxDataStateCommitted, out.version)
	case out.state == TxDataStateELR:
		res = LockForReadResult{CanRead: true, Version: out.version, Determined: false}
		t.applyCleanout(cleanout, TxDataStateELR, out.version)
	default:
		res = lockForReadRunning(arg)
	}

	return res, nil
}

// lockForReadRunning decides visibility of a running transaction's write.
// Only the writer itself can see it.
func lockForReadRunning(arg LockForReadArg) LockForReadResult {
	ctx := arg.Ctx
	switch {
	case arg.ReadLatest && arg.DataTxID == ctx.TxID:
		return LockForReadResult{CanRead: true, Version: MinVersion}
	case arg.DataTxID == ctx.Snapshot.TxID && arg.DataSeqNo <= ctx.Snapshot.SeqNo:
		return LockForReadResult{CanRead: true, Version: MinVersion}
	}
	return LockForReadResult{CanRead: false, Version: MaxVersion}
}

func (t *TxDataTable) applyCleanout(op CleanoutOp, state TxDataState, version Version) {
	if op.Apply(state, version) {
		t.stats.incCleanout()
		t.log.WithFields(logrus.Fields{
			"tx_id":   op.Node.TxID,
			"seq_no":  op.Node.SeqNo,
			"state":   state,
			"version": version,
		}).Trace("tx node cleaned out")
	}
}

// CleanoutTxNode publishes the outcome of txID on node.  A running
// transaction leaves the node untouched.
func (t *TxDataTable) CleanoutTxNode(txID TransID, readEpoch int64, row *Row, node *TransNode, needRowLatch bool) error {
	if row == nil || node == nil {
		return errors.Wrap(ErrInvalidArgument, "cleanout without row or node")
	}
	if err := t.checkEpoch(readEpoch); err != nil {
		return err
	}

	out, err := t.outcome(txID, node.SeqNo)
	if err != nil {
		return err
	}

	op := CleanoutTxNode(row, node, needRowLatch)
	switch {
	case out.undone:
		t.applyCleanout(op, TxDataStateAborted, MaxVersion)
	case out.state == TxDataStateRunning:
	default:
		t.applyCleanout(op, out.state, out.version)
	}
	return nil
}

// Close closes cached checkpoint files
func (t *TxDataTable) Close() error {
	t.checkpointMu.Lock()
	defer t.checkpointMu.Unlock()

	t.blockManagers.Clear()
	return nil
}
