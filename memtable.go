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
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/wildcatdb/mvcc/bloomfilter"
)

// A memtable pairs the key index with the tx table its versions are resolved against.

// Memtable is an in-memory multi-version table
type Memtable struct {
	engine   *SkiplistEngine          // Key index, concurrent safe
	keys     *bloomfilter.BloomFilter // Every key ever inserted, nil when disabled
	txTable  TxTable                  // Where undecided versions are resolved
	ownTable *TxDataTable             // Set when the memtable created txTable itself
	opts     *Options
	stats    *Stats
	log      *logrus.Logger
	size     atomic.Int64 // Bytes of keys and payloads inserted
}

// NewMemtable creates a memtable.  If table is nil a TxDataTable is created
// and owned by the memtable.
func NewMemtable(opts *Options, table TxTable) (*Memtable, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	var stats *Stats
	if opts.EnableStats {
		var err error
		if stats, err = NewStats(opts.Registerer); err != nil {
			return nil, errors.Wrap(err, "failed to register stats")
		}
	}

	m := &Memtable{
		engine:  NewSkiplistEngine(opts.Logger),
		txTable: table,
		opts:    opts,
		stats:   stats,
		log:     opts.Logger,
	}

	if !opts.DisableKeyFilter {
		keys, err := bloomfilter.New(opts.KeyFilterKeys, opts.KeyFilterFPR)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create key filter")
		}
		m.keys = keys
	}

	if table == nil {
		own, err := NewTxDataTable(opts, stats)
		if err != nil {
			return nil, err
		}
		m.txTable = own
		m.ownTable = own
	}

	return m, nil
}

// Engine returns the key index
func (m *Memtable) Engine() *SkiplistEngine {
	return m.engine
}

// TxTable returns the tx table versions are resolved against
func (m *Memtable) TxTable() TxTable {
	return m.txTable
}

// Stats returns the memtable's stats, nil when disabled
func (m *Memtable) Stats() *Stats {
	return m.stats
}

// Size returns the bytes inserted so far
func (m *Memtable) Size() int64 {
	return m.size.Load()
}

// NewAccessCtx creates an access context on the memtable's tx table
func (m *Memtable) NewAccessCtx(snapshot TxSnapshot, reader TransID) *AccessCtx {
	return NewAccessCtx(snapshot, reader, m.txTable)
}

// Insert publishes node as the newest version of key.  Conflict checks and
// row locking belong to the caller.
func (m *Memtable) Insert(key []byte, node *TransNode) error {
	if key == nil || node == nil {
		return errors.Wrap(ErrInvalidArgument, "insert without key or node")
	}

	// The filter learns the key before any reader can find it
	if m.keys != nil {
		m.keys.Add(key)
	}

	for {
		row := m.engine.GetOrCreate(key)
		if row.Insert(node) {
			break
		}
		// The row was purged under us, a fresh one replaces it
	}

	m.size.Add(int64(len(key) + len(node.Data)))
	return nil
}

// Get returns the version of key visible to ctx.  ok is false if the row
// does not exist for the snapshot, including when the visible version is a
// delete.
func (m *Memtable) Get(ctx *AccessCtx, key []byte, flag QueryFlag) (*TransNode, bool, error) {
	if err := ctx.Validate(); err != nil {
		return nil, false, err
	}
	if m.keys != nil && !m.keys.Contains(key) {
		return nil, false, nil
	}

	row, _ := m.engine.Get(key)

	it := NewValueIterator(m.log, m.stats)
	// A compacted baseline is a readable version of the row
	if err := it.Init(ctx, key, row, flag, true); err != nil {
		return nil, false, err
	}

	node, ok, err := it.GetNextNode()
	if err != nil || !ok {
		return nil, false, err
	}
	if node.DML == DMLDelete {
		return nil, false, nil
	}
	return node, true, nil
}

// Scan opens a row iterator over rng
func (m *Memtable) Scan(ctx *AccessCtx, rng ScanRange, flag QueryFlag) (*RowIterator, error) {
	it := NewRowIterator(m.log, m.stats)
	if err := it.Init(m.engine, ctx, rng, flag); err != nil {
		return nil, err
	}
	return it, nil
}

// Purge drops the rows of rng no snapshot at or after snapshot can see data
// in, and returns how many were dropped
func (m *Memtable) Purge(snapshot TxSnapshot, rng ScanRange) (int, error) {
	ctx := m.NewAccessCtx(snapshot, InvalidTransID)
	it, err := m.Scan(ctx, rng, QueryFlag{IterUncommitted: true})
	if err != nil {
		return 0, err
	}
	defer it.Reset()

	purged := 0
	for {
		_, _, _, ok, err := it.GetNextRow(false)
		if err != nil {
			return purged, err
		}
		if !ok {
			break
		}

		key, row, err := it.GetKeyVal()
		if err != nil {
			return purged, err
		}
		dropped, err := it.TryPurge(snapshot, key, row)
		if err != nil {
			return purged, err
		}
		if dropped {
			purged++
		}
	}

	if purged > 0 {
		m.log.WithFields(logrus.Fields{"snapshot": snapshot.String(), "purged": purged}).Debug("memtable purged")
	}
	return purged, nil
}

// Close releases the tx table if the memtable owns it
func (m *Memtable) Close() error {
	if m.ownTable != nil {
		return m.ownTable.Close()
	}
	return nil
}
