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
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/wildcatdb/mvcc/blockmanager"
)

// checkpointBatchSize is the number of records per checkpoint block
const checkpointBatchSize = 256

// A checkpoint file is a sequence of generations.  Each generation is a meta
// block followed by enough batch blocks to hold meta.Records records.  Loading
// replays generations in order so later ones win.

// blockManager returns the cached block manager for path, opening it if needed
func (t *TxDataTable) blockManager(path string, create bool) (*blockmanager.BlockManager, error) {
	if bm, ok := t.blockManagers.Get(path); ok {
		return bm, nil
	}

	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE
	}
	bm, err := blockmanager.Open(path, flag, t.opts.Permission, *t.opts.CheckpointSyncOption)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint %s", path)
	}

	t.blockManagers.Put(path, bm, func(key string, bm *blockmanager.BlockManager) {
		if err := bm.Close(); err != nil {
			t.log.WithError(err).WithField("path", key).Warn("failed to close checkpoint file")
		}
	})
	return bm, nil
}

// decided returns copies of every committed or aborted record
func (t *TxDataTable) decided() []*TxData {
	var out []*TxData
	for _, s := range t.shards {
		s.lock.RLock()
		for _, d := range s.data {
			if d.State.IsDecided() {
				out = append(out, d.clone())
			}
		}
		s.lock.RUnlock()
	}
	return out
}

// Checkpoint appends the decided transactions to the checkpoint file at path
func (t *TxDataTable) Checkpoint(path string) (int, error) {
	t.checkpointMu.Lock()
	defer t.checkpointMu.Unlock()

	bm, err := t.blockManager(path, true)
	if err != nil {
		return 0, err
	}

	records := t.decided()
	meta, err := serializeBlock(&checkpointMeta{
		LastTxID: int64(t.ids.save()),
		Records:  int64(len(records)),
	})
	if err != nil {
		return 0, err
	}
	if _, err := bm.Append(meta); err != nil {
		return 0, errors.Wrap(err, "failed to write checkpoint meta")
	}

	for start := 0; start < len(records); start += checkpointBatchSize {
		end := start + checkpointBatchSize
		if end > len(records) {
			end = len(records)
		}

		batch := txDataBatch{Records: make([]txDataRecord, 0, end-start)}
		for _, d := range records[start:end] {
			batch.Records = append(batch.Records, newTxDataRecord(d))
		}

		data, err := serializeBlock(&batch)
		if err != nil {
			return 0, err
		}
		if _, err := bm.Append(data); err != nil {
			return 0, errors.Wrap(err, "failed to write checkpoint batch")
		}
	}

	t.log.WithFields(logrus.Fields{"path": path, "records": len(records)}).Debug("tx table checkpointed")
	return len(records), nil
}

// LoadCheckpoint restores decided transactions from path.  Records already
// decided in the table are kept.  The table moves to a new epoch afterwards.
func (t *TxDataTable) LoadCheckpoint(path string) (int, error) {
	t.checkpointMu.Lock()
	defer t.checkpointMu.Unlock()

	bm, err := t.blockManager(path, false)
	if err != nil {
		return 0, err
	}

	loaded := 0
	it := bm.Iterator()
	for {
		data, offset, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return loaded, errors.Wrapf(err, "failed to read checkpoint %s", path)
		}

		var meta checkpointMeta
		if err := deserializeBlock(data, &meta); err != nil {
			return loaded, errors.Wrapf(err, "checkpoint meta at offset %d", offset)
		}
		t.ids.observe(TransID(meta.LastTxID))

		for remaining := meta.Records; remaining > 0; {
			data, offset, err := it.Next()
			if err != nil {
				return loaded, errors.Wrapf(err, "checkpoint %s truncated with %d records missing", path, remaining)
			}

			var batch txDataBatch
			if err := deserializeBlock(data, &batch); err != nil {
				return loaded, errors.Wrapf(err, "checkpoint batch at offset %d", offset)
			}
			if len(batch.Records) == 0 {
				return loaded, errors.Newf("empty checkpoint batch at offset %d", offset)
			}

			for _, r := range batch.Records {
				d, err := r.txData()
				if err != nil {
					return loaded, err
				}
				if t.restore(d) {
					loaded++
				}
			}
			remaining -= int64(len(batch.Records))
		}
	}

	t.Refresh()
	t.log.WithFields(logrus.Fields{"path": path, "records": loaded}).Debug("tx table loaded")
	return loaded, nil
}

// restore installs d unless the table already has a decision for it
func (t *TxDataTable) restore(d *TxData) bool {
	s := t.shard(d.TxID)
	s.lock.Lock()
	defer s.lock.Unlock()

	if cur, ok := s.data[d.TxID]; ok && cur.State.IsDecided() {
		return false
	}
	s.data[d.TxID] = d
	t.ids.observe(d.TxID)
	return true
}
