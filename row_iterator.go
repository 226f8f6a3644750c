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
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// BorderFlag says which ends of a scan range are inclusive
type BorderFlag uint8

const (
	BorderInclusiveStart BorderFlag = 1 << iota
	BorderInclusiveEnd
)

func (f BorderFlag) InclusiveStart() bool { return f&BorderInclusiveStart != 0 }

func (f BorderFlag) InclusiveEnd() bool { return f&BorderInclusiveEnd != 0 }

// ScanRange is a key range.  Nil keys are open ends.
type ScanRange struct {
	Start      []byte
	End        []byte
	BorderFlag BorderFlag
}

// RowIterator yields the rows of a range that have a version visible to the
// snapshot, each with a value iterator positioned on that version.
type RowIterator struct {
	inited     bool
	ctx        *AccessCtx
	flag       QueryFlag
	valueIter  *ValueIterator
	engine     QueryEngine
	engineIter QueryEngineIterator
	log        *logrus.Logger
	stats      *Stats
}

// NewRowIterator creates an iterator.  logger and stats may be nil.
func NewRowIterator(logger *logrus.Logger, stats *Stats) *RowIterator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RowIterator{
		valueIter: NewValueIterator(logger, stats),
		log:       logger,
		stats:     stats,
	}
}

// Init opens a scan of rng on engine at ctx's snapshot.  Re-initializing
// releases the previous scan.
func (it *RowIterator) Init(engine QueryEngine, ctx *AccessCtx, rng ScanRange, flag QueryFlag) error {
	if it.inited {
		it.Reset()
	}
	if engine == nil {
		return errors.Wrap(ErrInvalidArgument, "row iterator without query engine")
	}
	if err := ctx.Validate(); err != nil {
		return err
	}

	engineIter, err := engine.Scan(rng.Start, !rng.BorderFlag.InclusiveStart(),
		rng.End, !rng.BorderFlag.InclusiveEnd(), ctx.SnapshotVersion())
	if err != nil {
		it.log.WithError(err).Warn("query engine scan failed")
		return err
	}

	it.ctx = ctx
	it.flag = flag
	it.engine = engine
	it.engineIter = engineIter
	it.inited = true
	return nil
}

// GetNextRow returns the next row with a visible version.  ok is false at
// the end of the range.
func (it *RowIterator) GetNextRow(skipCompact bool) (key []byte, valueIter *ValueIterator, iterFlag uint8, ok bool, err error) {
	if !it.inited {
		return nil, nil, 0, false, ErrNotInit
	}

	var readPartialRow uint8
	for {
		if err := it.engineIter.Next(); err != nil {
			if errors.Is(err, ErrIterEnd) {
				return nil, nil, readPartialRow, false, nil
			}
			it.log.WithError(err).WithField("ctx", it.ctx.String()).Warn("query engine iter next failed")
			return nil, nil, readPartialRow, false, err
		}

		k := it.engineIter.Key()
		if k == nil {
			it.log.WithField("ctx", it.ctx.String()).Error("unexpected nil key")
			return nil, nil, 0, false, errors.AssertionFailedf("query engine returned a nil key")
		}
		row := it.engineIter.Value()
		if row == nil {
			it.log.WithField("ctx", it.ctx.String()).Error("unexpected nil row")
			return nil, nil, 0, false, errors.AssertionFailedf("query engine returned a nil row for key %q", k)
		}

		if err := it.valueIter.Init(it.ctx, k, row, it.flag, skipCompact); err != nil {
			it.log.WithError(err).WithField("key", string(k)).Warn("value iter init failed")
			return nil, nil, 0, false, err
		}

		if !it.valueIter.IsExist() {
			readPartialRow = it.engineIter.IterFlag() & IterFlagRowPartial
			continue
		}

		return k, it.valueIter, it.engineIter.IterFlag() | readPartialRow, true, nil
	}
}

// GetKeyVal returns the key and row the scan is positioned on
func (it *RowIterator) GetKeyVal() ([]byte, *Row, error) {
	if !it.inited {
		return nil, nil, ErrNotInit
	}
	return it.engineIter.Key(), it.engineIter.Value(), nil
}

// TryPurge drops row from the engine if no snapshot at or after snapshot's
// version can see data in it, and reports whether this call dropped it
func (it *RowIterator) TryPurge(snapshot TxSnapshot, key []byte, row *Row) (bool, error) {
	if !it.inited {
		return false, ErrNotInit
	}
	if key == nil || row == nil {
		return false, errors.Wrap(ErrInvalidArgument, "purge without key or row")
	}

	purged, err := it.engine.CheckAndPurge(key, row, snapshot.Version)
	if err != nil {
		it.log.WithError(err).WithField("key", string(key)).Warn("check and purge failed")
		return false, err
	}
	if purged {
		it.stats.incRowPurge()
	}
	return purged, nil
}

// GetEndGapKey skips, from the current key in the scan's direction, the rows
// with no data at snapshot's version.  It returns the key the gap ends at and
// how many rows it held.
func (it *RowIterator) GetEndGapKey(snapshot TxSnapshot) ([]byte, int64, error) {
	if !it.inited {
		return nil, 0, ErrNotInit
	}
	start := it.engineIter.Key()
	if start == nil {
		return nil, 0, errors.Wrap(ErrInvalidArgument, "scan is not positioned on a key")
	}

	key, size, err := it.engine.SkipGap(start, snapshot.Version, it.engineIter.IsReverseScan())
	if err != nil {
		it.log.WithError(err).WithField("key", string(start)).Warn("skip gap failed")
		return nil, 0, err
	}
	return key, size, nil
}

// Reset releases the scan
func (it *RowIterator) Reset() {
	if it.engine != nil && it.engineIter != nil {
		it.engine.RevertIter(it.engineIter)
	}
	it.inited = false
	it.ctx = nil
	it.flag = QueryFlag{}
	it.engine = nil
	it.engineIter = nil
	it.valueIter.Reset()
}
