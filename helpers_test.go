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
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// quietLogger discards everything
func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestTable(t *testing.T) *TxDataTable {
	t.Helper()
	table, err := NewTxDataTable(&Options{Logger: quietLogger()}, nil)
	require.NoError(t, err)
	return table
}

// buildRow links nodes given newest first
func buildRow(nodes ...*TransNode) *Row {
	row := NewRow()
	for i := len(nodes) - 1; i >= 0; i-- {
		row.Insert(nodes[i])
	}
	return row
}

func committedNode(tx TransID, seq int64, version Version) *TransNode {
	n := NewTransNode(tx, seq, DMLUpdate, []byte("v"), false)
	n.transCommit(version)
	return n
}

func abortedNode(tx TransID, seq int64) *TransNode {
	n := NewTransNode(tx, seq, DMLUpdate, []byte("v"), false)
	n.transAbort()
	return n
}

func runningNode(tx TransID, seq int64, delayed bool) *TransNode {
	return NewTransNode(tx, seq, DMLUpdate, []byte("v"), delayed)
}

// countingTable counts the calls that reach the tx table
type countingTable struct {
	TxTable
	lockForRead atomic.Int64
	cleanout    atomic.Int64
}

func (c *countingTable) LockForRead(arg LockForReadArg, readEpoch int64, cleanout CleanoutOp, recheck RecheckOp) (LockForReadResult, error) {
	c.lockForRead.Add(1)
	return c.TxTable.LockForRead(arg, readEpoch, cleanout, recheck)
}

func (c *countingTable) CleanoutTxNode(txID TransID, readEpoch int64, row *Row, node *TransNode, needRowLatch bool) error {
	c.cleanout.Add(1)
	return c.TxTable.CleanoutTxNode(txID, readEpoch, row, node, needRowLatch)
}

// fixedTable answers every lock for read with the same result
type fixedTable struct {
	result LockForReadResult
	state  TxDataState
	calls  atomic.Int64
}

func (f *fixedTable) Epoch() int64 { return 1 }

func (f *fixedTable) LockForRead(arg LockForReadArg, readEpoch int64, cleanout CleanoutOp, recheck RecheckOp) (LockForReadResult, error) {
	f.calls.Add(1)
	if res, ok := recheck(); ok {
		return res, nil
	}
	if f.result.Determined || f.state == TxDataStateELR {
		cleanout.Apply(f.state, f.result.Version)
	}
	return f.result, nil
}

func (f *fixedTable) CleanoutTxNode(txID TransID, readEpoch int64, row *Row, node *TransNode, needRowLatch bool) error {
	if f.result.Determined {
		row.Cleanout(node, f.state, f.result.Version, needRowLatch)
	}
	return nil
}

// resolve runs the resolver for ctx over row and returns the visible node
func resolve(t *testing.T, ctx *AccessCtx, row *Row, flag QueryFlag) *TransNode {
	t.Helper()
	it := NewValueIterator(quietLogger(), nil)
	require.NoError(t, it.Init(ctx, []byte("k"), row, flag, false))
	return it.versionIter
}

// drain returns every node the iterator yields
func drain(t *testing.T, it *ValueIterator) []*TransNode {
	t.Helper()
	var out []*TransNode
	for {
		n, ok, err := it.GetNextNode()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, n)
	}
}
