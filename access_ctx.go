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
	"fmt"

	"github.com/cockroachdb/errors"
)

// TxSnapshot is the read point of an operation
type TxSnapshot struct {
	Version Version // Snapshot version
	TxID    TransID // Transaction that defined the snapshot, InvalidTransID for none
	SeqNo   int64   // The snapshot transaction's sequence number when the snapshot was taken
}

// IsValid reports whether the snapshot has a version
func (s TxSnapshot) IsValid() bool {
	return s.Version != MinVersion
}

func (s TxSnapshot) String() string {
	return fmt.Sprintf("TxSnapshot{version=%d tx=%d seq=%d}", s.Version, s.TxID, s.SeqNo)
}

// TxTableGuard pins a tx table together with the epoch it was read at
type TxTableGuard struct {
	Table TxTable
	Epoch int64
}

// IsValid reports whether the guard refers to a table
func (g TxTableGuard) IsValid() bool {
	return g.Table != nil
}

// AccessCtx describes who is reading and at which snapshot.
// The reader and the snapshot transaction differ for cursors, which keep the
// snapshot of the statement that opened them.
type AccessCtx struct {
	Snapshot TxSnapshot   // Read point
	TxID     TransID      // Reading transaction
	WeakRead bool         // Weak-consistency read
	TxTable  TxTableGuard // Transaction-status table and epoch
}

// NewAccessCtx creates an access context pinned to the table's current epoch
func NewAccessCtx(snapshot TxSnapshot, reader TransID, table TxTable) *AccessCtx {
	ctx := &AccessCtx{
		Snapshot: snapshot,
		TxID:     reader,
		TxTable:  TxTableGuard{Table: table},
	}
	if table != nil {
		ctx.TxTable.Epoch = table.Epoch()
	}
	return ctx
}

// SnapshotVersion returns the snapshot version
func (ctx *AccessCtx) SnapshotVersion() Version {
	return ctx.Snapshot.Version
}

// Validate checks the context before a read starts
func (ctx *AccessCtx) Validate() error {
	if ctx == nil {
		return errors.Wrap(ErrInvalidArgument, "nil access context")
	}
	if !ctx.Snapshot.IsValid() {
		return errors.Wrapf(ErrInvalidSnapshot, "%s", ctx.Snapshot)
	}
	if !ctx.TxTable.IsValid() {
		return errors.Wrap(ErrInvalidArgument, "access context has no tx table")
	}
	return nil
}

func (ctx *AccessCtx) String() string {
	if ctx == nil {
		return "AccessCtx(nil)"
	}
	return fmt.Sprintf("AccessCtx{%s reader=%d weak=%t epoch=%d}",
		ctx.Snapshot, ctx.TxID, ctx.WeakRead, ctx.TxTable.Epoch)
}

// QueryFlag tunes a single read
type QueryFlag struct {
	ReadLatest      bool // Prefer the reader's own uncommitted writes over the snapshot
	IterUncommitted bool // Walk the raw chain without resolving visibility
	Prewarm         bool // Cache prewarm read, does not stamp barriers
}
