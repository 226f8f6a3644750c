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

import "fmt"

// TxDataState is the authoritative outcome of a transaction
type TxDataState int32

const (
	TxDataStateRunning TxDataState = iota
	TxDataStateCommitted
	TxDataStateAborted
	TxDataStateELR // Early lock release, provisionally committed
)

func (s TxDataState) String() string {
	switch s {
	case TxDataStateRunning:
		return "running"
	case TxDataStateCommitted:
		return "committed"
	case TxDataStateAborted:
		return "aborted"
	case TxDataStateELR:
		return "elr"
	}
	return fmt.Sprintf("TxDataState(%d)", int32(s))
}

// IsDecided reports whether the state is final
func (s TxDataState) IsDecided() bool {
	return s == TxDataStateCommitted || s == TxDataStateAborted
}

// UndoAction records a rollback to savepoint: writes with To < seq <= From are undone
type UndoAction struct {
	From int64
	To   int64
}

// IsUndone reports whether seq falls inside the rolled back range
func (u UndoAction) IsUndone(seq int64) bool {
	return seq > u.To && seq <= u.From
}

// TxData is the tx table's record of one transaction
type TxData struct {
	TxID          TransID
	State         TxDataState
	CommitVersion Version // MaxVersion until committed or elr
	StartVersion  Version
	UndoStatus    []UndoAction
}

// newTxData creates a running record
func newTxData(id TransID, start Version) *TxData {
	return &TxData{
		TxID:          id,
		State:         TxDataStateRunning,
		CommitVersion: MaxVersion,
		StartVersion:  start,
	}
}

// IsUndone reports whether the write at seq was rolled back by a savepoint
func (d *TxData) IsUndone(seq int64) bool {
	for _, u := range d.UndoStatus {
		if u.IsUndone(seq) {
			return true
		}
	}
	return false
}

func (d *TxData) clone() *TxData {
	c := *d
	if d.UndoStatus != nil {
		c.UndoStatus = append([]UndoAction(nil), d.UndoStatus...)
	}
	return &c
}

func (d *TxData) String() string {
	return fmt.Sprintf("TxData{tx=%d state=%s commit=%d start=%d undo=%d}",
		d.TxID, d.State, d.CommitVersion, d.StartVersion, len(d.UndoStatus))
}
