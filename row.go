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
	"sync"
	"sync/atomic"
)

// Row is the per-row head of a version chain.
// Readers load the head without locking; the latch only serializes
// cleanout and head insertion.
type Row struct {
	head  atomic.Pointer[TransNode] // Newest node, nil for a never-written row
	latch sync.Mutex                // Guards cleanout mutation and head insertion
	count atomic.Int64              // Number of nodes ever linked

	retired bool // Set under the latch once the row is purged from its index
}

// NewRow creates an empty row
func NewRow() *Row {
	return &Row{}
}

// ListHead returns the newest node
func (r *Row) ListHead() *TransNode {
	if r == nil {
		return nil
	}
	return r.head.Load()
}

// IsEmpty reports whether the row has no versions
func (r *Row) IsEmpty() bool {
	return r.ListHead() == nil
}

// Count returns the number of nodes linked into the row
func (r *Row) Count() int64 {
	return r.count.Load()
}

// Insert links node as the new head of the chain.
// The node must not have been published on any row yet.  Returns false
// if the row was purged, the caller then inserts into a fresh row.
func (r *Row) Insert(node *TransNode) bool {
	r.latch.Lock()
	defer r.latch.Unlock()

	if r.retired {
		return false
	}
	node.prev = r.head.Load()
	r.head.Store(node)
	r.count.Add(1)
	return true
}

// retire marks the row purged.  The caller holds the latch.
func (r *Row) retire() {
	r.retired = true
}

// IsRetired reports whether the row was purged from its index
func (r *Row) IsRetired() bool {
	r.latch.Lock()
	defer r.latch.Unlock()
	return r.retired
}

// Cleanout publishes a decided state onto a delayed node.
// It returns true if the node was changed.  Nodes that are already decided,
// or that were never delayed, are left untouched.
func (r *Row) Cleanout(node *TransNode, state TxDataState, version Version, needRowLatch bool) bool {
	if needRowLatch {
		r.latch.Lock()
		defer r.latch.Unlock()
	}
	return cleanoutLocked(node, state, version)
}

// cleanoutLocked applies state to node; the caller holds the row latch
func cleanoutLocked(node *TransNode, state TxDataState, version Version) bool {
	if node.IsDecided() || !node.IsDelayedCleanout() {
		return false
	}

	switch state {
	case TxDataStateCommitted:
		node.transCommit(version)
	case TxDataStateAborted:
		node.transAbort()
	case TxDataStateELR:
		if node.IsELR() {
			return false
		}
		node.setELR(version)
	default:
		return false
	}
	return true
}

// LatestCommitted returns the newest committed write and whether every node
// of the chain is settled.  Early-released nodes count as committed at their
// version and locks are passed over.
func (r *Row) LatestCommitted() (*TransNode, bool) {
	return latestCommitted(r.ListHead())
}

func latestCommitted(head *TransNode) (*TransNode, bool) {
	settled := true
	var latest *TransNode
	for n := head; n != nil; n = n.prev {
		if !n.isSettled() {
			settled = false
			continue
		}
		if latest == nil && n.isCommittedAt() && !n.IsLockNode() {
			latest = n
		}
	}
	return latest, settled
}
