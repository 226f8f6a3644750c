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
	"math"
	"strings"
	"sync/atomic"
)

// Version is a commit timestamp
type Version uint64

const (
	// MinVersion is the smallest valid version, never a valid snapshot
	MinVersion Version = 0
	// MaxVersion marks a node whose commit version is not yet known
	MaxVersion Version = math.MaxUint64
)

// TransID identifies a transaction
type TransID int64

// InvalidTransID is the zero transaction id, never assigned to a writer
const InvalidTransID TransID = 0

// NodeType distinguishes ordinary versions from compacted baselines
type NodeType uint8

const (
	// NodeTypeNormal is a version written by a single transaction
	NodeTypeNormal NodeType = iota
	// NodeTypeCompact folds every older version of the row into one baseline
	NodeTypeCompact
)

// DMLType is the kind of write a node records
type DMLType uint8

const (
	DMLInsert DMLType = iota
	DMLUpdate
	DMLDelete
	DMLLock // Row lock with no payload
)

// Node flag bits, stored together in one atomic word
const (
	flagCommitted uint32 = 1 << iota
	flagAborted
	flagELR
	flagDelayedCleanout
	flagSafeReadBarrier
)

// TransNode is one write by one transaction to one row.
// Nodes form a newest-to-oldest chain through prev.  Everything except the
// version, the state flags and the barrier stamps is immutable once the node
// is published on a Row.
type TransNode struct {
	TxID  TransID  // Writing transaction
	SeqNo int64    // Per-transaction write sequence number
	Type  NodeType // Normal or compact baseline
	DML   DMLType  // Kind of write
	Data  []byte   // Row payload, nil for deletes and locks

	prev                   *TransNode    // Next-older node, immutable after publish
	transVersion           atomic.Uint64 // Commit version, MaxVersion while undecided
	flags                  atomic.Uint32 // Committed, aborted, elr, delayed cleanout, barrier
	snapshotVersionBarrier atomic.Uint64 // Advisory, last snapshot that resolved this node
}

// NewTransNode creates an undecided node for txID.  A delayed node is one whose
// writer published it before its outcome was known; the first reader that
// finds it decided in the tx table cleans it out.
func NewTransNode(txID TransID, seqNo int64, dml DMLType, data []byte, delayed bool) *TransNode {
	n := &TransNode{
		TxID:  txID,
		SeqNo: seqNo,
		Type:  NodeTypeNormal,
		DML:   dml,
		Data:  data,
	}
	n.transVersion.Store(uint64(MaxVersion))
	if delayed {
		n.flags.Store(flagDelayedCleanout)
	}
	return n
}

// NewCompactNode creates a committed baseline node at version
func NewCompactNode(version Version, data []byte) *TransNode {
	n := &TransNode{
		Type: NodeTypeCompact,
		DML:  DMLUpdate,
		Data: data,
	}
	n.transVersion.Store(uint64(version))
	n.flags.Store(flagCommitted)
	return n
}

// Prev returns the next-older node
func (n *TransNode) Prev() *TransNode {
	return n.prev
}

// TransVersion returns the commit version, MaxVersion while undecided
func (n *TransNode) TransVersion() Version {
	return Version(n.transVersion.Load())
}

func (n *TransNode) hasFlag(f uint32) bool {
	return n.flags.Load()&f != 0
}

// setFlag ORs f into the flag word
func (n *TransNode) setFlag(f uint32) {
	for {
		old := n.flags.Load()
		if old&f == f {
			return
		}
		if n.flags.CompareAndSwap(old, old|f) {
			return
		}
	}
}

// clearFlag removes f from the flag word
func (n *TransNode) clearFlag(f uint32) {
	for {
		old := n.flags.Load()
		if old&f == 0 {
			return
		}
		if n.flags.CompareAndSwap(old, old&^f) {
			return
		}
	}
}

// IsCommitted reports whether the node is committed
func (n *TransNode) IsCommitted() bool { return n.hasFlag(flagCommitted) }

// IsAborted reports whether the node is aborted
func (n *TransNode) IsAborted() bool { return n.hasFlag(flagAborted) }

// IsELR reports whether the writer was early-released with a provisional version
func (n *TransNode) IsELR() bool { return n.hasFlag(flagELR) }

// IsDelayedCleanout reports whether the node still waits for a reader to clean it out
func (n *TransNode) IsDelayedCleanout() bool { return n.hasFlag(flagDelayedCleanout) }

// IsLockNode reports whether the node is a pure row lock
func (n *TransNode) IsLockNode() bool { return n.DML == DMLLock }

// IsCompact reports whether the node is a compacted baseline
func (n *TransNode) IsCompact() bool { return n.Type == NodeTypeCompact }

// IsDecided reports whether the node is committed or aborted
func (n *TransNode) IsDecided() bool {
	return n.flags.Load()&(flagCommitted|flagAborted) != 0
}

// isSettled reports whether the node's outcome can no longer turn into an
// abort: it is decided, or early-released and bound to commit at its version
func (n *TransNode) isSettled() bool {
	return n.flags.Load()&(flagCommitted|flagAborted|flagELR) != 0
}

// isCommittedAt reports whether the node is committed, or early-released,
// and so readable at TransVersion
func (n *TransNode) isCommittedAt() bool {
	return n.flags.Load()&(flagCommitted|flagELR) != 0
}

// transCommit publishes the commit version and then the committed state.
// The version store must precede the flag store; readers load flags first.
func (n *TransNode) transCommit(version Version) {
	n.transVersion.Store(uint64(version))
	n.setFlag(flagCommitted)
	n.clearFlag(flagELR | flagDelayedCleanout)
}

// setELR publishes the provisional version and then the elr state.
// The node stays delayed so the final commit is still cleaned out onto it.
func (n *TransNode) setELR(version Version) {
	n.transVersion.Store(uint64(version))
	n.setFlag(flagELR)
}

// transAbort publishes the aborted state
func (n *TransNode) transAbort() {
	n.setFlag(flagAborted)
	n.clearFlag(flagDelayedCleanout)
}

// SetSafeReadBarrier marks the node as resolved by a weak read
func (n *TransNode) SetSafeReadBarrier() {
	n.setFlag(flagSafeReadBarrier)
}

// IsSafeReadBarrier reports whether a weak read resolved this node
func (n *TransNode) IsSafeReadBarrier() bool { return n.hasFlag(flagSafeReadBarrier) }

// SetSnapshotVersionBarrier records the snapshot that resolved this node.
// Racing stamps may overwrite each other.
func (n *TransNode) SetSnapshotVersionBarrier(v Version) {
	n.snapshotVersionBarrier.Store(uint64(v))
}

// SnapshotVersionBarrier returns the last recorded snapshot barrier, MinVersion if none
func (n *TransNode) SnapshotVersionBarrier() Version {
	return Version(n.snapshotVersionBarrier.Load())
}

// stateString renders the flag word for logs
func (n *TransNode) stateString() string {
	f := n.flags.Load()
	var parts []string
	switch {
	case f&flagCommitted != 0:
		parts = append(parts, "committed")
	case f&flagAborted != 0:
		parts = append(parts, "aborted")
	case f&flagELR != 0:
		parts = append(parts, "elr")
	default:
		parts = append(parts, "undecided")
	}
	if f&flagDelayedCleanout != 0 {
		parts = append(parts, "delayed")
	}
	if f&flagSafeReadBarrier != 0 {
		parts = append(parts, "barrier")
	}
	return strings.Join(parts, "|")
}

func (n *TransNode) String() string {
	if n == nil {
		return "TransNode(nil)"
	}
	version := "max"
	if v := n.TransVersion(); v != MaxVersion {
		version = fmt.Sprintf("%d", v)
	}
	return fmt.Sprintf("TransNode{tx=%d seq=%d type=%d dml=%d version=%s state=%s}",
		n.TxID, n.SeqNo, n.Type, n.DML, version, n.stateString())
}
