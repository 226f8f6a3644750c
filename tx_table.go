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

// TxTable is the transaction-status table the resolver consults for
// transactions whose outcome is not yet published on their nodes.
type TxTable interface {
	// Epoch returns the table's current epoch
	Epoch() int64

	// LockForRead decides whether the data written by arg.DataTxID at
	// arg.DataSeqNo can be read, and at which version.  If the table knows
	// the outcome it applies cleanout as a side effect.  recheck runs first so
	// a node decided concurrently is answered from the node itself.
	LockForRead(arg LockForReadArg, readEpoch int64, cleanout CleanoutOp, recheck RecheckOp) (LockForReadResult, error)

	// CleanoutTxNode publishes the outcome of txID on node if it is known
	CleanoutTxNode(txID TransID, readEpoch int64, row *Row, node *TransNode, needRowLatch bool) error
}

// LockForReadArg is the input of TxTable.LockForRead
type LockForReadArg struct {
	Ctx        *AccessCtx
	DataTxID   TransID
	DataSeqNo  int64
	ReadLatest bool
}

// LockForReadResult is the output of TxTable.LockForRead
type LockForReadResult struct {
	CanRead    bool    // The data may be read
	Version    Version // Version the data is visible at, MaxVersion if not committed
	Determined bool    // The writer's outcome is final
}

// CleanoutKind selects what LockForRead does once it knows an outcome
type CleanoutKind uint8

const (
	// CleanoutNothing leaves the node untouched
	CleanoutNothing CleanoutKind = iota
	// CleanoutTxNodeKind publishes the outcome onto a delayed node
	CleanoutTxNodeKind
)

// CleanoutOp is what the table does to a node once the writer's outcome is known
type CleanoutOp struct {
	Kind         CleanoutKind
	Row          *Row
	Node         *TransNode
	NeedRowLatch bool
}

// NoCleanout returns an op that does nothing
func NoCleanout() CleanoutOp {
	return CleanoutOp{Kind: CleanoutNothing}
}

// CleanoutTxNode returns an op that cleans node out on row
func CleanoutTxNode(row *Row, node *TransNode, needRowLatch bool) CleanoutOp {
	return CleanoutOp{Kind: CleanoutTxNodeKind, Row: row, Node: node, NeedRowLatch: needRowLatch}
}

// Apply runs the op for the given outcome and reports whether the node changed
func (op CleanoutOp) Apply(state TxDataState, version Version) bool {
	if op.Kind != CleanoutTxNodeKind || op.Node == nil || op.Row == nil {
		return false
	}
	return op.Row.Cleanout(op.Node, state, version, op.NeedRowLatch)
}

// RecheckOp answers from the node itself when it was decided concurrently.
// ok is false when the node is still undecided.
type RecheckOp func() (result LockForReadResult, ok bool)

// RecheckTxNode builds the recheck op for node
func RecheckTxNode(node *TransNode) RecheckOp {
	return func() (LockForReadResult, bool) {
		switch {
		case node.IsCommitted():
			return LockForReadResult{CanRead: true, Version: node.TransVersion(), Determined: true}, true
		case node.IsAborted():
			return LockForReadResult{CanRead: false, Version: MaxVersion, Determined: true}, true
		}
		return LockForReadResult{}, false
	}
}
