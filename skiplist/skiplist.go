// Package skiplist
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
package skiplist

import (
	"bytes"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

const MaxLevel = 16
const p = 0.25

// KeyComparator defines the interface for comparing keys
type KeyComparator func(a, b []byte) int

// Node represents a node in the skip list.
// Nodes are never unlinked; removing a key clears its value.
type Node[V any] struct {
	forward [MaxLevel]atomic.Pointer[Node[V]] // Successors per level
	key     []byte                            // Immutable key
	value   atomic.Pointer[V]                 // nil once the key is removed
}

// Key returns the node's key
func (n *Node[V]) Key() []byte {
	return n.key
}

// Value returns the node's value, nil if removed
func (n *Node[V]) Value() *V {
	return n.value.Load()
}

// SkipList is a concurrent ordered map from byte keys to *V
type SkipList[V any] struct {
	header     *Node[V]      // Special header node
	level      atomic.Int32  // Current maximum level of the list
	rng        *rand.Rand    // Random number generator with its own lock
	rngMutex   sync.Mutex    // Mutex for the random number generator
	comparator KeyComparator // User-provided comparator function
	length     atomic.Int64  // Number of keys with a value
}

// Iterator walks the keys of a range in either direction.
// Removed keys are skipped.
type Iterator[V any] struct {
	sl             *SkipList[V]
	current        *Node[V]
	start          []byte // First bound in iteration order, nil for unbounded
	end            []byte // Last bound in iteration order, nil for unbounded
	exclusiveStart bool
	exclusiveEnd   bool
	reverse        bool
	started        bool
	done           bool
}

// New creates a new concurrent skip list using bytes.Compare
func New[V any]() *SkipList[V] {
	return NewWithComparator[V](bytes.Compare)
}

// NewWithComparator creates a new concurrent skip list with a custom key comparator
func NewWithComparator[V any](cmp KeyComparator) *SkipList[V] {
	sl := &SkipList[V]{
		header:     &Node[V]{key: []byte{}},
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		comparator: cmp,
	}
	sl.level.Store(1)
	return sl
}

// getLevel returns the current maximum level of the skip list
func (sl *SkipList[V]) getLevel() int {
	return int(sl.level.Load())
}

// randomLevel generates a random level for a new node
func (sl *SkipList[V]) randomLevel() int {
	sl.rngMutex.Lock()
	defer sl.rngMutex.Unlock()

	lvl := 1
	for sl.rng.Float64() < p && lvl < MaxLevel {
		lvl++
	}
	return lvl
}

// raiseLevel lifts the list level to at least lvl
func (sl *SkipList[V]) raiseLevel(lvl int) {
	for {
		cur := sl.level.Load()
		if int32(lvl) <= cur || sl.level.CompareAndSwap(cur, int32(lvl)) {
			return
		}
	}
}

// findPreds fills preds and succs for key on every level and returns the node holding key if any
func (sl *SkipList[V]) findPreds(key []byte, preds, succs *[MaxLevel]*Node[V]) *Node[V] {
	prev := sl.header
	var found *Node[V]

	for i := MaxLevel - 1; i >= 0; i-- {
		curr := prev.forward[i].Load()
		for curr != nil {
			cmp := sl.comparator(curr.key, key)
			if cmp >= 0 {
				if cmp == 0 {
					found = curr
				}
				break
			}
			prev = curr
			curr = curr.forward[i].Load()
		}
		preds[i] = prev
		succs[i] = curr
	}
	return found
}

// findGreaterOrEqual returns the first node with key >= key (> when exclusive)
func (sl *SkipList[V]) findGreaterOrEqual(key []byte, exclusive bool) *Node[V] {
	prev := sl.header
	for i := sl.getLevel() - 1; i >= 0; i-- {
		for {
			next := prev.forward[i].Load()
			if next == nil {
				break
			}
			cmp := sl.comparator(next.key, key)
			if cmp > 0 || (cmp == 0 && !exclusive) {
				break
			}
			prev = next
		}
	}
	return prev.forward[0].Load()
}

// findLess returns the last node with key < key (<= when inclusive).
// A nil key means the last node of the list.  Returns nil if there is none.
func (sl *SkipList[V]) findLess(key []byte, inclusive bool) *Node[V] {
	prev := sl.header
	for i := sl.getLevel() - 1; i >= 0; i-- {
		for {
			next := prev.forward[i].Load()
			if next == nil {
				break
			}
			if key != nil {
				cmp := sl.comparator(next.key, key)
				if cmp > 0 || (cmp == 0 && !inclusive) {
					break
				}
			}
			prev = next
		}
	}
	if prev == sl.header {
		return nil
	}
	return prev
}

// Get returns the value stored under key
func (sl *SkipList[V]) Get(key []byte) (*V, bool) {
	n := sl.findGreaterOrEqual(key, false)
	if n == nil || sl.comparator(n.key, key) != 0 {
		return nil, false
	}
	v := n.value.Load()
	return v, v != nil
}

// GetOrInsert returns the value under key, storing value first if the key is absent or removed.
// inserted is true when value was stored.
func (sl *SkipList[V]) GetOrInsert(key []byte, value *V) (actual *V, inserted bool) {
	var preds, succs [MaxLevel]*Node[V]
	var newNode *Node[V]
	var topLevel int

	for {
		if existing := sl.findPreds(key, &preds, &succs); existing != nil {
			if v := existing.value.Load(); v != nil {
				return v, false
			}
			// Removed key, try to revive it with our value
			if existing.value.CompareAndSwap(nil, value) {
				sl.length.Add(1)
				return value, true
			}
			continue
		}

		if newNode == nil {
			topLevel = sl.randomLevel()
			keyClone := make([]byte, len(key))
			copy(keyClone, key)
			newNode = &Node[V]{key: keyClone}
			newNode.value.Store(value)
		}

		// Level 0 decides whether the insert happened
		newNode.forward[0].Store(succs[0])
		if !preds[0].forward[0].CompareAndSwap(succs[0], newNode) {
			continue
		}
		break
	}

	sl.raiseLevel(topLevel)

	for i := 1; i < topLevel; i++ {
		for {
			newNode.forward[i].Store(succs[i])
			if preds[i].forward[i].CompareAndSwap(succs[i], newNode) {
				break
			}
			// Lost a race on this level, search again
			sl.findPreds(key, &preds, &succs)
		}
	}

	sl.length.Add(1)
	return value, true
}

// Remove clears the value under key if it is still expected.
// The node stays linked so concurrent iterators remain valid.
func (sl *SkipList[V]) Remove(key []byte, expected *V) bool {
	n := sl.findGreaterOrEqual(key, false)
	if n == nil || sl.comparator(n.key, key) != 0 {
		return false
	}
	if n.value.CompareAndSwap(expected, nil) {
		sl.length.Add(-1)
		return true
	}
	return false
}

// Len returns the number of keys with a value
func (sl *SkipList[V]) Len() int64 {
	return sl.length.Load()
}

// Compare compares two keys with the list's comparator
func (sl *SkipList[V]) Compare(a, b []byte) int {
	return sl.comparator(a, b)
}

// NewIterator iterates over the whole list in key order
func (sl *SkipList[V]) NewIterator() *Iterator[V] {
	return &Iterator[V]{sl: sl}
}

// NewRangeIterator iterates from start towards end.  Going forward start must
// not be greater than end; in reverse start must not be less than end.  A nil
// bound is unbounded.
func (sl *SkipList[V]) NewRangeIterator(start []byte, exclusiveStart bool, end []byte, exclusiveEnd bool, reverse bool) (*Iterator[V], error) {
	if start != nil && end != nil {
		cmp := sl.comparator(start, end)
		if (!reverse && cmp > 0) || (reverse && cmp < 0) {
			return nil, errors.New("start and end are out of order for the scan direction")
		}
	}

	return &Iterator[V]{
		sl:             sl,
		start:          cloneKey(start),
		end:            cloneKey(end),
		exclusiveStart: exclusiveStart,
		exclusiveEnd:   exclusiveEnd,
		reverse:        reverse,
	}, nil
}

func cloneKey(k []byte) []byte {
	if k == nil {
		return nil
	}
	return append([]byte{}, k...)
}

// IsReverse reports whether the iterator walks keys in descending order
func (it *Iterator[V]) IsReverse() bool {
	return it.reverse
}

// Next moves to the next live key in range and reports whether there is one
func (it *Iterator[V]) Next() bool {
	if it.done {
		return false
	}

	for {
		it.step()
		if it.current == nil || !it.inEndBound(it.current.key) {
			it.current = nil
			it.done = true
			return false
		}
		if it.current.value.Load() != nil {
			return true
		}
	}
}

// step moves current one node in the iteration direction
func (it *Iterator[V]) step() {
	sl := it.sl
	if !it.started {
		it.started = true
		switch {
		case it.reverse:
			it.current = sl.findLess(it.start, !it.exclusiveStart)
		case it.start != nil:
			it.current = sl.findGreaterOrEqual(it.start, it.exclusiveStart)
		default:
			it.current = sl.header.forward[0].Load()
		}
		return
	}

	if it.reverse {
		it.current = sl.findLess(it.current.key, false)
	} else {
		it.current = it.current.forward[0].Load()
	}
}

// inEndBound reports whether key has not passed the end bound
func (it *Iterator[V]) inEndBound(key []byte) bool {
	if it.end == nil {
		return true
	}
	cmp := it.sl.comparator(key, it.end)
	if it.reverse {
		cmp = -cmp
	}
	if it.exclusiveEnd {
		return cmp < 0
	}
	return cmp <= 0
}

// Valid reports whether the iterator is positioned on a key
func (it *Iterator[V]) Valid() bool {
	return it.current != nil
}

// Key returns the current key
func (it *Iterator[V]) Key() []byte {
	if it.current == nil {
		return nil
	}
	return it.current.key
}

// Value returns the current value, nil if the key was removed after positioning
func (it *Iterator[V]) Value() *V {
	if it.current == nil {
		return nil
	}
	return it.current.value.Load()
}
