// Package queue
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
package queue

import (
	"sync/atomic"
)

// node is a link in the queue
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// Queue is a concurrent non-blocking FIFO queue (Michael-Scott)
type Queue[T any] struct {
	head atomic.Pointer[node[T]]
	tail atomic.Pointer[node[T]]
	size atomic.Int64
}

// New creates an empty queue
func New[T any]() *Queue[T] {
	sentinel := &node[T]{}
	q := &Queue[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// Enqueue adds a value to the back of the queue
func (q *Queue[T]) Enqueue(value T) {
	n := &node[T]{value: value}

	for {
		tail := q.tail.Load()
		next := tail.next.Load()

		// Check if tail is consistent
		if tail != q.tail.Load() {
			continue
		}

		if next == nil {
			// Try to link node at the end of the list
			if tail.next.CompareAndSwap(nil, n) {
				// Enqueue is done, try to swing tail to the inserted node
				q.tail.CompareAndSwap(tail, n)
				q.size.Add(1)
				return
			}
		} else {
			// Tail was not pointing to the last node, try to advance tail
			q.tail.CompareAndSwap(tail, next)
		}
	}
}

// Dequeue removes and returns the value at the front.  ok is false when empty.
func (q *Queue[T]) Dequeue() (value T, ok bool) {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()

		if head != q.head.Load() {
			continue
		}

		if head == tail {
			if next == nil {
				return value, false
			}
			// Tail is falling behind
			q.tail.CompareAndSwap(tail, next)
			continue
		}

		if next == nil {
			continue
		}

		v := next.value
		if q.head.CompareAndSwap(head, next) {
			q.size.Add(-1)
			return v, true
		}
	}
}

// IsEmpty returns true if the queue is empty
func (q *Queue[T]) IsEmpty() bool {
	return q.head.Load().next.Load() == nil
}

// ForEach visits queued values front to back until f returns false
func (q *Queue[T]) ForEach(f func(item T) bool) {
	for next := q.head.Load().next.Load(); next != nil; next = next.next.Load() {
		if !f(next.value) {
			return
		}
	}
}

// Size returns the number of queued values
func (q *Queue[T]) Size() int64 {
	return q.size.Load()
}
