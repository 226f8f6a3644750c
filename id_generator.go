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
	"math"
	"sync/atomic"
)

// IDGenerator hands out transaction ids.  Ids are unique and monotonic until
// the generator wraps, and never InvalidTransID.
type IDGenerator struct {
	lastID atomic.Int64
}

// newIDGenerator creates a new ID generator
func newIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// reloadIDGenerator creates a new ID generator continuing after lastID
func reloadIDGenerator(lastID TransID) *IDGenerator {
	g := &IDGenerator{}
	g.lastID.Store(int64(lastID))
	return g
}

// nextID generates the next transaction id, resetting to 1 if int64 max is reached
func (g *IDGenerator) nextID() TransID {
	for {
		last := g.lastID.Load()
		var next int64

		if last == math.MaxInt64 {
			next = 1
		} else {
			next = last + 1
		}

		if g.lastID.CompareAndSwap(last, next) {
			return TransID(next)
		}
	}
}

// observe moves the generator past id so ids restored from a checkpoint are never reissued
func (g *IDGenerator) observe(id TransID) {
	for {
		last := g.lastID.Load()
		if int64(id) <= last {
			return
		}
		if g.lastID.CompareAndSwap(last, int64(id)) {
			return
		}
	}
}

// save returns the last id handed out
func (g *IDGenerator) save() TransID {
	return TransID(g.lastID.Load())
}
