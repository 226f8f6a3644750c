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
	"sync"
	"testing"
)

func TestNewIDGenerator(t *testing.T) {
	g := newIDGenerator()
	if g == nil {
		t.Fatal("newIDGenerator returned nil")
	}
	if g.save() != 0 {
		t.Fatal("lastID was not initialized")
	}
}

func TestNextID_Unique(t *testing.T) {
	g := newIDGenerator()
	id1 := g.nextID()
	id2 := g.nextID()

	if id1 == id2 {
		t.Fatal("nextID did not generate unique IDs")
	}
	if id1 == InvalidTransID {
		t.Fatal("nextID handed out the invalid transaction id")
	}
}

func TestNextID_Monotonic(t *testing.T) {
	g := newIDGenerator()
	id1 := g.nextID()
	id2 := g.nextID()

	if id2 <= id1 {
		t.Fatalf("nextID did not ensure monotonicity: id1=%d, id2=%d", id1, id2)
	}
}

func TestNextID_ThreadSafety(t *testing.T) {
	g := newIDGenerator()
	const numGoroutines = 100
	const idsPerGoroutine = 100

	var wg sync.WaitGroup
	ids := make(chan TransID, numGoroutines*idsPerGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < idsPerGoroutine; j++ {
				ids <- g.nextID()
			}
		}()
	}

	wg.Wait()
	close(ids)

	idSet := make(map[TransID]struct{})
	for id := range ids {
		if _, exists := idSet[id]; exists {
			t.Fatalf("Duplicate ID detected: %d", id)
		}
		idSet[id] = struct{}{}
	}

	if g.save() != TransID(numGoroutines*idsPerGoroutine) {
		t.Fatalf("Expected last id %d, got %d", numGoroutines*idsPerGoroutine, g.save())
	}
}

func TestIDGenerator_OverflowBehavior(t *testing.T) {
	g := reloadIDGenerator(math.MaxInt64)

	nextID := g.nextID()
	if nextID != 1 {
		t.Fatalf("Generator should reset to 1 on overflow, got %d", nextID)
	}
}

func TestIDGenerator_Reload(t *testing.T) {
	g := reloadIDGenerator(41)
	if id := g.nextID(); id != 42 {
		t.Fatalf("Expected 42 after reload, got %d", id)
	}
}

func TestIDGenerator_Observe(t *testing.T) {
	g := newIDGenerator()
	g.observe(100)
	if id := g.nextID(); id != 101 {
		t.Fatalf("Expected 101 after observing 100, got %d", id)
	}

	// Observing an older id never moves the generator back
	g.observe(5)
	if id := g.nextID(); id != 102 {
		t.Fatalf("Expected 102, got %d", id)
	}
}
