// Package lru
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
package lru

import (
	"container/list"
	"sync"
)

// EvictionCallback is called when a key leaves the cache by eviction, removal or Clear
type EvictionCallback[K comparable, V any] func(key K, value V)

// entry is one cached key
type entry[K comparable, V any] struct {
	key     K
	value   V
	onEvict EvictionCallback[K, V]
}

// LRU is a fixed-capacity least-recently-used cache
type LRU[K comparable, V any] struct {
	capacity int
	order    *list.List          // Front is most recently used
	items    map[K]*list.Element // Key -> element in order
	lock     sync.Mutex
}

// New creates a cache holding at most capacity keys.  A capacity <= 0 is unbounded.
func New[K comparable, V any](capacity int) *LRU[K, V] {
	return &LRU[K, V]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[K]*list.Element),
	}
}

// Get returns the value for key and marks it recently used
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Put adds or replaces key.  When the cache is full the least recently used
// key is evicted and its callback runs after the lock is released.
func (c *LRU[K, V]) Put(key K, value V, onEvict EvictionCallback[K, V]) {
	var evicted *entry[K, V]

	c.lock.Lock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		if onEvict != nil {
			e.onEvict = onEvict
		}
		c.order.MoveToFront(el)
		c.lock.Unlock()
		return
	}

	if c.capacity > 0 && c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			evicted = c.removeElement(oldest)
		}
	}

	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, onEvict: onEvict})
	c.lock.Unlock()

	evicted.fire()
}

// Remove deletes key, running its callback
func (c *LRU[K, V]) Remove(key K) bool {
	c.lock.Lock()
	el, ok := c.items[key]
	var removed *entry[K, V]
	if ok {
		removed = c.removeElement(el)
	}
	c.lock.Unlock()

	removed.fire()
	return ok
}

// Len returns the number of cached keys
func (c *LRU[K, V]) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.order.Len()
}

// Clear empties the cache, running every callback
func (c *LRU[K, V]) Clear() {
	c.lock.Lock()
	var removed []*entry[K, V]
	for el := c.order.Back(); el != nil; el = c.order.Back() {
		removed = append(removed, c.removeElement(el))
	}
	c.lock.Unlock()

	for _, e := range removed {
		e.fire()
	}
}

// ForEach visits keys from most to least recently used until fn returns false
func (c *LRU[K, V]) ForEach(fn func(key K, value V) bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[K, V])
		if !fn(e.key, e.value) {
			return
		}
	}
}

// removeElement unlinks el; the caller holds the lock
func (c *LRU[K, V]) removeElement(el *list.Element) *entry[K, V] {
	e := c.order.Remove(el).(*entry[K, V])
	delete(c.items, e.key)
	return e
}

func (e *entry[K, V]) fire() {
	if e != nil && e.onEvict != nil {
		e.onEvict(e.key, e.value)
	}
}
