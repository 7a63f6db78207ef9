// Copyright 2024 The CFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package capsule

import (
	"container/list"
	"sync"

	"github.com/hqy2000/cfs/internal/block"
)

// blockLRU is a fixed-capacity, hash-keyed LRU cache of CapsuleBlocks.
// Content addressing makes it safe to use without invalidation: a hash
// never refers to two different blocks.
//
// The zero value is not usable; construct with newBlockLRU.
type blockLRU struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List // front = most recently used
	index    map[string]*list.Element
}

type lruEntry struct {
	hash  string
	block block.CapsuleBlock
}

func newBlockLRU(capacity int) *blockLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &blockLRU{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// lookUp returns the cached block for hash, promoting it to
// most-recently-used, or false if absent.
func (c *blockLRU) lookUp(hash string) (block.CapsuleBlock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[hash]
	if !ok {
		return block.CapsuleBlock{}, false
	}
	c.ll.MoveToFront(elem)
	return elem.Value.(*lruEntry).block, true
}

// insert adds hash->cb, evicting the least-recently-used entry if the
// cache is at capacity. Re-inserting an existing hash just promotes it
// (content-addressed values never change for a fixed hash).
func (c *blockLRU) insert(hash string, cb block.CapsuleBlock) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[hash]; ok {
		c.ll.MoveToFront(elem)
		return
	}

	elem := c.ll.PushFront(&lruEntry{hash: hash, block: cb})
	c.index[hash] = elem

	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.index, oldest.Value.(*lruEntry).hash)
	}
}

// len returns the number of entries currently cached (read by tests and by
// Client's cache-size gauge).
func (c *blockLRU) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
