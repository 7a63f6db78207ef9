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

	"github.com/hqy2000/cfs/internal/block"
)

// state holds a capsule's append-only content map and its maintained leaf
// set. It carries no synchronization of its own; Server wraps it in a
// single invariant-checked mutex (spec.md §4.2/§5).
//
// INVARIANT: every prev_hash stored in content is either "" or a key of
// content.
// INVARIANT: every key of content is either in leafOrder, or is the
// prev_hash of some other key in content.
// INVARIANT: leafOrder is disjoint from the set of prev_hash values
// referenced by blocks in content.
type state struct {
	content   map[string]block.CapsuleBlock
	leafOrder *list.List // elements are hash strings, oldest leaf at back
	leafIndex map[string]*list.Element
}

func newState() *state {
	return &state{
		content:   make(map[string]block.CapsuleBlock),
		leafOrder: list.New(),
		leafIndex: make(map[string]*list.Element),
	}
}

func (s *state) get(hash string) (block.CapsuleBlock, bool) {
	cb, ok := s.content[hash]
	return cb, ok
}

func (s *state) addLeaf(hash string) {
	if _, ok := s.leafIndex[hash]; ok {
		return
	}
	s.leafIndex[hash] = s.leafOrder.PushFront(hash)
}

func (s *state) removeLeaf(hash string) {
	elem, ok := s.leafIndex[hash]
	if !ok {
		return
	}
	s.leafOrder.Remove(elem)
	delete(s.leafIndex, hash)
}

func (s *state) leafs() []string {
	out := make([]string, 0, s.leafOrder.Len())
	for e := s.leafOrder.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}

// insert adds hash->cb to content and updates the leaf set: hash becomes a
// leaf, and cb's prev_hash (if any) stops being one.
func (s *state) insert(hash string, cb block.CapsuleBlock) {
	s.content[hash] = cb
	s.addLeaf(hash)
	if cb.PrevHash != "" {
		s.removeLeaf(cb.PrevHash)
	}
}

// checkInvariants panics if the leaf-set closure invariant is violated.
// Wired as the callback for syncutil.NewInvariantMutex so violations are
// caught immediately after every unlock in non-production builds.
func (s *state) checkInvariants() {
	referenced := make(map[string]bool, len(s.content))
	for _, cb := range s.content {
		if cb.PrevHash != "" {
			referenced[cb.PrevHash] = true
		}
	}
	for hash := range s.content {
		_, isLeaf := s.leafIndex[hash]
		if isLeaf == referenced[hash] {
			panic("capsule: leaf-set invariant violated for " + hash)
		}
	}
}
