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
	"fmt"
	"os"

	"github.com/hqy2000/cfs/internal/block"
	"google.golang.org/protobuf/encoding/protowire"
)

// Persisted snapshot wire format: { content: map<string, CapsuleBlock>,
// leafs: repeated string }, field numbers fixed per spec.md §6 "Persistent
// capsule file".
const (
	snapshotFieldContentEntry = protowire.Number(1) // repeated {hash, CapsuleBlock}
	snapshotFieldLeaf         = protowire.Number(2) // repeated string

	contentEntryFieldHash  = protowire.Number(1)
	contentEntryFieldBlock = protowire.Number(2)
)

// SaveSnapshot writes the server's entire state to path as a single
// protobuf-wire-encoded file, overwriting any existing file atomically via
// a temp-file rename.
func (s *Server) SaveSnapshot(path string) error {
	s.mu.Lock()
	var b []byte
	for hash, cb := range s.state.content {
		entry := appendContentEntry(nil, hash, cb)
		b = protowire.AppendTag(b, snapshotFieldContentEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	for _, leaf := range s.state.leafs() {
		b = protowire.AppendTag(b, snapshotFieldLeaf, protowire.BytesType)
		b = protowire.AppendString(b, leaf)
	}
	s.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("capsule: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("capsule: rename snapshot into place: %w", err)
	}
	return nil
}

// LoadSnapshot replaces the server's state with the contents of path.
// Call before serving any traffic.
func (s *Server) LoadSnapshot(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("capsule: read snapshot: %w", err)
	}

	st := newState()
	var leafOrder []string
	b := raw
	for len(b) > 0 {
		num, _, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("capsule: snapshot: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case snapshotFieldContentEntry:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("capsule: snapshot: content entry: %w", protowire.ParseError(m))
			}
			hash, cb, err := parseContentEntry(v)
			if err != nil {
				return err
			}
			st.content[hash] = cb
			b = b[m:]
		case snapshotFieldLeaf:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("capsule: snapshot: leaf: %w", protowire.ParseError(m))
			}
			leafOrder = append(leafOrder, string(v))
			b = b[m:]
		default:
			return fmt.Errorf("capsule: snapshot: unknown field %d", num)
		}
	}
	// Leafs were appended newest-first in the file; addLeaf pushes to the
	// front, so replay in reverse to preserve relative recency.
	for i := len(leafOrder) - 1; i >= 0; i-- {
		st.addLeaf(leafOrder[i])
	}

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	return nil
}

func appendContentEntry(b []byte, hash string, cb block.CapsuleBlock) []byte {
	b = protowire.AppendTag(b, contentEntryFieldHash, protowire.BytesType)
	b = protowire.AppendString(b, hash)
	b = protowire.AppendTag(b, contentEntryFieldBlock, protowire.BytesType)
	b = protowire.AppendBytes(b, cb.Marshal())
	return b
}

func parseContentEntry(b []byte) (string, block.CapsuleBlock, error) {
	var hash string
	var cb block.CapsuleBlock
	for len(b) > 0 {
		num, _, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", block.CapsuleBlock{}, fmt.Errorf("capsule: snapshot: content entry: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case contentEntryFieldHash:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return "", block.CapsuleBlock{}, fmt.Errorf("capsule: snapshot: content entry hash: %w", protowire.ParseError(m))
			}
			hash = string(v)
			b = b[m:]
		case contentEntryFieldBlock:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return "", block.CapsuleBlock{}, fmt.Errorf("capsule: snapshot: content entry block: %w", protowire.ParseError(m))
			}
			if err := cb.Unmarshal(v); err != nil {
				return "", block.CapsuleBlock{}, err
			}
			b = b[m:]
		default:
			return "", block.CapsuleBlock{}, fmt.Errorf("capsule: snapshot: content entry: unknown field %d", num)
		}
	}
	return hash, cb, nil
}
