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

// Package inodecache reconstructs a directory tree from the unordered leaf
// set of an inode capsule and keeps it current as new revisions are
// written (spec.md §4.5). It is the hardest part of the system: a content
// hash graph of InodeBlock revisions, connected by back-pointers, has to
// become a stable, densely-numbered inode arena that the filesystem façade
// can index in O(1).
//
// Modeled on gcsfuse's fs/inode/dir.go: a parent directory owns its
// children, guarded by a single jacobsa/syncutil.InvariantMutex, except
// here "child" is resolved through a content hash rather than held by
// direct reference, because the underlying store is an append-only graph
// instead of a live GCS bucket listing.
package inodecache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hqy2000/cfs/internal/block"
	"github.com/hqy2000/cfs/internal/capsule"
	"github.com/hqy2000/cfs/internal/fserrors"
	"github.com/jacobsa/syncutil"
)

// Reader is the capsule-side surface the cache reads from.
type Reader interface {
	Get(ctx context.Context, hash string) (block.CapsuleBlock, error)
	Leafs(ctx context.Context) ([]string, error)
}

// Middleware is the surface the cache writes revisions through. Matches
// the subset of internal/middleware.Middleware that the cache needs.
type Middleware interface {
	PutInode(ctx context.Context, fb block.FsBlock) (capsule.PutResult, error)
	GetID(ctx context.Context, uid uint64) (block.Id, error)
}

// RootIno is the inode number of the mount's root directory, per spec.md
// §3 "ino 1 is the root directory".
const RootIno uint64 = 1

// INode is the client-side derived record of spec.md §3: a resolved
// revision of one logical (parent, filename) entry.
type INode struct {
	Hash         string
	Ino          uint64
	ParentHash   string
	Block        block.InodeBlock
	Timestamp    int64
	PrevDataHash string // see spec.md §9's resolved open question
}

// Filename returns the entry's name as a string.
func (n INode) Filename() string { return string(n.Block.Filename) }

type entry struct {
	node     INode
	children []uint64 // child inos, in arrival order
}

// Cache is the reconstruction engine and live arena of spec.md §4.5.
type Cache struct {
	mu   syncutil.InvariantMutex
	root string

	inodes    []entry // index 0 unused, index 1 is the root
	hashToIno map[string]uint64

	reader     Reader
	middleware Middleware
	log        *slog.Logger
}

// New constructs a Cache. Call Build before serving any operation.
func New(reader Reader, middleware Middleware, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	c := &Cache{reader: reader, middleware: middleware, log: log}
	c.mu = syncutil.NewInvariantMutex(c.checkInvariants)
	return c
}

// checkInvariants panics unless every hash_to_ino value is an index into
// the arena, every ino>=2's parent_hash is a key of hash_to_ino (the kind
// of the ino it maps to is not checked), and no parent lists two children
// with the same filename. Several hashes may map to one ino, since a
// superseding revision reuses the ino of the entry it replaces.
func (c *Cache) checkInvariants() {
	if len(c.inodes) == 0 {
		return // not yet built
	}
	seen := make(map[string]bool, len(c.hashToIno))
	for hash, ino := range c.hashToIno {
		if seen[hash] {
			panic("inodecache: duplicate hash in hash_to_ino: " + hash)
		}
		seen[hash] = true
		if int(ino) >= len(c.inodes) {
			panic(fmt.Sprintf("inodecache: hash_to_ino[%s]=%d out of range", hash, ino))
		}
	}
	for ino := uint64(2); ino < uint64(len(c.inodes)); ino++ {
		parentHash := c.inodes[ino].node.ParentHash
		if _, ok := c.hashToIno[parentHash]; !ok {
			panic(fmt.Sprintf("inodecache: ino %d has unresolved parent_hash %s", ino, parentHash))
		}
	}
	for ino := range c.inodes {
		byName := make(map[string]bool)
		for _, childIno := range c.inodes[ino].children {
			name := c.inodes[childIno].node.Filename()
			if byName[name] {
				panic(fmt.Sprintf("inodecache: parent %d has more than one live child named %q", ino, name))
			}
			byName[name] = true
		}
	}
}

// Build fetches rootHash, installs it as ino 1, and resolves every current
// leaf of the inode capsule against it (spec.md §4.5 "Bootstrap").
func (c *Cache) Build(ctx context.Context, rootHash string) error {
	cb, err := c.reader.Get(ctx, rootHash)
	if err != nil {
		return fmt.Errorf("inodecache: Build: fetch root %s: %w", rootHash, err)
	}
	if cb.Fs.Inode == nil || cb.Fs.Inode.Kind != block.KindDirectory {
		return fmt.Errorf("inodecache: Build: root %s is not a Directory InodeBlock", rootHash)
	}

	c.mu.Lock()
	c.root = rootHash
	c.inodes = []entry{{}, {node: INode{
		Hash:      rootHash,
		Ino:       RootIno,
		Block:     *cb.Fs.Inode,
		Timestamp: cb.Timestamp,
	}}}
	c.hashToIno = map[string]uint64{rootHash: RootIno}
	c.mu.Unlock()

	leafs, err := c.reader.Leafs(ctx)
	if err != nil {
		return fmt.Errorf("inodecache: Build: Leafs: %w", err)
	}
	for _, h := range leafs {
		if err := c.resolve(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// resolve ingests hash and, transitively, every unresolved ancestor in its
// prev_hash chain (spec.md §4.5 "resolve(hash)"). It is idempotent: a hash
// already in hash_to_ino is a no-op.
func (c *Cache) resolve(ctx context.Context, hash string) error {
	if hash == "" {
		return nil
	}
	c.mu.Lock()
	_, done := c.hashToIno[hash]
	c.mu.Unlock()
	if done {
		return nil
	}

	cb, err := c.reader.Get(ctx, hash)
	if err != nil {
		return fmt.Errorf("inodecache: resolve(%s): %w", hash, err)
	}

	c.mu.Lock()
	_, parentDone := c.hashToIno[cb.PrevHash]
	c.mu.Unlock()
	if !parentDone {
		if err := c.resolve(ctx, cb.PrevHash); err != nil {
			return err
		}
	}

	return c.ingest(hash, cb)
}

// ingest applies an already-fetched CapsuleBlock's revision-merge rule
// under the lock. Shared by resolve (background reconstruction) and the
// mutation methods below, which already have the freshly Put block in
// hand and would otherwise re-fetch it (spec.md §4.5 create/update:
// "call resolve_block(hash, capsule_block) on the response so the new ino
// is visible before returning").
func (c *Cache) ingest(hash string, cb block.CapsuleBlock) error {
	if cb.Fs.Inode == nil {
		return fmt.Errorf("inodecache: ingest(%s): payload is not an InodeBlock", hash)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, done := c.hashToIno[hash]; done {
		return nil
	}
	parentIno, ok := c.hashToIno[cb.PrevHash]
	if !ok {
		return fmt.Errorf("inodecache: ingest(%s): parent %s is not resolved", hash, cb.PrevHash)
	}

	ino, accepted := c.mergeRevisionLocked(parentIno, cb.Timestamp, *cb.Fs.Inode)
	if !accepted {
		c.log.Debug("inodecache: dropping out-of-order revision", "hash", hash, "filename", string(cb.Fs.Inode.Filename))
		return nil
	}

	c.inodes[ino].node.Hash = hash
	c.inodes[ino].node.ParentHash = cb.PrevHash
	c.hashToIno[hash] = ino
	return nil
}

// mergeRevisionLocked implements spec.md §4.5 step 4: last-writer-wins by
// timestamp within a parent, keyed by filename, with ino reuse on
// supersession. Must be called with c.mu held.
func (c *Cache) mergeRevisionLocked(parentIno uint64, timestamp int64, ib block.InodeBlock) (ino uint64, accepted bool) {
	filename := string(ib.Filename)
	children := c.inodes[parentIno].children
	for i, childIno := range children {
		existing := c.inodes[childIno].node
		if existing.Filename() != filename {
			continue
		}
		if existing.Timestamp > timestamp {
			return 0, false // older revision arriving out of order
		}
		c.inodes[parentIno].children = append(append([]uint64(nil), children[:i]...), children[i+1:]...)
		c.inodes[childIno] = entry{node: INode{Ino: childIno, Timestamp: timestamp, Block: ib, PrevDataHash: existing.PrevDataHash}}
		c.inodes[parentIno].children = append(c.inodes[parentIno].children, childIno)
		return childIno, true
	}

	newIno := uint64(len(c.inodes))
	c.inodes = append(c.inodes, entry{node: INode{Ino: newIno, Timestamp: timestamp, Block: ib}})
	c.inodes[parentIno].children = append(c.inodes[parentIno].children, newIno)
	return newIno, true
}

// Get returns the current revision of ino.
func (c *Cache) Get(ino uint64) (INode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ino == 0 || int(ino) >= len(c.inodes) {
		return INode{}, false
	}
	return c.inodes[ino].node, true
}

// NumInodes returns one past the highest assigned ino (spec.md §4.7
// getattr: "if ino < num_inodes").
func (c *Cache) NumInodes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.inodes))
}

// FindChild returns the first non-deleted child of parentIno named name
// (spec.md §4.5 find_child).
func (c *Cache) FindChild(parentIno uint64, name string) (INode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(parentIno) >= len(c.inodes) {
		return INode{}, false
	}
	for _, childIno := range c.inodes[parentIno].children {
		n := c.inodes[childIno].node
		if n.Block.Kind.IsDeleted() {
			continue
		}
		if n.Filename() == name {
			return n, true
		}
	}
	return INode{}, false
}

// Children returns every non-deleted child of parentIno, in arrival
// order, for readdir.
func (c *Cache) Children(parentIno uint64) []INode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(parentIno) >= len(c.inodes) {
		return nil
	}
	out := make([]INode, 0, len(c.inodes[parentIno].children))
	for _, childIno := range c.inodes[parentIno].children {
		n := c.inodes[childIno].node
		if n.Block.Kind.IsDeleted() {
			continue
		}
		out = append(out, n)
	}
	return out
}

// ParentIno returns the ino of ino's parent directory, used for the
// synthetic ".." entry in a readdir reply. RootIno is its own parent.
func (c *Cache) ParentIno(ino uint64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(ino) >= len(c.inodes) {
		return 0, false
	}
	if ino == RootIno {
		return RootIno, true
	}
	parentHash := c.inodes[ino].node.ParentHash
	parentIno, ok := c.hashToIno[parentHash]
	return parentIno, ok
}

// PrevDataHash returns the hash the file's next data block write should
// chain from (spec.md §9's resolved open question: each file's data
// blocks chain from that file's own previous data-root hash).
func (c *Cache) PrevDataHash(ino uint64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(ino) >= len(c.inodes) {
		return ""
	}
	return c.inodes[ino].node.PrevDataHash
}

// SetPrevDataHash records the hash of the most recently written data
// block for ino's file, for the next write to chain from. Purely local
// bookkeeping: it is never persisted in an InodeBlock and has no bearing
// on any invariant (spec.md §9: "the filesystem's logical state is
// governed entirely by inode blocks; data-chain structure is not
// inspected").
func (c *Cache) SetPrevDataHash(ino uint64, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(ino) < len(c.inodes) {
		c.inodes[ino].node.PrevDataHash = hash
	}
}

// Create builds a new InodeBlock as a child of parentIno, inheriting its
// write_allow_list, signs and forwards it, and ingests the result so the
// new ino is visible to the caller before returning (spec.md §4.5
// create).
func (c *Cache) Create(ctx context.Context, uid, parentIno uint64, name string, kind block.Kind) (INode, error) {
	parent, ok := c.Get(parentIno)
	if !ok {
		return INode{}, &fserrors.NotFoundError{What: fmt.Sprintf("inodecache: Create: parent ino %d", parentIno)}
	}

	id, err := c.middleware.GetID(ctx, uid)
	if err != nil {
		return INode{}, err
	}

	ib := block.InodeBlock{
		Filename:       []byte(name),
		Kind:           kind,
		WriteAllowList: append([]block.Id(nil), parent.Block.WriteAllowList...),
	}
	fb := block.FsBlock{PrevHash: parent.Hash, Inode: &ib, UpdatedBy: id}

	res, err := c.middleware.PutInode(ctx, fb)
	if err != nil {
		return INode{}, err
	}
	if err := c.ingest(res.Hash, res.Block); err != nil {
		return INode{}, err
	}

	node, _ := c.Get(c.hashOf(res.Hash))
	return node, nil
}

// Update writes newBlock as the next revision of ino, keeping its logical
// identity (same parent, same ino on success) (spec.md §4.5 update).
func (c *Cache) Update(ctx context.Context, uid, ino uint64, newBlock block.InodeBlock) (INode, error) {
	current, ok := c.Get(ino)
	if !ok {
		return INode{}, &fserrors.NotFoundError{What: fmt.Sprintf("inodecache: Update: ino %d", ino)}
	}

	id, err := c.middleware.GetID(ctx, uid)
	if err != nil {
		return INode{}, err
	}

	fb := block.FsBlock{PrevHash: current.ParentHash, Inode: &newBlock, UpdatedBy: id}
	res, err := c.middleware.PutInode(ctx, fb)
	if err != nil {
		return INode{}, err
	}
	if err := c.ingest(res.Hash, res.Block); err != nil {
		return INode{}, err
	}

	node, _ := c.Get(ino)
	return node, nil
}

// Delete supersedes ino with a Deleted* revision: append-only storage
// models removal as a kind transition rather than erasure (spec.md §4.5
// delete, §3 Lifecycles).
func (c *Cache) Delete(ctx context.Context, uid, ino uint64) error {
	current, ok := c.Get(ino)
	if !ok {
		return &fserrors.NotFoundError{What: fmt.Sprintf("inodecache: Delete: ino %d", ino)}
	}

	var deletedKind block.Kind
	switch current.Block.Kind {
	case block.KindDirectory:
		deletedKind = block.KindDeletedFolder
	case block.KindRegularFile:
		deletedKind = block.KindDeletedRegularFile
	default:
		return fmt.Errorf("inodecache: Delete: ino %d already deleted (kind %s)", ino, current.Block.Kind)
	}

	newBlock := current.Block
	newBlock.Kind = deletedKind
	newBlock.Size = 0
	newBlock.Hashes = nil

	_, err := c.Update(ctx, uid, ino, newBlock)
	return err
}

// hashOf finds the ino assigned to hash. Used right after a Put+ingest
// where the caller already knows the hash is resolved.
func (c *Cache) hashOf(hash string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hashToIno[hash]
}
