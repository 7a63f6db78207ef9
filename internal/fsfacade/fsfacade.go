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

// Package fsfacade implements the POSIX-like operation set of spec.md
// §4.7 by composing internal/inodecache and internal/fileview. It mirrors
// gcsfuse's fs/fs.go: a single struct translating filesystem verbs into
// inode lookups and forwarding the result, with every fixed attribute
// (mode, uid/gid, timestamps) computed once rather than read from a
// backing store.
//
// Kernel-specific concerns (fuseops.Op dispatch, errno mapping, handle
// tables) live one layer up in internal/fsbridge, the out-of-scope
// "kernel bridge adapter" of spec.md §1 — this package knows nothing
// about jacobsa/fuse.
package fsfacade

import (
	"context"
	"log/slog"
	"time"

	"github.com/hqy2000/cfs/internal/block"
	"github.com/hqy2000/cfs/internal/fileview"
	"github.com/hqy2000/cfs/internal/fserrors"
	"github.com/hqy2000/cfs/internal/inodecache"
)

// Fixed attributes, spec.md §4.7: "uid/gid = 1000, mode = 0o700, nlink =
// 2, all timestamps = Unix epoch".
const (
	fixedUid  = 1000
	fixedGid  = 1000
	fixedMode = 0o700
	fixedNlink = 2

	// DummyFileHandle is returned by Create (spec.md §4.7: "reply with
	// attrs + dummy fh=100"). The capsule model has no file-handle-scoped
	// state to distinguish one open from another.
	DummyFileHandle = 100

	// LookupTTL is the attribute cache lifetime spec.md §4.7 assigns to
	// lookup results.
	LookupTTL = time.Second
)

var epoch = time.Unix(0, 0)

// Attr is the façade's attribute reply, independent of any particular
// kernel-bridge wire format.
type Attr struct {
	Ino       uint64
	Size      uint64
	Kind      block.Kind
	Mode      uint32
	Nlink     uint32
	Uid       uint32
	Gid       uint32
	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
	Crtime    time.Time
	BlockSize uint32
	Blocks    uint64
}

// DirEntry is one entry in a readdir reply.
type DirEntry struct {
	Name string
	Ino  uint64
	Kind block.Kind
}

// StatFSResult is a synthetic, constant filesystem summary (SPEC_FULL.md
// §10 supplemental op, recovered from original_source/src/lib/fs.rs).
type StatFSResult struct {
	BlockSize   uint32
	Blocks      uint64
	BlocksFree  uint64
	BlocksAvail uint64
	Files       uint64
	FilesFree   uint64
	NameMax     uint32
}

// totalBlocks is the fixed capacity reported by StatFS. The capsule model
// has no real storage ceiling; this is a constant large enough that no
// realistic client-side df(1) output looks exhausted.
const totalBlocks = 1 << 40

// Facade composes an inode cache and a file view into the operation set
// of spec.md §4.7.
type Facade struct {
	cache     *inodecache.Cache
	view      *fileview.View
	blockSize uint32
	mountUid  uint64
	log       *slog.Logger
}

// Config configures a Facade.
type Config struct {
	Cache     *inodecache.Cache
	View      *fileview.View
	BlockSize int
	// MountUid is the identity the mount authenticates writes as —
	// forwarded to internal/middleware.GetID, distinct from the fixed
	// POSIX uid=1000 every Attr reports.
	MountUid uint64
	Log      *slog.Logger
}

// New constructs a Facade.
func New(cfg Config) *Facade {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Facade{
		cache:     cfg.Cache,
		view:      cfg.View,
		blockSize: uint32(cfg.BlockSize),
		mountUid:  cfg.MountUid,
		log:       log,
	}
}

func (f *Facade) attrFor(node inodecache.INode) Attr {
	size := node.Block.Size
	blocks := (size + uint64(f.blockSize) - 1) / uint64(f.blockSize)
	return Attr{
		Ino:       node.Ino,
		Size:      size,
		Kind:      node.Block.Kind,
		Mode:      fixedMode,
		Nlink:     fixedNlink,
		Uid:       fixedUid,
		Gid:       fixedGid,
		Atime:     epoch,
		Mtime:     epoch,
		Ctime:     epoch,
		Crtime:    epoch,
		BlockSize: f.blockSize,
		Blocks:    blocks,
	}
}

// Lookup resolves name within parent (spec.md §4.7 lookup).
func (f *Facade) Lookup(_ context.Context, parent uint64, name string) (Attr, error) {
	node, ok := f.cache.FindChild(parent, name)
	if !ok {
		return Attr{}, &fserrors.NotFoundError{What: "fsfacade: Lookup(" + name + ")"}
	}
	return f.attrFor(node), nil
}

// GetAttr returns the current attributes of ino (spec.md §4.7 getattr).
func (f *Facade) GetAttr(_ context.Context, ino uint64) (Attr, error) {
	if ino >= f.cache.NumInodes() {
		return Attr{}, &fserrors.NotFoundError{What: "fsfacade: GetAttr"}
	}
	node, ok := f.cache.Get(ino)
	if !ok {
		return Attr{}, &fserrors.NotFoundError{What: "fsfacade: GetAttr"}
	}
	return f.attrFor(node), nil
}

// SetAttr rewrites ino's size when size is non-nil; every other field is
// ignored (spec.md §4.7 setattr: fixed owner/mode is a Non-goal).
func (f *Facade) SetAttr(ctx context.Context, ino uint64, size *uint64) (Attr, error) {
	node, ok := f.cache.Get(ino)
	if !ok {
		return Attr{}, &fserrors.NotFoundError{What: "fsfacade: SetAttr"}
	}
	if size == nil {
		return f.attrFor(node), nil
	}

	newBlock := node.Block
	newBlock.Size = *size
	if int(*size) < len(newBlock.Hashes)*int(f.blockSize) {
		// Truncation: drop any data blocks entirely past the new size. A
		// partially-covered last block is left as-is; its tail bytes
		// beyond the new size are simply never read again, mirroring the
		// reference design's setattr scope (no block rewrite on shrink).
		keep := (int(*size) + int(f.blockSize) - 1) / int(f.blockSize)
		if keep < len(newBlock.Hashes) {
			newBlock.Hashes = newBlock.Hashes[:keep]
		}
	}

	updated, err := f.cache.Update(ctx, f.mountUid, ino, newBlock)
	if err != nil {
		return Attr{}, err
	}
	return f.attrFor(updated), nil
}

// Read returns up to size bytes of ino's content starting at offset
// (spec.md §4.7 read).
func (f *Facade) Read(ctx context.Context, ino uint64, offset int64, size int) ([]byte, error) {
	node, ok := f.cache.Get(ino)
	if !ok {
		return nil, &fserrors.NotFoundError{What: "fsfacade: Read"}
	}
	if node.Block.Kind != block.KindRegularFile {
		return nil, &fserrors.NotFoundError{What: "fsfacade: Read: not a regular file"}
	}
	return f.view.Read(ctx, node.Block.Hashes, offset, size)
}

// Write writes data to ino at offset and returns the number of bytes
// written, always len(data) on success (spec.md §4.7 write).
func (f *Facade) Write(ctx context.Context, ino uint64, offset int64, data []byte) (int, error) {
	node, ok := f.cache.Get(ino)
	if !ok {
		return 0, &fserrors.NotFoundError{What: "fsfacade: Write"}
	}
	if node.Block.Kind != block.KindRegularFile {
		return 0, &fserrors.NotFoundError{What: "fsfacade: Write: not a regular file"}
	}

	res, err := f.view.Write(ctx, fileview.WriteRequest{
		Uid:          f.mountUid,
		InodeHash:    node.Hash,
		Hashes:       node.Block.Hashes,
		PrevDataHash: f.cache.PrevDataHash(ino),
		Offset:       offset,
		Data:         data,
	})
	if err != nil {
		return 0, err
	}

	newBlock := node.Block
	newBlock.Hashes = res.Hashes
	newSize := uint64(offset) + uint64(len(data))
	if newSize > newBlock.Size {
		newBlock.Size = newSize
	}

	if _, err := f.cache.Update(ctx, f.mountUid, ino, newBlock); err != nil {
		return 0, err
	}
	f.cache.SetPrevDataHash(ino, res.PrevDataHash)

	return len(data), nil
}

// Create makes a new regular file named name under parent (spec.md §4.7
// create).
func (f *Facade) Create(ctx context.Context, parent uint64, name string) (Attr, error) {
	node, err := f.cache.Create(ctx, f.mountUid, parent, name, block.KindRegularFile)
	if err != nil {
		return Attr{}, err
	}
	return f.attrFor(node), nil
}

// Mkdir makes a new directory named name under parent (spec.md §4.7
// mkdir).
func (f *Facade) Mkdir(ctx context.Context, parent uint64, name string) (Attr, error) {
	node, err := f.cache.Create(ctx, f.mountUid, parent, name, block.KindDirectory)
	if err != nil {
		return Attr{}, err
	}
	return f.attrFor(node), nil
}

// Unlink removes the regular file named name from parent (spec.md §4.7
// unlink).
func (f *Facade) Unlink(ctx context.Context, parent uint64, name string) error {
	node, ok := f.cache.FindChild(parent, name)
	if !ok {
		return &fserrors.NotFoundError{What: "fsfacade: Unlink(" + name + ")"}
	}
	if node.Block.Kind != block.KindRegularFile {
		return &fserrors.NotFoundError{What: "fsfacade: Unlink: not a regular file"}
	}
	return f.cache.Delete(ctx, f.mountUid, node.Ino)
}

// Rmdir removes the directory named name from parent (spec.md §4.7
// rmdir). The façade does not itself enforce emptiness; spec.md names no
// such check, and the reference design leaves directory emptiness
// unenforced at this layer.
func (f *Facade) Rmdir(ctx context.Context, parent uint64, name string) error {
	node, ok := f.cache.FindChild(parent, name)
	if !ok {
		return &fserrors.NotFoundError{What: "fsfacade: Rmdir(" + name + ")"}
	}
	if node.Block.Kind != block.KindDirectory {
		return &fserrors.NotFoundError{What: "fsfacade: Rmdir: not a directory"}
	}
	return f.cache.Delete(ctx, f.mountUid, node.Ino)
}

// ReadDir lists ino's entries starting after offset entries have already
// been consumed, prepending synthetic "." and ".." (spec.md §4.7
// readdir). The ".." target is resolved from the inode cache's own
// parent-hash bookkeeping rather than threaded in by the caller.
func (f *Facade) ReadDir(_ context.Context, ino uint64, offset int) ([]DirEntry, error) {
	node, ok := f.cache.Get(ino)
	if !ok {
		return nil, &fserrors.NotFoundError{What: "fsfacade: ReadDir"}
	}
	if node.Block.Kind != block.KindDirectory {
		return nil, &fserrors.NotFoundError{What: "fsfacade: ReadDir: not a directory"}
	}
	parent, _ := f.cache.ParentIno(ino)

	entries := make([]DirEntry, 0, len(f.cache.Children(ino))+2)
	entries = append(entries, DirEntry{Name: ".", Ino: ino, Kind: block.KindDirectory})
	entries = append(entries, DirEntry{Name: "..", Ino: parent, Kind: block.KindDirectory})
	for _, child := range f.cache.Children(ino) {
		entries = append(entries, DirEntry{Name: child.Filename(), Ino: child.Ino, Kind: child.Block.Kind})
	}

	if offset >= len(entries) {
		return nil, nil
	}
	return entries[offset:], nil
}

// StatFS reports a synthetic, constant summary of filesystem capacity,
// derived from the live inode count (SPEC_FULL.md §10 supplemental).
func (f *Facade) StatFS(_ context.Context) StatFSResult {
	return StatFSResult{
		BlockSize:   f.blockSize,
		Blocks:      totalBlocks,
		BlocksFree:  totalBlocks,
		BlocksAvail: totalBlocks,
		Files:       f.cache.NumInodes(),
		FilesFree:   1 << 32,
		NameMax:     255,
	}
}

// Flush acknowledges a flush with no action: the capsule model has no
// file-handle-scoped buffering to flush (SPEC_FULL.md §10 supplemental,
// recovered from original_source/src/lib/fs.rs).
func (f *Facade) Flush(_ context.Context, _ uint64) error { return nil }

// Release acknowledges a file-handle release with no action, for the
// same reason as Flush.
func (f *Facade) Release(_ context.Context, _ uint64) error { return nil }
