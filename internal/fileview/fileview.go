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

// Package fileview translates POSIX offset/length I/O onto the
// fixed-size, content-addressed data blocks of spec.md §4.6. It has no
// state of its own: every call takes the file's current ordered hash list
// and returns the list to persist, mirroring the teacher's
// internal/gcsx random-reader / sequential-writer split between "how do I
// turn a byte range into block fetches" and "who owns the inode record".
package fileview

import (
	"context"
	"fmt"

	"github.com/hqy2000/cfs/internal/block"
	"github.com/hqy2000/cfs/internal/capsule"
	"golang.org/x/sync/errgroup"
)

// DataClient is the data-capsule read surface a View needs.
type DataClient interface {
	GetBlock(ctx context.Context, hash string) ([]byte, error)
}

// Middleware is the data-capsule write surface a View needs.
type Middleware interface {
	PutData(ctx context.Context, fb block.FsBlock, inodeHash string) (capsule.PutResult, error)
}

// View is a stateless offset/length <-> block-index translator for a
// single file, parameterized by the fixed block size B (spec.md §3:
// "B = fixed block size (512 bytes in the reference config)").
type View struct {
	blockSize  int
	client     DataClient
	middleware Middleware
}

// New constructs a View with the given fixed block size.
func New(blockSize int, client DataClient, middleware Middleware) *View {
	return &View{blockSize: blockSize, client: client, middleware: middleware}
}

// Read returns up to size bytes starting at offset from the file whose
// ordered data-block hash list is hashes, fetching only the blocks the
// range touches and concurrently (spec.md §4.6 read, step 5
// "Parallelism"). A read past EOF returns the prefix that exists, never
// an error.
func (v *View) Read(ctx context.Context, hashes []string, offset int64, size int) ([]byte, error) {
	if size <= 0 || offset < 0 {
		return nil, nil
	}
	b := v.blockSize
	first := int(offset / int64(b))
	skip := int(offset % int64(b))
	if first >= len(hashes) {
		return nil, nil
	}

	last := first
	need := skip + size
	for last+1 < len(hashes) && (last-first+1)*b < need {
		last++
	}
	n := last - first + 1

	bufs := make([][]byte, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		idx := first + i
		g.Go(func() error {
			buf, err := v.client.GetBlock(gctx, hashes[idx])
			if err != nil {
				return fmt.Errorf("fileview: Read: block %d (%s): %w", idx, hashes[idx], err)
			}
			bufs[i] = buf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]byte, 0, need)
	if skip < len(bufs[0]) {
		out = append(out, bufs[0][skip:]...)
	}
	for i := 1; i < n; i++ {
		out = append(out, bufs[i]...)
	}
	if len(out) > size {
		out = out[:size]
	}
	return out, nil
}

// WriteRequest bundles a write's inputs. Hashes and PrevDataHash are the
// file's state just before the call; the caller (internal/fsfacade, via
// internal/inodecache) is responsible for persisting the returned state.
type WriteRequest struct {
	Uid          uint64
	InodeHash    string
	Hashes       []string
	PrevDataHash string
	Offset       int64
	Data         []byte
}

// WriteResult is the file's new block state after a write.
type WriteResult struct {
	Hashes       []string
	PrevDataHash string
}

// Write implements spec.md §4.6 write: zero-fill past EOF, partial-block
// merge with the surrounding unwritten bytes, and sequential data-block
// puts chained by each file's own previous data-root hash (spec.md §9's
// resolved open question, tracked here as PrevDataHash rather than a
// shared constant, so distinct files' data chains never collapse into
// one).
func (v *View) Write(ctx context.Context, req WriteRequest) (WriteResult, error) {
	b := v.blockSize
	hashes := append([]string(nil), req.Hashes...)
	origLen := len(hashes)
	prevDataHash := req.PrevDataHash

	first := int(req.Offset / int64(b))
	skip := int(req.Offset % int64(b))

	for len(hashes) < first {
		h, np, err := v.putBlock(ctx, req.InodeHash, make([]byte, b), prevDataHash)
		if err != nil {
			return WriteResult{}, err
		}
		hashes = append(hashes, h)
		prevDataHash = np
	}

	if len(req.Data) == 0 {
		return WriteResult{Hashes: hashes, PrevDataHash: prevDataHash}, nil
	}

	var buf []byte
	if first < origLen {
		existing, err := v.client.GetBlock(ctx, hashes[first])
		if err != nil {
			return WriteResult{}, fmt.Errorf("fileview: Write: fetch block %d: %w", first, err)
		}
		if skip > len(existing) {
			skip = len(existing)
		}
		buf = append(buf, existing[:skip]...)
	} else {
		// No existing block at first: zero-fill up to the write offset.
		buf = make([]byte, skip)
	}

	remaining := req.Data
	idx := first
	for {
		room := b - len(buf)
		if room > len(remaining) {
			room = len(remaining)
		}
		buf = append(buf, remaining[:room]...)
		remaining = remaining[room:]

		if len(buf) < b && idx < origLen {
			existing, err := v.client.GetBlock(ctx, hashes[idx])
			if err != nil {
				return WriteResult{}, fmt.Errorf("fileview: Write: fetch block %d: %w", idx, err)
			}
			if len(existing) > len(buf) {
				buf = append(buf, existing[len(buf):]...)
			}
		}
		if len(buf) < b {
			padded := make([]byte, b)
			copy(padded, buf)
			buf = padded
		}

		h, np, err := v.putBlock(ctx, req.InodeHash, buf, prevDataHash)
		if err != nil {
			return WriteResult{}, err
		}
		prevDataHash = np

		if idx < len(hashes) {
			hashes[idx] = h
		} else {
			hashes = append(hashes, h)
		}

		idx++
		buf = nil
		if len(remaining) == 0 {
			break
		}
	}

	return WriteResult{Hashes: hashes, PrevDataHash: prevDataHash}, nil
}

func (v *View) putBlock(ctx context.Context, inodeHash string, data []byte, prevHash string) (hash string, newPrevHash string, err error) {
	fb := block.FsBlock{PrevHash: prevHash, Data: &block.DataBlock{Data: data}}
	res, err := v.middleware.PutData(ctx, fb, inodeHash)
	if err != nil {
		return "", "", fmt.Errorf("fileview: putBlock: %w", err)
	}
	return res.Hash, res.Hash, nil
}
