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

package fsfacade

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/hqy2000/cfs/internal/block"
	"github.com/hqy2000/cfs/internal/capsule"
	"github.com/hqy2000/cfs/internal/fileview"
	"github.com/hqy2000/cfs/internal/inodecache"
	"github.com/hqy2000/cfs/internal/middleware"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 512

func genKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// newTestFacade wires a real capsule.Server behind a single middleware
// shared by both the inode and data capsule, exactly the single-mount
// in-process shape described in spec.md §4.4.
func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	serverKey := genKey(t)
	server := capsule.NewServer(capsule.ServerConfig{SigningKey: serverKey, CryptoEnabled: true})

	clientKey := genKey(t)
	mw, err := middleware.New(middleware.Config{
		SigningKey:    clientKey,
		Uid:           1,
		InodeCapsule:  capsule.InProcessTransport{Server: server},
		DataCapsule:   capsule.InProcessTransport{Server: server},
		CryptoEnabled: true,
	})
	require.NoError(t, err)

	id, err := mw.GetID(context.Background(), 1)
	require.NoError(t, err)

	root := block.FsBlock{
		Inode:     &block.InodeBlock{Filename: []byte(""), Kind: block.KindDirectory, WriteAllowList: []block.Id{id}},
		UpdatedBy: id,
	}
	require.NoError(t, block.SignFsBlock(&root, clientKey))
	res, err := server.Put(context.Background(), root)
	require.NoError(t, err)
	require.True(t, res.Success)

	client := capsule.NewClient(capsule.ClientConfig{
		Transport:     capsule.InProcessTransport{Server: server},
		CacheSize:     64,
		VerifyingKey:  &serverKey.PublicKey,
		CryptoEnabled: true,
	})

	cache := inodecache.New(client, mw, nil)
	require.NoError(t, cache.Build(context.Background(), res.Hash))

	view := fileview.New(testBlockSize, client, mw)

	return New(Config{Cache: cache, View: view, BlockSize: testBlockSize, MountUid: 1})
}

func TestGetAttrRoot(t *testing.T) {
	f := newTestFacade(t)

	attr, err := f.GetAttr(context.Background(), inodecache.RootIno)
	require.NoError(t, err)
	require.Equal(t, block.KindDirectory, attr.Kind)
	require.Equal(t, uint32(fixedMode), attr.Mode)
	require.Equal(t, uint32(fixedUid), attr.Uid)
}

func TestCreateLookupAndReadDir(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	attr, err := f.Create(ctx, inodecache.RootIno, "a.txt")
	require.NoError(t, err)
	require.Equal(t, block.KindRegularFile, attr.Kind)

	found, err := f.Lookup(ctx, inodecache.RootIno, "a.txt")
	require.NoError(t, err)
	require.Equal(t, attr.Ino, found.Ino)

	entries, err := f.ReadDir(ctx, inodecache.RootIno, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3) // ".", "..", "a.txt"
	require.Equal(t, ".", entries[0].Name)
	require.Equal(t, "..", entries[1].Name)
	require.Equal(t, "a.txt", entries[2].Name)
}

func TestMkdirNested(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	dir, err := f.Mkdir(ctx, inodecache.RootIno, "sub")
	require.NoError(t, err)
	require.Equal(t, block.KindDirectory, dir.Kind)

	child, err := f.Create(ctx, dir.Ino, "nested.txt")
	require.NoError(t, err)

	found, err := f.Lookup(ctx, dir.Ino, "nested.txt")
	require.NoError(t, err)
	require.Equal(t, child.Ino, found.Ino)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	attr, err := f.Create(ctx, inodecache.RootIno, "a.txt")
	require.NoError(t, err)

	n, err := f.Write(ctx, attr.Ino, 0, []byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, 11, n)

	out, err := f.Read(ctx, attr.Ino, 0, 11)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(out))

	attr, err = f.GetAttr(ctx, attr.Ino)
	require.NoError(t, err)
	require.Equal(t, uint64(11), attr.Size)
}

func TestUnlinkRemovesEntry(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	_, err := f.Create(ctx, inodecache.RootIno, "a.txt")
	require.NoError(t, err)

	require.NoError(t, f.Unlink(ctx, inodecache.RootIno, "a.txt"))

	_, err = f.Lookup(ctx, inodecache.RootIno, "a.txt")
	require.Error(t, err)
}

func TestRmdirRemovesEntry(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	_, err := f.Mkdir(ctx, inodecache.RootIno, "sub")
	require.NoError(t, err)

	require.NoError(t, f.Rmdir(ctx, inodecache.RootIno, "sub"))

	_, err = f.Lookup(ctx, inodecache.RootIno, "sub")
	require.Error(t, err)
}

func TestSetAttrTruncatesSize(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	attr, err := f.Create(ctx, inodecache.RootIno, "a.txt")
	require.NoError(t, err)

	_, err = f.Write(ctx, attr.Ino, 0, []byte("hello world"))
	require.NoError(t, err)

	newSize := uint64(5)
	attr, err = f.SetAttr(ctx, attr.Ino, &newSize)
	require.NoError(t, err)
	require.Equal(t, uint64(5), attr.Size)

	out, err := f.Read(ctx, attr.Ino, 0, 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(out))
}

func TestStatFSReflectsInodeCount(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	before := f.StatFS(ctx)
	_, err := f.Create(ctx, inodecache.RootIno, "a.txt")
	require.NoError(t, err)
	after := f.StatFS(ctx)

	require.Greater(t, after.Files, before.Files)
}

func TestFlushAndReleaseAreNoops(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	attr, err := f.Create(ctx, inodecache.RootIno, "a.txt")
	require.NoError(t, err)

	require.NoError(t, f.Flush(ctx, attr.Ino))
	require.NoError(t, f.Release(ctx, attr.Ino))
}
