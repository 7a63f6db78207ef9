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

package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/hqy2000/cfs/internal/block"
	"github.com/hqy2000/cfs/internal/capsule"
	"github.com/stretchr/testify/require"
)

func genKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func newTestMiddleware(t *testing.T, serverKey *rsa.PrivateKey, uid uint64) (*Middleware, *capsule.Server) {
	t.Helper()
	server := capsule.NewServer(capsule.ServerConfig{SigningKey: serverKey, CryptoEnabled: true})
	clientKey := genKey(t)
	mw, err := New(Config{
		SigningKey:    clientKey,
		Uid:           uid,
		InodeCapsule:  capsule.InProcessTransport{Server: server},
		DataCapsule:   capsule.InProcessTransport{Server: server},
		CryptoEnabled: true,
	})
	require.NoError(t, err)
	return mw, server
}

func TestGetIDSelfSigned(t *testing.T) {
	serverKey := genKey(t)
	mw, _ := newTestMiddleware(t, serverKey, 7)

	id, err := mw.GetID(context.Background(), 7)
	require.NoError(t, err)
	pub, err := block.ParsePublicKey(id.PubKey)
	require.NoError(t, err)
	require.NoError(t, block.VerifyId(&id, pub))
}

func TestGetIDWrongUid(t *testing.T) {
	serverKey := genKey(t)
	mw, _ := newTestMiddleware(t, serverKey, 7)

	_, err := mw.GetID(context.Background(), 8)
	require.Error(t, err)
}

func TestPutInodeSignsAndForwards(t *testing.T) {
	serverKey := genKey(t)
	mw, server := newTestMiddleware(t, serverKey, 1)

	ib := &block.InodeBlock{Filename: []byte("root"), Kind: block.KindDirectory}
	res, err := mw.PutInode(context.Background(), block.FsBlock{Inode: ib})
	require.NoError(t, err)
	require.True(t, res.Success)

	stored, err := server.Get(context.Background(), res.Hash)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stored.Fs.UpdatedBy.Uid)
}

func TestPutDataIgnoresCallerSuppliedIdentity(t *testing.T) {
	serverKey := genKey(t)
	mw, server := newTestMiddleware(t, serverKey, 2)

	db := &block.DataBlock{Data: make([]byte, 512)}
	forged := block.Id{Uid: 999}
	res, err := mw.PutData(context.Background(), block.FsBlock{Data: db, UpdatedBy: forged}, "some-inode-hash")
	require.NoError(t, err)

	stored, err := server.Get(context.Background(), res.Hash)
	require.NoError(t, err)
	require.Equal(t, uint64(2), stored.Fs.UpdatedBy.Uid)
}
