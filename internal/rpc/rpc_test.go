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

package rpc

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"log/slog"
	"net"
	"testing"

	"github.com/hqy2000/cfs/internal/block"
	"github.com/hqy2000/cfs/internal/capsule"
	"github.com/hqy2000/cfs/internal/keyfile"
	"github.com/hqy2000/cfs/internal/middleware"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func genKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// dialBufconn starts s serving over an in-memory listener and returns a
// *grpc.ClientConn dialed against it, exercising the real grpc-go
// client/server/transport stack without a network socket.
func dialBufconn(t *testing.T, s *grpc.Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	cc, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return cc
}

func TestCapsuleClientRoundTripOverGRPC(t *testing.T) {
	serverKey := genKey(t)
	server := capsule.NewServer(capsule.ServerConfig{SigningKey: serverKey, CryptoEnabled: true})

	s := grpc.NewServer()
	RegisterCapsuleServer(s, server)
	cc := dialBufconn(t, s)
	client := NewCapsuleClient(cc)

	clientKey := genKey(t)
	pub, err := keyfile.EncodePublicKey(&clientKey.PublicKey)
	require.NoError(t, err)
	id := block.Id{PubKey: pub, Uid: 1}
	require.NoError(t, block.SignId(&id, clientKey))

	fs := block.FsBlock{Inode: &block.InodeBlock{Kind: block.KindDirectory, WriteAllowList: []block.Id{id}}, UpdatedBy: id}
	require.NoError(t, block.SignFsBlock(&fs, clientKey))

	res, err := client.Put(context.Background(), fs)
	require.NoError(t, err)
	require.True(t, res.Success)

	got, err := client.Get(context.Background(), res.Hash)
	require.NoError(t, err)
	require.Equal(t, res.Hash, block.HashCapsuleBlock(&got))

	leafs, err := client.Leafs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{res.Hash}, leafs)
}

func TestCapsuleClientGetMissingMapsToNotFound(t *testing.T) {
	server := capsule.NewServer(capsule.ServerConfig{})
	s := grpc.NewServer()
	RegisterCapsuleServer(s, server)
	cc := dialBufconn(t, s)
	client := NewCapsuleClient(cc)

	_, err := client.Get(context.Background(), "does-not-exist")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestMiddlewareClientPutInodeAndGetIDOverGRPC(t *testing.T) {
	serverKey := genKey(t)
	capsuleServer := capsule.NewServer(capsule.ServerConfig{SigningKey: serverKey, CryptoEnabled: true})

	capsuleGRPC := grpc.NewServer()
	RegisterCapsuleServer(capsuleGRPC, capsuleServer)
	capsuleConn := dialBufconn(t, capsuleGRPC)
	capsuleClient := NewCapsuleClient(capsuleConn)

	clientKey := genKey(t)
	mw, err := middleware.New(middleware.Config{
		SigningKey:    clientKey,
		Uid:           1,
		InodeCapsule:  capsuleClient,
		DataCapsule:   capsuleClient,
		CryptoEnabled: true,
	})
	require.NoError(t, err)

	mwGRPC := grpc.NewServer()
	RegisterMiddlewareServer(mwGRPC, mw)
	mwConn := dialBufconn(t, mwGRPC)
	mwClient := NewMiddlewareClient(mwConn)

	id, err := mwClient.GetID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id.Uid)

	fs := block.FsBlock{Inode: &block.InodeBlock{Kind: block.KindDirectory, WriteAllowList: []block.Id{id}}}
	res, err := mwClient.PutInode(context.Background(), fs)
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestLoggingInterceptorTagsEachCallWithACorrelationID(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	server := capsule.NewServer(capsule.ServerConfig{})
	s := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(log)))
	RegisterCapsuleServer(s, server)
	cc := dialBufconn(t, s)
	client := NewCapsuleClient(cc)

	_, err := client.Leafs(context.Background())
	require.NoError(t, err)

	require.Contains(t, buf.String(), "method=/cfs.rpc.Capsule/Leafs")
	require.Contains(t, buf.String(), "call_id=")
}
