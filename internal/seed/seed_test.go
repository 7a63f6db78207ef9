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

package seed

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/hqy2000/cfs/internal/block"
	"github.com/hqy2000/cfs/internal/capsule"
	"github.com/hqy2000/cfs/internal/keyfile"
	"github.com/stretchr/testify/require"
)

func writeKeyPair(t *testing.T, dir, name string) (signingPath, verifyingPath string, key *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	signingPath = filepath.Join(dir, name+"-signing.pem")
	require.NoError(t, os.WriteFile(signingPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600))

	verifyingBytes, err := keyfile.EncodePublicKey(&key.PublicKey)
	require.NoError(t, err)
	verifyingPath = filepath.Join(dir, name+"-verifying.pem")
	require.NoError(t, os.WriteFile(verifyingPath, verifyingBytes, 0o600))

	return signingPath, verifyingPath, key
}

func TestGenerateWritesAuthenticatedGenesisPair(t *testing.T) {
	dir := t.TempDir()
	clientSigning, clientVerifying, clientKey := writeKeyPair(t, dir, "client")
	serverSigning, _, serverKey := writeKeyPair(t, dir, "server")

	dataPath := filepath.Join(dir, "data_server.bin")
	inodePath := filepath.Join(dir, "inode_server.bin")

	result, err := Generate(Config{
		ClientSigningKey:   clientSigning,
		ClientVerifyingKey: clientVerifying,
		Uid:                7,
		ServerSigningKey:   serverSigning,
		CryptoEnabled:      true,
	}, dataPath, inodePath)
	require.NoError(t, err)
	require.NotEmpty(t, result.DataRoot)
	require.NotEmpty(t, result.InodeRoot)

	dataServer := capsule.NewServer(capsule.ServerConfig{SigningKey: serverKey, CryptoEnabled: true})
	require.NoError(t, dataServer.LoadSnapshot(dataPath))
	dataBlock, err := dataServer.Get(context.Background(), result.DataRoot)
	require.NoError(t, err)
	require.NotNil(t, dataBlock.Fs.Data)
	require.Equal(t, uint64(7), dataBlock.Fs.UpdatedBy.Uid)
	require.NoError(t, block.VerifyCapsuleBlock(&dataBlock, &serverKey.PublicKey))

	inodeServer := capsule.NewServer(capsule.ServerConfig{SigningKey: serverKey, CryptoEnabled: true})
	require.NoError(t, inodeServer.LoadSnapshot(inodePath))
	inodeBlock, err := inodeServer.Get(context.Background(), result.InodeRoot)
	require.NoError(t, err)
	require.NotNil(t, inodeBlock.Fs.Inode)
	require.Equal(t, block.KindDirectory, inodeBlock.Fs.Inode.Kind)
	require.Len(t, inodeBlock.Fs.Inode.WriteAllowList, 1)
	require.Equal(t, clientKey.PublicKey.N.Bytes(), mustParsePub(t, inodeBlock.Fs.Inode.WriteAllowList[0].PubKey).N.Bytes())
}

func TestGenerateWithCryptoDisabledSkipsKeyMaterial(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data_server.bin")
	inodePath := filepath.Join(dir, "inode_server.bin")

	result, err := Generate(Config{Uid: 1, CryptoEnabled: false}, dataPath, inodePath)
	require.NoError(t, err)
	require.NotEmpty(t, result.DataRoot)
	require.NotEmpty(t, result.InodeRoot)

	server := capsule.NewServer(capsule.ServerConfig{CryptoEnabled: false})
	require.NoError(t, server.LoadSnapshot(inodePath))
	cb, err := server.Get(context.Background(), result.InodeRoot)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cb.Fs.UpdatedBy.Uid)
}

func mustParsePub(t *testing.T, pemBytes []byte) *rsa.PublicKey {
	t.Helper()
	pub, err := block.ParsePublicKey(pemBytes)
	require.NoError(t, err)
	return pub
}
