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

// Package seed writes the genesis pair of capsule snapshot files a fresh
// mount's data_server.root/inode_server.root config keys point at: an
// empty DataBlock chain and a single-entry root-directory InodeBlock
// chain, each authenticated by one client Id and one server signing key
// (spec.md §6's "genesis" note on data_server.root/inode_server.root).
//
// Generate puts both genesis blocks through a real capsule.Server rather
// than hand-building the signed wire bytes, so the same authenticate/sign
// path a live mount exercises at runtime produces the seed files too.
package seed

import (
	"context"
	"crypto/rsa"
	"fmt"

	"github.com/hqy2000/cfs/internal/block"
	"github.com/hqy2000/cfs/internal/capsule"
	"github.com/hqy2000/cfs/internal/keyfile"
)

// Config names the key material the genesis pair is built from.
type Config struct {
	// ClientSigningKey and ClientVerifyingKey identify the one writer the
	// fresh mount's root directory allow-lists (spec.md §4.2
	// write_allow_list). Paths to PEM files.
	ClientSigningKey   string
	ClientVerifyingKey string
	// Uid is the numeric identity embedded in the client's genesis Id
	// (spec.md §4.1), matching the middleware.uid a mount authenticating
	// as this client will configure.
	Uid uint64
	// ServerSigningKey signs both genesis CapsuleBlocks, the same key the
	// data/inode capsule servers sign every later block with.
	ServerSigningKey string
	// CryptoEnabled mirrors spec.md §6 is_crypto_enabled: when false, the
	// genesis blocks are written unsigned and Generate never touches key
	// material, matching an all-plaintext test deployment.
	CryptoEnabled bool
}

// Result names the root hashes callers write into their mount config's
// data_server.root / inode_server.root keys.
type Result struct {
	DataRoot  string
	InodeRoot string
}

// Generate writes a genesis data-capsule snapshot to dataServerPath and a
// genesis inode-capsule snapshot to inodeServerPath, and returns the root
// hash of each.
func Generate(cfg Config, dataServerPath, inodeServerPath string) (Result, error) {
	var clientKey, serverKey *rsa.PrivateKey
	id := block.Id{Uid: cfg.Uid}

	if cfg.CryptoEnabled {
		var err error
		clientKey, err = keyfile.LoadPrivateKey(cfg.ClientSigningKey)
		if err != nil {
			return Result{}, fmt.Errorf("seed: %w", err)
		}
		clientPub, err := keyfile.LoadPublicKey(cfg.ClientVerifyingKey)
		if err != nil {
			return Result{}, fmt.Errorf("seed: %w", err)
		}
		id.PubKey, err = keyfile.EncodePublicKey(clientPub)
		if err != nil {
			return Result{}, fmt.Errorf("seed: %w", err)
		}
		if err := block.SignId(&id, clientKey); err != nil {
			return Result{}, fmt.Errorf("seed: sign client id: %w", err)
		}
		serverKey, err = keyfile.LoadPrivateKey(cfg.ServerSigningKey)
		if err != nil {
			return Result{}, fmt.Errorf("seed: %w", err)
		}
	}

	dataRoot, err := writeGenesis(cfg.CryptoEnabled, serverKey, clientKey, dataServerPath, block.FsBlock{
		Data:      &block.DataBlock{},
		UpdatedBy: id,
	})
	if err != nil {
		return Result{}, fmt.Errorf("seed: data capsule: %w", err)
	}

	inodeRoot, err := writeGenesis(cfg.CryptoEnabled, serverKey, clientKey, inodeServerPath, block.FsBlock{
		Inode: &block.InodeBlock{
			Kind:           block.KindDirectory,
			WriteAllowList: []block.Id{id},
		},
		UpdatedBy: id,
	})
	if err != nil {
		return Result{}, fmt.Errorf("seed: inode capsule: %w", err)
	}

	return Result{DataRoot: dataRoot, InodeRoot: inodeRoot}, nil
}

// writeGenesis signs fs (when cryptoEnabled), puts it through a fresh
// capsule.Server so the server's own authenticate/sign logic stamps and
// validates it exactly as it would for any later write, then snapshots
// that single-block state to path.
func writeGenesis(cryptoEnabled bool, serverKey, clientKey *rsa.PrivateKey, path string, fs block.FsBlock) (string, error) {
	if cryptoEnabled {
		if err := block.SignFsBlock(&fs, clientKey); err != nil {
			return "", fmt.Errorf("sign fs block: %w", err)
		}
	}

	server := capsule.NewServer(capsule.ServerConfig{
		SigningKey:    serverKey,
		CryptoEnabled: cryptoEnabled,
	})
	result, err := server.Put(context.Background(), fs)
	if err != nil {
		return "", fmt.Errorf("put genesis block: %w", err)
	}
	if err := server.SaveSnapshot(path); err != nil {
		return "", fmt.Errorf("save snapshot %s: %w", path, err)
	}
	return result.Hash, nil
}
