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

// Package middleware is the single point where a user-owned private key
// signs FsBlock records before they reach a capsule (spec.md §4.4). It sits
// between the façade/file-view/inode-cache layer, which only ever builds
// unsigned FsBlocks, and the capsule clients that forward signed ones.
package middleware

import (
	"context"
	"crypto/rsa"
	"fmt"

	"github.com/hqy2000/cfs/internal/block"
	"github.com/hqy2000/cfs/internal/capsule"
	"github.com/hqy2000/cfs/internal/keyfile"
)

// Putter is the capsule-side surface a Middleware forwards signed FsBlocks
// to. Both *capsule.Client and *capsule.Server satisfy it, so a middleware
// can be wired directly against an in-process capsule for tests or a real
// RPC client in production (spec.md §4.4: "the design does not require
// cross-process isolation, but the contract is the same either way").
type Putter interface {
	Put(ctx context.Context, fs block.FsBlock) (capsule.PutResult, error)
}

// Config configures a Middleware.
type Config struct {
	// SigningKey is the one client identity this middleware signs on behalf
	// of. spec.md's middleware.signing_key config key names exactly one key
	// per mount; GetID only ever returns the Id built from it.
	SigningKey *rsa.PrivateKey
	Uid        uint64

	InodeCapsule Putter
	DataCapsule  Putter

	// CryptoEnabled toggles signing, mirroring capsule.ServerConfig's flag
	// of the same name (spec.md §6 is_crypto_enabled).
	CryptoEnabled bool
}

// Middleware is the writer-authenticating forwarder of spec.md §4.4:
// put_inode, put_data, get_id.
type Middleware struct {
	signingKey    *rsa.PrivateKey
	id            block.Id
	inodeCapsule  Putter
	dataCapsule   Putter
	cryptoEnabled bool
}

// New constructs a Middleware, self-signing the Id it will attach to every
// write it forwards.
func New(cfg Config) (*Middleware, error) {
	m := &Middleware{
		signingKey:    cfg.SigningKey,
		inodeCapsule:  cfg.InodeCapsule,
		dataCapsule:   cfg.DataCapsule,
		cryptoEnabled: cfg.CryptoEnabled,
	}

	id := block.Id{Uid: cfg.Uid}
	if cfg.CryptoEnabled {
		pubPem, err := keyfile.EncodePublicKey(&cfg.SigningKey.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("middleware: encode public key: %w", err)
		}
		id.PubKey = pubPem
		if err := block.SignId(&id, cfg.SigningKey); err != nil {
			return nil, fmt.Errorf("middleware: self-sign Id: %w", err)
		}
	}
	m.id = id

	return m, nil
}

// GetID returns the caller's Id, built from the embedded public key and
// self-signed. Only the uid this middleware was configured for is known;
// any other uid is a misconfiguration rather than a multi-tenant lookup
// (spec.md §4.4: "builds the caller's Id from the embedded public key").
func (m *Middleware) GetID(_ context.Context, uid uint64) (block.Id, error) {
	if uid != m.id.Uid {
		return block.Id{}, fmt.Errorf("middleware: GetID(%d): this mount is authenticated as uid %d", uid, m.id.Uid)
	}
	return m.id, nil
}

// PutInode signs fb with the mount's key and forwards it to the inode
// capsule.
func (m *Middleware) PutInode(ctx context.Context, fb block.FsBlock) (capsule.PutResult, error) {
	return m.put(ctx, m.inodeCapsule, fb)
}

// PutData signs fb with the mount's key and forwards it to the data
// capsule. inodeHash is accepted for policy checks (e.g. a future
// middleware might refuse to attach data to an inode it doesn't recognize)
// but is not itself stored in any record (spec.md §4.4).
func (m *Middleware) PutData(ctx context.Context, fb block.FsBlock, inodeHash string) (capsule.PutResult, error) {
	_ = inodeHash
	return m.put(ctx, m.dataCapsule, fb)
}

func (m *Middleware) put(ctx context.Context, target Putter, fb block.FsBlock) (capsule.PutResult, error) {
	fb.UpdatedBy = m.id
	if m.cryptoEnabled {
		if err := block.SignFsBlock(&fb, m.signingKey); err != nil {
			return capsule.PutResult{}, fmt.Errorf("middleware: sign FsBlock: %w", err)
		}
	}
	return target.Put(ctx, fb)
}
