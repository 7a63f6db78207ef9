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

// Package capsule implements the append-only, content-addressed block
// store (spec.md §4.2) and its LRU-caching RPC client (spec.md §4.3).
package capsule

import (
	"context"
	"crypto/rsa"
	"log/slog"
	"time"

	"github.com/hqy2000/cfs/internal/block"
	"github.com/hqy2000/cfs/internal/fserrors"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// SigningKey signs every CapsuleBlock this server produces. Required
	// when CryptoEnabled.
	SigningKey *rsa.PrivateKey
	// CryptoEnabled toggles FsBlock signature verification and
	// CapsuleBlock signing. Disabled only for tests and local
	// experimentation (spec.md §6 is_crypto_enabled).
	CryptoEnabled bool
	// Clock supplies the monotonic timestamp stamped onto each
	// CapsuleBlock. Defaults to timeutil.RealClock().
	Clock timeutil.Clock
	Log   *slog.Logger
}

// Server is the append-only content-addressed block store described in
// spec.md §4.2. All state lives behind a single mutex; Get and Leafs hold
// it only for the duration of a map/list read, Put holds it across the
// insert and leaf-set update.
type Server struct {
	mu    syncutil.InvariantMutex
	state *state

	signingKey    *rsa.PrivateKey
	cryptoEnabled bool
	clock         timeutil.Clock
	log           *slog.Logger
}

// NewServer constructs an empty Server. Load a persisted snapshot with
// LoadSnapshot before serving traffic if one exists.
func NewServer(cfg ServerConfig) *Server {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		state:         newState(),
		signingKey:    cfg.SigningKey,
		cryptoEnabled: cfg.CryptoEnabled,
		clock:         clock,
		log:           log,
	}
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)
	return s
}

// checkInvariants delegates to the current state, indirected through a
// method (rather than passing state.checkInvariants directly to
// NewInvariantMutex) so that LoadSnapshot can swap s.state wholesale
// without reconstructing the mutex.
func (s *Server) checkInvariants() {
	s.state.checkInvariants()
}

// Get returns the stored CapsuleBlock at hash.
func (s *Server) Get(_ context.Context, hash string) (block.CapsuleBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.state.get(hash)
	if !ok {
		return block.CapsuleBlock{}, &fserrors.NotFoundError{What: "capsule: Get(" + hash + ")"}
	}
	return cb, nil
}

// Leafs returns the current leaf set, most-recently-added first.
func (s *Server) Leafs(_ context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.leafs()
}

// PutResult is the outcome of a Put call.
type PutResult struct {
	Success bool
	Hash    string
	Block   block.CapsuleBlock
}

// Put authenticates fs (when crypto is enabled), wraps it in a
// server-signed CapsuleBlock, and appends it to the store. A duplicate Put
// of bytes already present returns Success=false with the existing hash —
// idempotent, not an error (spec.md §4.2 step 3, §7 Conflict).
func (s *Server) Put(_ context.Context, fs block.FsBlock) (PutResult, error) {
	if s.cryptoEnabled {
		if err := s.authenticate(fs); err != nil {
			return PutResult{}, err
		}
	}

	cb := block.CapsuleBlock{
		PrevHash:  fs.PrevHash,
		Fs:        fs,
		Timestamp: s.clock.Now().UnixNano(),
	}
	if s.cryptoEnabled {
		if err := block.SignCapsuleBlock(&cb, s.signingKey); err != nil {
			return PutResult{}, err
		}
	}
	hash := block.HashCapsuleBlock(&cb)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.state.get(hash); ok {
		return PutResult{Success: false, Hash: hash, Block: existing}, nil
	}
	s.state.insert(hash, cb)
	s.log.Debug("capsule put", "hash", hash, "prev_hash", fs.PrevHash)
	return PutResult{Success: true, Hash: hash, Block: cb}, nil
}

// authenticate verifies fs's signature and, when its prev_hash names an
// existing directory, that updated_by is present in that directory's
// write_allow_list (spec.md §7: PermissionDenied taxonomy; §8 capsule-only
// test "put rejecting a block signed by a key absent from the parent's
// write_allow_list").
func (s *Server) authenticate(fs block.FsBlock) error {
	pub, err := block.ParsePublicKey(fs.UpdatedBy.PubKey)
	if err != nil {
		return &fserrors.PermissionDeniedError{What: "capsule: Put", Err: err}
	}
	if err := block.VerifyId(&fs.UpdatedBy, pub); err != nil {
		return &fserrors.PermissionDeniedError{What: "capsule: Put: updated_by", Err: err}
	}
	if err := block.VerifyFsBlock(&fs, pub); err != nil {
		return &fserrors.PermissionDeniedError{What: "capsule: Put: signature", Err: err}
	}

	if fs.PrevHash == "" {
		return nil // genesis write: no parent to check an allow-list against.
	}

	s.mu.Lock()
	parent, ok := s.state.get(fs.PrevHash)
	s.mu.Unlock()
	if !ok || parent.Fs.Inode == nil {
		return nil // parent absent or a data block, not an inode: no ACL to check.
	}

	for _, allowed := range parent.Fs.Inode.WriteAllowList {
		if string(allowed.PubKey) == string(fs.UpdatedBy.PubKey) {
			return nil
		}
	}
	return &fserrors.PermissionDeniedError{What: "capsule: Put: writer not in parent's write_allow_list"}
}

// CheckpointLoop flushes a snapshot to path every interval, and once more
// when ctx is cancelled. Between checkpoints, in-memory state is authoritative; a
// crash loses writes since the last flush, which content-addressing makes
// safe to retry (spec.md §4.2).
func (s *Server) CheckpointLoop(ctx context.Context, path string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := s.SaveSnapshot(path); err != nil {
				s.log.Error("capsule final checkpoint failed", "path", path, "err", err)
			}
			return
		case <-ticker.C:
			if err := s.SaveSnapshot(path); err != nil {
				s.log.Error("capsule checkpoint failed", "path", path, "err", err)
			}
		}
	}
}
