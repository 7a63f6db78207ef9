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

package capsule

import (
	"context"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/hqy2000/cfs/internal/block"
	"github.com/hqy2000/cfs/internal/fserrors"
	"github.com/hqy2000/cfs/internal/metrics"
)

// Transport is the RPC surface a Client needs from a capsule: the three
// operations of spec.md §4.2, over whatever wire protocol carries them
// (internal/rpc provides the gRPC implementation; tests use an in-process
// one backed directly by a *Server).
type Transport interface {
	Get(ctx context.Context, hash string) (block.CapsuleBlock, error)
	Put(ctx context.Context, fs block.FsBlock) (PutResult, error)
	Leafs(ctx context.Context) ([]string, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Transport Transport
	// CacheSize is the LRU capacity in entries (spec.md §6
	// data_server.cache_size / inode_server.cache_size).
	CacheSize int
	// VerifyingKey pins the capsule server's signing key. Required when
	// CryptoEnabled.
	VerifyingKey *rsa.PublicKey
	CryptoEnabled bool
	// Metrics, when non-nil, records every RPC's latency/outcome and the
	// cache's hit rate and size (spec.md §6 metrics.enabled). Name labels
	// those observations, e.g. "data" or "inode".
	Metrics *metrics.Metrics
	Name    string
}

// Client is the LRU-caching capsule reader of spec.md §4.3. Concurrent
// callers may safely call Get for the same or different hashes; the cache
// lock is held only for the lookup/insert, not across the RPC await, and
// duplicate in-flight misses for the same hash are allowed rather than
// coalesced (a deliberate simplicity/at-most-once tradeoff pushed onto the
// capsule's own idempotence rather than solved client-side).
type Client struct {
	transport     Transport
	cache         *blockLRU
	verifyingKey  *rsa.PublicKey
	cryptoEnabled bool
	metrics       *metrics.Metrics
	name          string
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		transport:     cfg.Transport,
		cache:         newBlockLRU(cfg.CacheSize),
		verifyingKey:  cfg.VerifyingKey,
		cryptoEnabled: cfg.CryptoEnabled,
		metrics:       cfg.Metrics,
		name:          cfg.Name,
	}
}

func (c *Client) observe(op string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveCapsuleOp(c.name, op, time.Since(start), err)
}

// Get returns the CapsuleBlock at hash, serving from the LRU cache when
// possible. On a cache miss the fetched block is verified against the
// pinned server key (when crypto is enabled) before being cached; a block
// that fails verification is never cached and Get returns an
// UnauthenticatedError (spec.md §7).
func (c *Client) Get(ctx context.Context, hash string) (block.CapsuleBlock, error) {
	if cb, ok := c.cache.lookUp(hash); ok {
		if c.metrics != nil {
			c.metrics.ObserveCacheLookup(c.name, true)
		}
		return cb, nil
	}
	if c.metrics != nil {
		c.metrics.ObserveCacheLookup(c.name, false)
	}

	start := time.Now()
	cb, err := c.transport.Get(ctx, hash)
	defer func() { c.observe("Get", start, err) }()
	if err != nil {
		return block.CapsuleBlock{}, err
	}

	if c.cryptoEnabled {
		if verr := block.VerifyCapsuleBlock(&cb, c.verifyingKey); verr != nil {
			err = &fserrors.UnauthenticatedError{What: "capsule client: Get(" + hash + ")", Err: verr}
			return block.CapsuleBlock{}, err
		}
	}

	c.cache.insert(hash, cb)
	if c.metrics != nil {
		c.metrics.SetCacheSize(c.name, c.cache.len())
	}
	return cb, nil
}

// GetBlock fetches hash and returns the bytes of the DataBlock it carries.
// It returns an error if the block at hash is not a DataBlock.
func (c *Client) GetBlock(ctx context.Context, hash string) ([]byte, error) {
	cb, err := c.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if cb.Fs.Data == nil {
		return nil, fmt.Errorf("capsule client: GetBlock(%s): not a data block", hash)
	}
	return cb.Fs.Data.Data, nil
}

// Put forwards fs to the capsule. Client-side callers normally go through
// the signing middleware instead (spec.md §4.4); Put is exposed directly
// for the seed tool and for middleware implementations that embed a
// Client.
func (c *Client) Put(ctx context.Context, fs block.FsBlock) (PutResult, error) {
	start := time.Now()
	res, err := c.transport.Put(ctx, fs)
	c.observe("Put", start, err)
	return res, err
}

// Leafs returns the capsule's current leaf hashes.
func (c *Client) Leafs(ctx context.Context) ([]string, error) {
	start := time.Now()
	leafs, err := c.transport.Leafs(ctx)
	c.observe("Leafs", start, err)
	return leafs, err
}

// InProcessTransport adapts a *Server directly to the Transport interface,
// for single-process deployments and tests (spec.md §4.4 notes the
// middleware may run in-process next to the client without changing the
// contract).
type InProcessTransport struct {
	Server *Server
}

func (t InProcessTransport) Get(ctx context.Context, hash string) (block.CapsuleBlock, error) {
	return t.Server.Get(ctx, hash)
}

func (t InProcessTransport) Put(ctx context.Context, fs block.FsBlock) (PutResult, error) {
	return t.Server.Put(ctx, fs)
}

func (t InProcessTransport) Leafs(ctx context.Context) ([]string, error) {
	return t.Server.Leafs(ctx), nil
}
