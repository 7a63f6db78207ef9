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
	"fmt"

	"github.com/hqy2000/cfs/internal/block"
	"github.com/hqy2000/cfs/internal/capsule"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers for the request/response envelopes below. block.Id,
// block.FsBlock and block.CapsuleBlock already carry their own Marshal/
// Unmarshal and are used directly as wire messages where a method's
// request or response is exactly one of them.
const (
	fieldHashRequestHash = protowire.Number(1)

	fieldPutResultSuccess = protowire.Number(1)
	fieldPutResultHash    = protowire.Number(2)
	fieldPutResultBlock   = protowire.Number(3)

	fieldLeafsResponseHashes = protowire.Number(1)

	fieldPutDataRequestFs        = protowire.Number(1)
	fieldPutDataRequestInodeHash = protowire.Number(2)

	fieldGetIDRequestUid = protowire.Number(1)
)

// empty is the request message for RPCs that take no arguments.
type empty struct{}

func (empty) Marshal() []byte          { return nil }
func (e *empty) Unmarshal(b []byte) error { return nil }

// hashRequest carries a single capsule hash, used by Capsule.Get.
type hashRequest struct {
	Hash string
}

func (r *hashRequest) Marshal() []byte {
	var b []byte
	if r.Hash != "" {
		b = protowire.AppendTag(b, fieldHashRequestHash, protowire.BytesType)
		b = protowire.AppendString(b, r.Hash)
	}
	return b
}

func (r *hashRequest) Unmarshal(b []byte) error {
	*r = hashRequest{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("rpc: hashRequest: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldHashRequestHash:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("rpc: hashRequest.hash: %w", protowire.ParseError(m))
			}
			r.Hash = string(v)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("rpc: hashRequest: unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return nil
}

// putResult is the wire form of capsule.PutResult, shared by Capsule.Put,
// Middleware.PutInode and Middleware.PutData.
type putResult struct {
	Success bool
	Hash    string
	Block   block.CapsuleBlock
}

func toWirePutResult(r capsule.PutResult) *putResult {
	return &putResult{Success: r.Success, Hash: r.Hash, Block: r.Block}
}

func (r *putResult) toPutResult() capsule.PutResult {
	return capsule.PutResult{Success: r.Success, Hash: r.Hash, Block: r.Block}
}

func (r *putResult) Marshal() []byte {
	var b []byte
	if r.Success {
		b = protowire.AppendTag(b, fieldPutResultSuccess, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if r.Hash != "" {
		b = protowire.AppendTag(b, fieldPutResultHash, protowire.BytesType)
		b = protowire.AppendString(b, r.Hash)
	}
	block := r.Block.Marshal()
	if len(block) > 0 {
		b = protowire.AppendTag(b, fieldPutResultBlock, protowire.BytesType)
		b = protowire.AppendBytes(b, block)
	}
	return b
}

func (r *putResult) Unmarshal(b []byte) error {
	*r = putResult{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("rpc: putResult: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldPutResultSuccess:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("rpc: putResult.success: %w", protowire.ParseError(m))
			}
			r.Success = v != 0
			b = b[m:]
		case fieldPutResultHash:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("rpc: putResult.hash: %w", protowire.ParseError(m))
			}
			r.Hash = string(v)
			b = b[m:]
		case fieldPutResultBlock:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("rpc: putResult.block: %w", protowire.ParseError(m))
			}
			if err := r.Block.Unmarshal(v); err != nil {
				return fmt.Errorf("rpc: putResult.block: %w", err)
			}
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("rpc: putResult: unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return nil
}

// leafsResponse carries the capsule's current leaf hash set.
type leafsResponse struct {
	Hashes []string
}

func (r *leafsResponse) Marshal() []byte {
	var b []byte
	for _, h := range r.Hashes {
		b = protowire.AppendTag(b, fieldLeafsResponseHashes, protowire.BytesType)
		b = protowire.AppendString(b, h)
	}
	return b
}

func (r *leafsResponse) Unmarshal(b []byte) error {
	*r = leafsResponse{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("rpc: leafsResponse: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldLeafsResponseHashes:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("rpc: leafsResponse.hashes: %w", protowire.ParseError(m))
			}
			r.Hashes = append(r.Hashes, string(v))
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("rpc: leafsResponse: unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return nil
}

// putDataRequest is Middleware.PutData's request: an unsigned FsBlock plus
// the inode hash it is attached to (spec.md §4.4; not itself persisted).
type putDataRequest struct {
	Fs        block.FsBlock
	InodeHash string
}

func (r *putDataRequest) Marshal() []byte {
	var b []byte
	fs := r.Fs.Marshal()
	if len(fs) > 0 {
		b = protowire.AppendTag(b, fieldPutDataRequestFs, protowire.BytesType)
		b = protowire.AppendBytes(b, fs)
	}
	if r.InodeHash != "" {
		b = protowire.AppendTag(b, fieldPutDataRequestInodeHash, protowire.BytesType)
		b = protowire.AppendString(b, r.InodeHash)
	}
	return b
}

func (r *putDataRequest) Unmarshal(b []byte) error {
	*r = putDataRequest{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("rpc: putDataRequest: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldPutDataRequestFs:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("rpc: putDataRequest.fs: %w", protowire.ParseError(m))
			}
			if err := r.Fs.Unmarshal(v); err != nil {
				return fmt.Errorf("rpc: putDataRequest.fs: %w", err)
			}
			b = b[m:]
		case fieldPutDataRequestInodeHash:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("rpc: putDataRequest.inode_hash: %w", protowire.ParseError(m))
			}
			r.InodeHash = string(v)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("rpc: putDataRequest: unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return nil
}

// getIDRequest is Middleware.GetID's request.
type getIDRequest struct {
	Uid uint64
}

func (r *getIDRequest) Marshal() []byte {
	var b []byte
	if r.Uid != 0 {
		b = protowire.AppendTag(b, fieldGetIDRequestUid, protowire.VarintType)
		b = protowire.AppendVarint(b, r.Uid)
	}
	return b
}

func (r *getIDRequest) Unmarshal(b []byte) error {
	*r = getIDRequest{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("rpc: getIDRequest: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldGetIDRequestUid:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("rpc: getIDRequest.uid: %w", protowire.ParseError(m))
			}
			r.Uid = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("rpc: getIDRequest: unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return nil
}
