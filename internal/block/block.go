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

// Package block defines the three signed record types that make up the
// capsule wire format (Id, InodeBlock/DataBlock, FsBlock, CapsuleBlock),
// their canonical protobuf-wire encoding, and the hash/sign/verify
// operations that authenticate them.
//
// Field numbers below are fixed for the lifetime of the wire format; adding
// a field means picking the next unused number, never reusing one.
package block

import (
	"fmt"
)

// Kind enumerates the payload kinds an InodeBlock can carry. Deletion is
// modeled as a kind transition rather than removal, since the capsule is
// append-only.
type Kind int32

const (
	KindDirectory          Kind = 0
	KindRegularFile        Kind = 1
	KindDeletedFolder      Kind = 2
	KindDeletedRegularFile Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "Directory"
	case KindRegularFile:
		return "RegularFile"
	case KindDeletedFolder:
		return "DeletedFolder"
	case KindDeletedRegularFile:
		return "DeletedRegularFile"
	default:
		return fmt.Sprintf("Kind(%d)", int32(k))
	}
}

// IsDeleted reports whether the kind marks a logical entry as removed.
func (k Kind) IsDeleted() bool {
	return k == KindDeletedFolder || k == KindDeletedRegularFile
}

// IsDir reports whether the kind denotes a directory (live or deleted).
func (k Kind) IsDir() bool {
	return k == KindDirectory || k == KindDeletedFolder
}

// Id is a self-signed binding of a public key to a numeric uid.
type Id struct {
	PubKey    []byte // PKCS8 SPKI PEM
	Uid       uint64
	Signature []byte
}

// InodeBlock is a directory-entry record: a filename, its size, kind,
// ordered data-block hash list, and the ACL it grants to its children.
type InodeBlock struct {
	Filename       []byte
	Size           uint64
	Kind           Kind
	Hashes         []string
	WriteAllowList []Id
}

// DataBlock is a fixed-size (except possibly the file's last block) slice
// of file content.
type DataBlock struct {
	Data []byte
}

// FsBlock is the client-signed envelope around an InodeBlock or DataBlock.
// Exactly one of Inode/Data is set.
type FsBlock struct {
	PrevHash  string
	Inode     *InodeBlock
	Data      *DataBlock
	UpdatedBy Id
	Signature []byte
}

// CapsuleBlock is the server-signed record actually stored by a capsule;
// its hash is its content address.
type CapsuleBlock struct {
	PrevHash  string
	Fs        FsBlock
	Timestamp int64
	Signature []byte
}
