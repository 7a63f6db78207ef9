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

package block

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers. Fixed for wire compatibility; see package doc.
const (
	fieldIdPubKey    = protowire.Number(1)
	fieldIdUid       = protowire.Number(2)
	fieldIdSignature = protowire.Number(3)

	fieldInodeFilename       = protowire.Number(1)
	fieldInodeSize           = protowire.Number(2)
	fieldInodeKind           = protowire.Number(3)
	fieldInodeHashes         = protowire.Number(4)
	fieldInodeWriteAllowList = protowire.Number(5)

	fieldDataData = protowire.Number(1)

	fieldFsPrevHash  = protowire.Number(1)
	fieldFsInode     = protowire.Number(2)
	fieldFsData      = protowire.Number(3)
	fieldFsUpdatedBy = protowire.Number(4)
	fieldFsSignature = protowire.Number(5)

	fieldCapsulePrevHash  = protowire.Number(1)
	fieldCapsuleFs        = protowire.Number(2)
	fieldCapsuleTimestamp = protowire.Number(3)
	fieldCapsuleSignature = protowire.Number(4)
)

// Marshal produces the canonical proto3 wire encoding of id: fields are
// emitted in ascending field-number order and zero-valued fields are
// omitted, exactly as a generated proto3 marshaler would.
func (id Id) Marshal() []byte {
	var b []byte
	if len(id.PubKey) > 0 {
		b = protowire.AppendTag(b, fieldIdPubKey, protowire.BytesType)
		b = protowire.AppendBytes(b, id.PubKey)
	}
	if id.Uid != 0 {
		b = protowire.AppendTag(b, fieldIdUid, protowire.VarintType)
		b = protowire.AppendVarint(b, id.Uid)
	}
	if len(id.Signature) > 0 {
		b = protowire.AppendTag(b, fieldIdSignature, protowire.BytesType)
		b = protowire.AppendBytes(b, id.Signature)
	}
	return b
}

// Unmarshal decodes b into id, which is zeroed first.
func (id *Id) Unmarshal(b []byte) error {
	*id = Id{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("block: Id: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldIdPubKey:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("block: Id.pub_key: %w", protowire.ParseError(m))
			}
			id.PubKey = append([]byte(nil), v...)
			b = b[m:]
		case fieldIdUid:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("block: Id.uid: %w", protowire.ParseError(m))
			}
			id.Uid = v
			b = b[m:]
		case fieldIdSignature:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("block: Id.signature: %w", protowire.ParseError(m))
			}
			id.Signature = append([]byte(nil), v...)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("block: Id: unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return nil
}

// Marshal produces the canonical proto3 wire encoding of ib.
func (ib *InodeBlock) Marshal() []byte {
	var b []byte
	if len(ib.Filename) > 0 {
		b = protowire.AppendTag(b, fieldInodeFilename, protowire.BytesType)
		b = protowire.AppendBytes(b, ib.Filename)
	}
	if ib.Size != 0 {
		b = protowire.AppendTag(b, fieldInodeSize, protowire.VarintType)
		b = protowire.AppendVarint(b, ib.Size)
	}
	if ib.Kind != KindDirectory {
		b = protowire.AppendTag(b, fieldInodeKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(ib.Kind))
	}
	for _, h := range ib.Hashes {
		b = protowire.AppendTag(b, fieldInodeHashes, protowire.BytesType)
		b = protowire.AppendString(b, h)
	}
	for i := range ib.WriteAllowList {
		b = protowire.AppendTag(b, fieldInodeWriteAllowList, protowire.BytesType)
		b = protowire.AppendBytes(b, ib.WriteAllowList[i].Marshal())
	}
	return b
}

// Unmarshal decodes b into ib, which is zeroed first.
func (ib *InodeBlock) Unmarshal(b []byte) error {
	*ib = InodeBlock{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("block: InodeBlock: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldInodeFilename:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("block: InodeBlock.filename: %w", protowire.ParseError(m))
			}
			ib.Filename = append([]byte(nil), v...)
			b = b[m:]
		case fieldInodeSize:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("block: InodeBlock.size: %w", protowire.ParseError(m))
			}
			ib.Size = v
			b = b[m:]
		case fieldInodeKind:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("block: InodeBlock.kind: %w", protowire.ParseError(m))
			}
			ib.Kind = Kind(v)
			b = b[m:]
		case fieldInodeHashes:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("block: InodeBlock.hashes: %w", protowire.ParseError(m))
			}
			ib.Hashes = append(ib.Hashes, string(v))
			b = b[m:]
		case fieldInodeWriteAllowList:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("block: InodeBlock.write_allow_list: %w", protowire.ParseError(m))
			}
			var id Id
			if err := id.Unmarshal(v); err != nil {
				return fmt.Errorf("block: InodeBlock.write_allow_list: %w", err)
			}
			ib.WriteAllowList = append(ib.WriteAllowList, id)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("block: InodeBlock: unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return nil
}

// Marshal produces the canonical proto3 wire encoding of db.
func (db *DataBlock) Marshal() []byte {
	var b []byte
	if len(db.Data) > 0 {
		b = protowire.AppendTag(b, fieldDataData, protowire.BytesType)
		b = protowire.AppendBytes(b, db.Data)
	}
	return b
}

// Unmarshal decodes b into db, which is zeroed first.
func (db *DataBlock) Unmarshal(b []byte) error {
	*db = DataBlock{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("block: DataBlock: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldDataData:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("block: DataBlock.data: %w", protowire.ParseError(m))
			}
			db.Data = append([]byte(nil), v...)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("block: DataBlock: unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return nil
}

// Marshal produces the canonical proto3 wire encoding of fb, with
// Signature emitted at its current value (cleared or not). This is the
// hash-relevant canonical form: callers that want a signable digest must
// clear Signature first (see Sign/Hash in sign.go).
func (fb FsBlock) Marshal() []byte {
	var b []byte
	if fb.PrevHash != "" {
		b = protowire.AppendTag(b, fieldFsPrevHash, protowire.BytesType)
		b = protowire.AppendString(b, fb.PrevHash)
	}
	if fb.Inode != nil {
		b = protowire.AppendTag(b, fieldFsInode, protowire.BytesType)
		b = protowire.AppendBytes(b, fb.Inode.Marshal())
	}
	if fb.Data != nil {
		b = protowire.AppendTag(b, fieldFsData, protowire.BytesType)
		b = protowire.AppendBytes(b, fb.Data.Marshal())
	}
	updatedBy := fb.UpdatedBy.Marshal()
	if len(updatedBy) > 0 {
		b = protowire.AppendTag(b, fieldFsUpdatedBy, protowire.BytesType)
		b = protowire.AppendBytes(b, updatedBy)
	}
	if len(fb.Signature) > 0 {
		b = protowire.AppendTag(b, fieldFsSignature, protowire.BytesType)
		b = protowire.AppendBytes(b, fb.Signature)
	}
	return b
}

// Unmarshal decodes b into fb, which is zeroed first.
func (fb *FsBlock) Unmarshal(b []byte) error {
	*fb = FsBlock{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("block: FsBlock: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldFsPrevHash:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("block: FsBlock.prev_hash: %w", protowire.ParseError(m))
			}
			fb.PrevHash = string(v)
			b = b[m:]
		case fieldFsInode:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("block: FsBlock.inode_block: %w", protowire.ParseError(m))
			}
			var ib InodeBlock
			if err := ib.Unmarshal(v); err != nil {
				return fmt.Errorf("block: FsBlock.inode_block: %w", err)
			}
			fb.Inode = &ib
			b = b[m:]
		case fieldFsData:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("block: FsBlock.data_block: %w", protowire.ParseError(m))
			}
			var db DataBlock
			if err := db.Unmarshal(v); err != nil {
				return fmt.Errorf("block: FsBlock.data_block: %w", err)
			}
			fb.Data = &db
			b = b[m:]
		case fieldFsUpdatedBy:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("block: FsBlock.updated_by: %w", protowire.ParseError(m))
			}
			if err := fb.UpdatedBy.Unmarshal(v); err != nil {
				return fmt.Errorf("block: FsBlock.updated_by: %w", err)
			}
			b = b[m:]
		case fieldFsSignature:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("block: FsBlock.signature: %w", protowire.ParseError(m))
			}
			fb.Signature = append([]byte(nil), v...)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("block: FsBlock: unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return nil
}

// Marshal produces the canonical proto3 wire encoding of cb.
func (cb CapsuleBlock) Marshal() []byte {
	var b []byte
	if cb.PrevHash != "" {
		b = protowire.AppendTag(b, fieldCapsulePrevHash, protowire.BytesType)
		b = protowire.AppendString(b, cb.PrevHash)
	}
	fs := cb.Fs.Marshal()
	if len(fs) > 0 {
		b = protowire.AppendTag(b, fieldCapsuleFs, protowire.BytesType)
		b = protowire.AppendBytes(b, fs)
	}
	if cb.Timestamp != 0 {
		b = protowire.AppendTag(b, fieldCapsuleTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(cb.Timestamp))
	}
	if len(cb.Signature) > 0 {
		b = protowire.AppendTag(b, fieldCapsuleSignature, protowire.BytesType)
		b = protowire.AppendBytes(b, cb.Signature)
	}
	return b
}

// Unmarshal decodes b into cb, which is zeroed first.
func (cb *CapsuleBlock) Unmarshal(b []byte) error {
	*cb = CapsuleBlock{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("block: CapsuleBlock: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldCapsulePrevHash:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("block: CapsuleBlock.prev_hash: %w", protowire.ParseError(m))
			}
			cb.PrevHash = string(v)
			b = b[m:]
		case fieldCapsuleFs:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("block: CapsuleBlock.fs: %w", protowire.ParseError(m))
			}
			if err := cb.Fs.Unmarshal(v); err != nil {
				return fmt.Errorf("block: CapsuleBlock.fs: %w", err)
			}
			b = b[m:]
		case fieldCapsuleTimestamp:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("block: CapsuleBlock.timestamp: %w", protowire.ParseError(m))
			}
			cb.Timestamp = int64(v)
			b = b[m:]
		case fieldCapsuleSignature:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("block: CapsuleBlock.signature: %w", protowire.ParseError(m))
			}
			cb.Signature = append([]byte(nil), v...)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("block: CapsuleBlock: unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return nil
}
