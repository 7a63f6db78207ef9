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

// Package fsbridge satisfies github.com/jacobsa/fuse's FileSystem contract by
// translating each kernel request into a call on internal/fsfacade and
// mapping the result (or error) back into the reply/errno shape the kernel
// expects, exactly the role gcsfuse's fs/fs.go plays for a GCS bucket. This
// is the "kernel bridge adapter" — out of scope as a design concern, but
// still implemented here because a mountable filesystem needs a real one.
package fsbridge

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/hqy2000/cfs/internal/block"
	"github.com/hqy2000/cfs/internal/fserrors"
	"github.com/hqy2000/cfs/internal/fsfacade"
	"github.com/jacobsa/fuse"
)

// Bridge adapts a *fsfacade.Facade to fuse.FileSystem. It carries no state of
// its own beyond the facade; open file/directory handles are not tracked
// individually since the facade's operations are already safe to call
// concurrently for the same inode (spec.md §4.7 assigns no meaning to a
// particular handle value beyond the DummyFileHandle constant).
type Bridge struct {
	facade *fsfacade.Facade
}

var _ fuse.FileSystem = (*Bridge)(nil)

// New constructs a Bridge.
func New(facade *fsfacade.Facade) *Bridge {
	return &Bridge{facade: facade}
}

func errno(err error) error {
	var notFound *fserrors.NotFoundError
	var permissionDenied *fserrors.PermissionDeniedError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &notFound):
		return fuse.ENOENT
	case errors.As(err, &permissionDenied):
		return syscall.EACCES
	default:
		return fuse.EIO
	}
}

func toAttributes(a fsfacade.Attr) fuse.InodeAttributes {
	return fuse.InodeAttributes{
		Size:   a.Size,
		Nlink:  uint64(a.Nlink),
		Mode:   os.FileMode(a.Mode),
		Atime:  a.Atime,
		Mtime:  a.Mtime,
		Ctime:  a.Ctime,
		Crtime: a.Crtime,
		Uid:    a.Uid,
		Gid:    a.Gid,
	}
}

func childEntry(a fsfacade.Attr) fuse.ChildInodeEntry {
	mode := os.FileMode(a.Mode)
	if a.Kind == block.KindDirectory {
		mode |= os.ModeDir
	}
	attrs := toAttributes(a)
	attrs.Mode = mode
	return fuse.ChildInodeEntry{
		Child:                fuse.InodeID(a.Ino),
		Attributes:           attrs,
		AttributesExpiration: time.Now().Add(fsfacade.LookupTTL),
		EntryExpiration:      time.Now().Add(fsfacade.LookupTTL),
	}
}

// Init acknowledges the mount; the facade needs no setup beyond what New
// already did.
func (b *Bridge) Init(ctx context.Context, req *fuse.InitRequest) (*fuse.InitResponse, error) {
	return &fuse.InitResponse{}, nil
}

func (b *Bridge) LookUpInode(ctx context.Context, req *fuse.LookUpInodeRequest) (*fuse.LookUpInodeResponse, error) {
	attr, err := b.facade.Lookup(ctx, uint64(req.Parent), req.Name)
	if err != nil {
		return nil, errno(err)
	}
	return &fuse.LookUpInodeResponse{Entry: childEntry(attr)}, nil
}

func (b *Bridge) GetInodeAttributes(ctx context.Context, req *fuse.GetInodeAttributesRequest) (*fuse.GetInodeAttributesResponse, error) {
	attr, err := b.facade.GetAttr(ctx, uint64(req.Inode))
	if err != nil {
		return nil, errno(err)
	}
	return &fuse.GetInodeAttributesResponse{
		Attributes:           toAttributes(attr),
		AttributesExpiration: time.Now().Add(fsfacade.LookupTTL),
	}, nil
}

func (b *Bridge) SetInodeAttributes(ctx context.Context, req *fuse.SetInodeAttributesRequest) (*fuse.SetInodeAttributesResponse, error) {
	attr, err := b.facade.SetAttr(ctx, uint64(req.Inode), req.Size)
	if err != nil {
		return nil, errno(err)
	}
	return &fuse.SetInodeAttributesResponse{
		Attributes:           toAttributes(attr),
		AttributesExpiration: time.Now().Add(fsfacade.LookupTTL),
	}, nil
}

// ForgetInode is a no-op: the facade keeps no per-lookup reference counts,
// and the inode cache keeps every ino it assigns for the life of the mount
// (spec.md §4.5).
func (b *Bridge) ForgetInode(ctx context.Context, req *fuse.ForgetInodeRequest) (*fuse.ForgetInodeResponse, error) {
	return &fuse.ForgetInodeResponse{}, nil
}

func (b *Bridge) MkDir(ctx context.Context, req *fuse.MkDirRequest) (*fuse.MkDirResponse, error) {
	attr, err := b.facade.Mkdir(ctx, uint64(req.Parent), req.Name)
	if err != nil {
		return nil, errno(err)
	}
	return &fuse.MkDirResponse{Entry: childEntry(attr)}, nil
}

func (b *Bridge) CreateFile(ctx context.Context, req *fuse.CreateFileRequest) (*fuse.CreateFileResponse, error) {
	attr, err := b.facade.Create(ctx, uint64(req.Parent), req.Name)
	if err != nil {
		return nil, errno(err)
	}
	return &fuse.CreateFileResponse{
		Entry:  childEntry(attr),
		Handle: fuse.HandleID(fsfacade.DummyFileHandle),
	}, nil
}

func (b *Bridge) RmDir(ctx context.Context, req *fuse.RmDirRequest) (*fuse.RmDirResponse, error) {
	if err := b.facade.Rmdir(ctx, uint64(req.Parent), req.Name); err != nil {
		return nil, errno(err)
	}
	return &fuse.RmDirResponse{}, nil
}

func (b *Bridge) Unlink(ctx context.Context, req *fuse.UnlinkRequest) (*fuse.UnlinkResponse, error) {
	if err := b.facade.Unlink(ctx, uint64(req.Parent), req.Name); err != nil {
		return nil, errno(err)
	}
	return &fuse.UnlinkResponse{}, nil
}

// OpenDir always succeeds with the dummy handle: the facade has no
// per-handle state to allocate.
func (b *Bridge) OpenDir(ctx context.Context, req *fuse.OpenDirRequest) (*fuse.OpenDirResponse, error) {
	return &fuse.OpenDirResponse{Handle: fuse.HandleID(fsfacade.DummyFileHandle)}, nil
}

func (b *Bridge) ReadDir(ctx context.Context, req *fuse.ReadDirRequest) (*fuse.ReadDirResponse, error) {
	entries, err := b.facade.ReadDir(ctx, uint64(req.Inode), int(req.Offset))
	if err != nil {
		return nil, errno(err)
	}

	buf := make([]byte, 0, req.Size)
	for i, e := range entries {
		n := appendDirent(buf[:cap(buf)][len(buf):], e, fuse.DirOffset(req.Offset)+fuse.DirOffset(i)+1)
		if n == 0 {
			break
		}
		buf = buf[:len(buf)+n]
	}
	return &fuse.ReadDirResponse{Data: buf}, nil
}

// appendDirent writes one directory entry in the fuse_dirent wire format
// (8-byte aligned: ino, offset, namelen, type, name, padding), grounded on
// jacobsa/fuse's fuseutil.WriteDirent. Returns 0 if buf is too small.
func appendDirent(buf []byte, e fsfacade.DirEntry, offset fuse.DirOffset) int {
	const direntAlignment = 8
	const direntHeaderSize = 8 + 8 + 4 + 4

	padLen := 0
	if len(e.Name)%direntAlignment != 0 {
		padLen = direntAlignment - (len(e.Name) % direntAlignment)
	}
	total := direntHeaderSize + len(e.Name) + padLen
	if total > len(buf) {
		return 0
	}

	putUint64(buf[0:8], e.Ino)
	putUint64(buf[8:16], uint64(offset))
	putUint32(buf[16:20], uint32(len(e.Name)))
	putUint32(buf[20:24], uint32(directType(e.Kind)))
	n := direntHeaderSize
	n += copy(buf[n:], e.Name)
	n += copy(buf[n:n+padLen], make([]byte, padLen))
	return n
}

// Standard POSIX dirent d_type values.
const (
	dtDir = 4
	dtReg = 8
)

func directType(kind block.Kind) int {
	if kind == block.KindDirectory {
		return dtDir
	}
	return dtReg
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putUint32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// ReleaseDirHandle is a no-op; see OpenDir.
func (b *Bridge) ReleaseDirHandle(ctx context.Context, req *fuse.ReleaseDirHandleRequest) (*fuse.ReleaseDirHandleResponse, error) {
	return &fuse.ReleaseDirHandleResponse{}, nil
}

// OpenFile always succeeds with the dummy handle; see fsfacade.Create.
func (b *Bridge) OpenFile(ctx context.Context, req *fuse.OpenFileRequest) (*fuse.OpenFileResponse, error) {
	return &fuse.OpenFileResponse{Handle: fuse.HandleID(fsfacade.DummyFileHandle)}, nil
}

func (b *Bridge) ReadFile(ctx context.Context, req *fuse.ReadFileRequest) (*fuse.ReadFileResponse, error) {
	data, err := b.facade.Read(ctx, uint64(req.Inode), req.Offset, req.Size)
	if err != nil {
		return nil, errno(err)
	}
	return &fuse.ReadFileResponse{Data: data}, nil
}

func (b *Bridge) WriteFile(ctx context.Context, req *fuse.WriteFileRequest) (*fuse.WriteFileResponse, error) {
	if _, err := b.facade.Write(ctx, uint64(req.Inode), req.Offset, req.Data); err != nil {
		return nil, errno(err)
	}
	return &fuse.WriteFileResponse{}, nil
}

// SyncFile is a no-op: every facade write is already durable once its Put
// RPC returns (spec.md §1 Non-goals: "fsync durability beyond RPC success").
func (b *Bridge) SyncFile(ctx context.Context, req *fuse.SyncFileRequest) (*fuse.SyncFileResponse, error) {
	return &fuse.SyncFileResponse{}, nil
}

func (b *Bridge) FlushFile(ctx context.Context, req *fuse.FlushFileRequest) (*fuse.FlushFileResponse, error) {
	if err := b.facade.Flush(ctx, uint64(req.Inode)); err != nil {
		return nil, errno(err)
	}
	return &fuse.FlushFileResponse{}, nil
}

func (b *Bridge) ReleaseFileHandle(ctx context.Context, req *fuse.ReleaseFileHandleRequest) (*fuse.ReleaseFileHandleResponse, error) {
	if err := b.facade.Release(ctx, uint64(req.Handle)); err != nil {
		return nil, errno(err)
	}
	return &fuse.ReleaseFileHandleResponse{}, nil
}
