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
	"context"

	"github.com/hqy2000/cfs/internal/block"
	"github.com/hqy2000/cfs/internal/capsule"
	"github.com/hqy2000/cfs/internal/middleware"
	"google.golang.org/grpc"
)

const middlewareServiceName = "cfs.rpc.Middleware"

// MiddlewareHandler is the server-side surface the Middleware gRPC service
// dispatches to; *middleware.Middleware satisfies it directly. Exposing
// this over gRPC costs nothing in the reference single-process deployment
// but means a future split deployment needs no client-side change (spec.md
// §4.4).
type MiddlewareHandler interface {
	PutInode(ctx context.Context, fb block.FsBlock) (capsule.PutResult, error)
	PutData(ctx context.Context, fb block.FsBlock, inodeHash string) (capsule.PutResult, error)
	GetID(ctx context.Context, uid uint64) (block.Id, error)
}

var _ MiddlewareHandler = (*middleware.Middleware)(nil)

// RegisterMiddlewareServer attaches h to s under the Middleware service
// name.
func RegisterMiddlewareServer(s *grpc.Server, h MiddlewareHandler) {
	s.RegisterService(&middlewareServiceDesc, h)
}

var middlewareServiceDesc = grpc.ServiceDesc{
	ServiceName: middlewareServiceName,
	HandlerType: (*MiddlewareHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PutInode", Handler: middlewarePutInodeHandler},
		{MethodName: "PutData", Handler: middlewarePutDataHandler},
		{MethodName: "GetID", Handler: middlewareGetIDHandler},
	},
}

func middlewarePutInodeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(block.FsBlock)
	if err := dec(req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		res, err := srv.(MiddlewareHandler).PutInode(ctx, *req.(*block.FsBlock))
		if err != nil {
			return nil, toStatus(err)
		}
		return toWirePutResult(res), nil
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + middlewareServiceName + "/PutInode"}
	return interceptor(ctx, req, info, handler)
}

func middlewarePutDataHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(putDataRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		r := req.(*putDataRequest)
		res, err := srv.(MiddlewareHandler).PutData(ctx, r.Fs, r.InodeHash)
		if err != nil {
			return nil, toStatus(err)
		}
		return toWirePutResult(res), nil
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + middlewareServiceName + "/PutData"}
	return interceptor(ctx, req, info, handler)
}

func middlewareGetIDHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(getIDRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		id, err := srv.(MiddlewareHandler).GetID(ctx, req.(*getIDRequest).Uid)
		if err != nil {
			return nil, toStatus(err)
		}
		return &id, nil
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + middlewareServiceName + "/GetID"}
	return interceptor(ctx, req, info, handler)
}

// MiddlewareClient adapts a *grpc.ClientConn to the inodecache.Middleware
// and fileview.Middleware interfaces, so a split deployment's mount process
// can drive a remote signing middleware exactly as it would an in-process
// one.
type MiddlewareClient struct {
	cc *grpc.ClientConn
}

// NewMiddlewareClient wraps an already-dialed connection.
func NewMiddlewareClient(cc *grpc.ClientConn) *MiddlewareClient {
	return &MiddlewareClient{cc: cc}
}

func (c *MiddlewareClient) PutInode(ctx context.Context, fb block.FsBlock) (capsule.PutResult, error) {
	reply := new(putResult)
	if err := c.cc.Invoke(ctx, "/"+middlewareServiceName+"/PutInode", &fb, reply); err != nil {
		return capsule.PutResult{}, fromStatus(err)
	}
	return reply.toPutResult(), nil
}

func (c *MiddlewareClient) PutData(ctx context.Context, fb block.FsBlock, inodeHash string) (capsule.PutResult, error) {
	reply := new(putResult)
	req := &putDataRequest{Fs: fb, InodeHash: inodeHash}
	if err := c.cc.Invoke(ctx, "/"+middlewareServiceName+"/PutData", req, reply); err != nil {
		return capsule.PutResult{}, fromStatus(err)
	}
	return reply.toPutResult(), nil
}

func (c *MiddlewareClient) GetID(ctx context.Context, uid uint64) (block.Id, error) {
	reply := new(block.Id)
	if err := c.cc.Invoke(ctx, "/"+middlewareServiceName+"/GetID", &getIDRequest{Uid: uid}, reply); err != nil {
		return block.Id{}, fromStatus(err)
	}
	return *reply, nil
}
