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
	"google.golang.org/grpc"
)

const capsuleServiceName = "cfs.rpc.Capsule"

// CapsuleHandler is the server-side surface the Capsule gRPC service
// dispatches to; *capsule.Server satisfies it directly (spec.md §4.2's
// get/put/leafs).
type CapsuleHandler interface {
	Get(ctx context.Context, hash string) (block.CapsuleBlock, error)
	Put(ctx context.Context, fs block.FsBlock) (capsule.PutResult, error)
	Leafs(ctx context.Context) []string
}

var _ CapsuleHandler = (*capsule.Server)(nil)

// RegisterCapsuleServer attaches h to s under the Capsule service name.
func RegisterCapsuleServer(s *grpc.Server, h CapsuleHandler) {
	s.RegisterService(&capsuleServiceDesc, h)
}

var capsuleServiceDesc = grpc.ServiceDesc{
	ServiceName: capsuleServiceName,
	HandlerType: (*CapsuleHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: capsuleGetHandler},
		{MethodName: "Put", Handler: capsulePutHandler},
		{MethodName: "Leafs", Handler: capsuleLeafsHandler},
	},
}

func capsuleGetHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(hashRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		cb, err := srv.(CapsuleHandler).Get(ctx, req.(*hashRequest).Hash)
		if err != nil {
			return nil, toStatus(err)
		}
		return &cb, nil
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + capsuleServiceName + "/Get"}
	return interceptor(ctx, req, info, handler)
}

func capsulePutHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(block.FsBlock)
	if err := dec(req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		res, err := srv.(CapsuleHandler).Put(ctx, *req.(*block.FsBlock))
		if err != nil {
			return nil, toStatus(err)
		}
		return toWirePutResult(res), nil
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + capsuleServiceName + "/Put"}
	return interceptor(ctx, req, info, handler)
}

func capsuleLeafsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(empty)
	if err := dec(req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return &leafsResponse{Hashes: srv.(CapsuleHandler).Leafs(ctx)}, nil
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + capsuleServiceName + "/Leafs"}
	return interceptor(ctx, req, info, handler)
}

// CapsuleClient adapts a *grpc.ClientConn to capsule.Transport, so it can
// be plugged into capsule.ClientConfig.Transport for a split deployment
// exactly like capsule.InProcessTransport is for a single-process one
// (spec.md §4.4: "the contract is the same either way").
type CapsuleClient struct {
	cc *grpc.ClientConn
}

var _ capsule.Transport = (*CapsuleClient)(nil)

// NewCapsuleClient wraps an already-dialed connection.
func NewCapsuleClient(cc *grpc.ClientConn) *CapsuleClient {
	return &CapsuleClient{cc: cc}
}

func (c *CapsuleClient) Get(ctx context.Context, hash string) (block.CapsuleBlock, error) {
	reply := new(block.CapsuleBlock)
	if err := c.cc.Invoke(ctx, "/"+capsuleServiceName+"/Get", &hashRequest{Hash: hash}, reply); err != nil {
		return block.CapsuleBlock{}, fromStatus(err)
	}
	return *reply, nil
}

func (c *CapsuleClient) Put(ctx context.Context, fs block.FsBlock) (capsule.PutResult, error) {
	reply := new(putResult)
	if err := c.cc.Invoke(ctx, "/"+capsuleServiceName+"/Put", &fs, reply); err != nil {
		return capsule.PutResult{}, fromStatus(err)
	}
	return reply.toPutResult(), nil
}

func (c *CapsuleClient) Leafs(ctx context.Context) ([]string, error) {
	reply := new(leafsResponse)
	if err := c.cc.Invoke(ctx, "/"+capsuleServiceName+"/Leafs", &empty{}, reply); err != nil {
		return nil, fromStatus(err)
	}
	return reply.Hashes, nil
}
