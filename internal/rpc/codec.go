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

// Package rpc is the gRPC transport for the Capsule and Middleware
// services. It carries the wire-format messages internal/block and this
// package already hand-encode as canonical proto3 bytes, so no protoc
// step or generated *.pb.go file is needed; grpc-go's codec registry is
// used directly instead (spec.md treats "protobuf RPC stubs" as out of
// scope, but a mountable filesystem needs a real transport).
package rpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// wireMessage is satisfied by every request/response type in this package,
// and by block.Id, block.FsBlock and block.CapsuleBlock directly.
type wireMessage interface {
	Marshal() []byte
	Unmarshal([]byte) error
}

// wireCodec implements encoding.Codec over wireMessage, replacing grpc-go's
// built-in "proto" codec (google.golang.org/grpc/encoding/proto) so that
// grpc.NewServer/grpc.NewClient need no extra codec-selection options: our
// registration under the same name simply wins, since this package is
// imported after google.golang.org/grpc itself finishes its own init.
type wireCodec struct{}

func (wireCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("rpc: codec: %T does not implement wireMessage", v)
	}
	return m.Marshal(), nil
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("rpc: codec: %T does not implement wireMessage", v)
	}
	return m.Unmarshal(data)
}

func (wireCodec) Name() string { return "proto" }

func init() {
	encoding.RegisterCodec(wireCodec{})
}
