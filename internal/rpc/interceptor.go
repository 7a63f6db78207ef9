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
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
)

// LoggingInterceptor tags every unary call with a fresh correlation id and
// logs its method, duration and outcome, the same per-request shape the
// rest of this codebase logs capsule puts and inode-cache rebuilds with.
func LoggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		callID := uuid.NewString()
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug("rpc call",
			"call_id", callID,
			"method", info.FullMethod,
			"duration", time.Since(start),
			"err", err,
		)
		return resp, err
	}
}
