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
	"errors"

	"github.com/hqy2000/cfs/internal/fserrors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps the fserrors taxonomy (spec.md §7) onto gRPC status codes
// on the way out of a server handler.
func toStatus(err error) error {
	if err == nil {
		return nil
	}

	var notFound *fserrors.NotFoundError
	var permissionDenied *fserrors.PermissionDeniedError
	var unauthenticated *fserrors.UnauthenticatedError
	var conflict *fserrors.ConflictError

	switch {
	case errors.As(err, &notFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &permissionDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.As(err, &unauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.As(err, &conflict):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}

// fromStatus recovers a typed fserrors error from a gRPC status error on
// the client side, so callers can keep using errors.As against the same
// taxonomy regardless of whether the capsule is in-process or remote. A
// status the client couldn't reach at all is reported as a TransportError.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return &fserrors.TransportError{Op: "rpc", Err: err}
	}
	switch st.Code() {
	case codes.NotFound:
		return &fserrors.NotFoundError{What: st.Message()}
	case codes.PermissionDenied:
		return &fserrors.PermissionDeniedError{What: st.Message()}
	case codes.Unauthenticated:
		return &fserrors.UnauthenticatedError{What: st.Message()}
	case codes.FailedPrecondition:
		return &fserrors.ConflictError{Hash: st.Message()}
	case codes.Unavailable, codes.DeadlineExceeded:
		return &fserrors.TransportError{Op: "rpc", Err: err}
	default:
		return &fserrors.TransportError{Op: "rpc", Err: err}
	}
}
