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

// Package fserrors defines the error taxonomy shared by the capsule,
// middleware, inode cache, and façade layers (spec.md §7): NotFound,
// PermissionDenied, Unauthenticated, Conflict, and Transport. Each wraps an
// optional underlying cause and supports errors.Is/errors.As against both
// its sentinel and the cause.
package fserrors

import (
	"errors"
	"fmt"
)

// Sentinels usable with errors.Is against any of the typed errors below.
var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrConflict         = errors.New("conflict")
	ErrTransport        = errors.New("transport error")
)

// NotFoundError reports an ino out of range, an absent capsule hash, or a
// missing directory child.
type NotFoundError struct {
	What string
	Err  error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: not found: %v", e.What, e.Err)
	}
	return fmt.Sprintf("%s: not found", e.What)
}

func (e *NotFoundError) Unwrap() []error { return []error{ErrNotFound, e.Err} }

// PermissionDeniedError reports a writer not present in a parent's
// write_allow_list, or an FsBlock signature that failed to verify.
type PermissionDeniedError struct {
	What string
	Err  error
}

func (e *PermissionDeniedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: permission denied: %v", e.What, e.Err)
	}
	return fmt.Sprintf("%s: permission denied", e.What)
}

func (e *PermissionDeniedError) Unwrap() []error { return []error{ErrPermissionDenied, e.Err} }

// UnauthenticatedError reports a CapsuleBlock signature that failed to
// verify against the pinned server verifying key.
type UnauthenticatedError struct {
	What string
	Err  error
}

func (e *UnauthenticatedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: unauthenticated: %v", e.What, e.Err)
	}
	return fmt.Sprintf("%s: unauthenticated", e.What)
}

func (e *UnauthenticatedError) Unwrap() []error { return []error{ErrUnauthenticated, e.Err} }

// ConflictError reports a duplicate Put of a block already present in the
// capsule. Callers generally treat this as success (idempotent).
type ConflictError struct {
	Hash string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("block %s already present", e.Hash)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// TransportError wraps an RPC/timeout failure. Callers must not assume any
// server-side mutation occurred.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }
