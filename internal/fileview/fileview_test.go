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

package fileview

import (
	"context"
	"testing"

	"github.com/hqy2000/cfs/internal/block"
	"github.com/hqy2000/cfs/internal/capsule"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 512

// fakeCapsule is an in-memory, unsigned stand-in for a data capsule,
// exercising only the Get/Put shape fileview depends on.
type fakeCapsule struct {
	blocks map[string]block.DataBlock
	n      int
}

func newFakeCapsule() *fakeCapsule { return &fakeCapsule{blocks: make(map[string]block.DataBlock)} }

func (f *fakeCapsule) GetBlock(_ context.Context, hash string) ([]byte, error) {
	return f.blocks[hash].Data, nil
}

func (f *fakeCapsule) PutData(_ context.Context, fb block.FsBlock, _ string) (capsule.PutResult, error) {
	f.n++
	hash := fb.PrevHash + "/" + string(rune('a'+f.n))
	f.blocks[hash] = *fb.Data
	return capsule.PutResult{Success: true, Hash: hash}, nil
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	fc := newFakeCapsule()
	v := New(testBlockSize, fc, fc)

	res, err := v.Write(context.Background(), WriteRequest{Data: []byte("hello")})
	require.NoError(t, err)
	require.Len(t, res.Hashes, 1)

	out, err := v.Read(context.Background(), res.Hashes, 0, 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(out))
}

func TestWritePastEOFZeroFills(t *testing.T) {
	fc := newFakeCapsule()
	v := New(testBlockSize, fc, fc)

	res, err := v.Write(context.Background(), WriteRequest{Offset: 3 * testBlockSize, Data: []byte("X")})
	require.NoError(t, err)
	require.Len(t, res.Hashes, 4)

	out, err := v.Read(context.Background(), res.Hashes, 0, 4*testBlockSize)
	require.NoError(t, err)
	require.Len(t, out, 4*testBlockSize)
	for i := 0; i < 3*testBlockSize; i++ {
		require.Equalf(t, byte(0), out[i], "byte %d should be zero-fill", i)
	}
	require.Equal(t, byte('X'), out[3*testBlockSize])
}

func TestWriteMergePreservesSurroundingBytes(t *testing.T) {
	fc := newFakeCapsule()
	v := New(testBlockSize, fc, fc)

	data := make([]byte, testBlockSize)
	for i := range data {
		data[i] = 'a'
	}
	res, err := v.Write(context.Background(), WriteRequest{Data: data})
	require.NoError(t, err)

	res, err = v.Write(context.Background(), WriteRequest{Hashes: res.Hashes, PrevDataHash: res.PrevDataHash, Offset: 100, Data: []byte("XYZ")})
	require.NoError(t, err)

	out, err := v.Read(context.Background(), res.Hashes, 0, testBlockSize)
	require.NoError(t, err)
	require.Equal(t, byte('a'), out[99])
	require.Equal(t, "XYZ", string(out[100:103]))
	require.Equal(t, byte('a'), out[103])
}

func TestReadPastEOFReturnsExistingPrefix(t *testing.T) {
	fc := newFakeCapsule()
	v := New(testBlockSize, fc, fc)

	res, err := v.Write(context.Background(), WriteRequest{Data: []byte("hello")})
	require.NoError(t, err)

	out, err := v.Read(context.Background(), res.Hashes, 0, 4*testBlockSize)
	require.NoError(t, err)
	require.Equal(t, testBlockSize, len(out))
}

func TestDataChainUsesFilesOwnPreviousHash(t *testing.T) {
	fc := newFakeCapsule()
	v := New(testBlockSize, fc, fc)

	resA, err := v.Write(context.Background(), WriteRequest{Data: []byte("a")})
	require.NoError(t, err)
	resB, err := v.Write(context.Background(), WriteRequest{Hashes: resA.Hashes, PrevDataHash: resA.PrevDataHash, Offset: 0, Data: []byte("b")})
	require.NoError(t, err)

	require.NotEqual(t, resA.PrevDataHash, resB.PrevDataHash)
}
