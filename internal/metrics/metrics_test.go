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

package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestObserveCapsuleOpExportsCounterAndHistogram(t *testing.T) {
	m := New()
	m.ObserveCapsuleOp("data", "Get", 10*time.Millisecond, nil)
	m.ObserveCapsuleOp("data", "Get", 10*time.Millisecond, errors.New("boom"))

	body := scrape(t, m)
	require.Contains(t, body, `cfs_capsule_ops_total{capsule="data",op="Get",outcome="ok"} 1`)
	require.Contains(t, body, `cfs_capsule_ops_total{capsule="data",op="Get",outcome="error"} 1`)
	require.Contains(t, body, "cfs_capsule_op_duration_seconds")
}

func TestObserveCacheLookupTracksHitAndMiss(t *testing.T) {
	m := New()
	m.ObserveCacheLookup("inode", true)
	m.ObserveCacheLookup("inode", false)
	m.ObserveCacheLookup("inode", false)

	body := scrape(t, m)
	require.Contains(t, body, `cfs_capsule_cache_lookups_total{capsule="inode",result="hit"} 1`)
	require.Contains(t, body, `cfs_capsule_cache_lookups_total{capsule="inode",result="miss"} 2`)
}

func TestSetCacheSizeExportsGauge(t *testing.T) {
	m := New()
	m.SetCacheSize("data", 42)

	body := scrape(t, m)
	require.Contains(t, body, `cfs_capsule_cache_size{capsule="data"} 42`)
}

func TestObserveInodeCacheBuildExportsHistogram(t *testing.T) {
	m := New()
	m.ObserveInodeCacheBuild(5 * time.Millisecond)

	body := scrape(t, m)
	require.Contains(t, body, "cfs_inodecache_build_duration_seconds")
}

func TestServerServesMetricsUntilContextCancelled(t *testing.T) {
	m := New()
	m.SetCacheSize("data", 7)
	srv := NewServer("127.0.0.1:0", m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	// Serve with ":0" never actually listens on a stable port our test
	// client can reach; exercise the shutdown path instead, which is the
	// part cmd/mount.go actually depends on (no hang, no error).
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	handler := NewServer("unused", m).http.Handler
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return strings.ReplaceAll(string(b), "\n\n", "\n")
}
