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

package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPopulateArgsCanonicalizesMountPoint(t *testing.T) {
	mountPoint, err := populateArgs([]string{"relative/mnt"})
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(mountPoint))
}

func TestPopulateArgsRejectsWrongArgCount(t *testing.T) {
	_, err := populateArgs(nil)
	require.Error(t, err)
}
