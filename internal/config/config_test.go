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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// resetViper gives each test a clean global viper instance, since BindFlags
// and Load operate on the package-level viper singleton the way gcsfuse's
// cmd/root.go does.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestBindFlagsDefaultsRoundTripThroughLoad(t *testing.T) {
	resetViper(t)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs))
	require.NoError(t, fs.Parse([]string{
		"--inode-server-url=localhost:9001",
		"--data-server-url=localhost:9002",
		"--inode-server-root=deadbeef",
	}))

	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, uint32(512), c.BlockSize)
	require.True(t, c.IsCryptoEnabled)
	require.Equal(t, "localhost:9001", c.InodeServer.URL)
	require.Equal(t, "localhost:9002", c.DataServer.URL)
	require.True(t, c.ReadOnly())
}

func TestLoadMergesYamlFile(t *testing.T) {
	resetViper(t)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs))
	require.NoError(t, fs.Parse(nil))

	dir := t.TempDir()
	path := filepath.Join(dir, "cfs.yaml")
	yaml := "block-size: 4096\ninode-server:\n  url: inode:9001\n  root: deadbeef\ndata-server:\n  url: data:9002\nmiddleware:\n  signing-key: /keys/client.pem\n  verifying-key: /keys/server.pub.pem\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint32(4096), c.BlockSize)
	require.Equal(t, "inode:9001", c.InodeServer.URL)
	require.False(t, c.ReadOnly())
}

func TestValidateRejectsMissingCapsuleURLs(t *testing.T) {
	require.Error(t, Validate(&Config{BlockSize: 512}))
}

func TestValidateRejectsWriteMountWithoutVerifyingKey(t *testing.T) {
	c := &Config{
		BlockSize:       512,
		IsCryptoEnabled: false,
		InodeServer:     CapsuleEndpoint{URL: "x"},
		DataServer:      CapsuleEndpoint{URL: "y"},
		Middleware:      MiddlewareConfig{SigningKey: "/keys/client.pem"},
	}
	require.Error(t, Validate(c))
}

func TestValidateAcceptsReadOnlyMountWithoutVerifyingKey(t *testing.T) {
	c := &Config{
		BlockSize:   512,
		InodeServer: CapsuleEndpoint{URL: "x", Root: "deadbeef"},
		DataServer:  CapsuleEndpoint{URL: "y"},
	}
	require.NoError(t, Validate(c))
}
