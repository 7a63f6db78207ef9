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

// Package config is the viper/pflag-backed configuration layer (spec.md
// §6's "Configuration" table), bound the way gcsfuse's cfg.BindFlags binds
// its own flag set to viper keys.
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the top-level configuration tree. YAML tags mirror the
// dotted key names of spec.md §6 exactly, so a config file and the flags
// BindFlags registers address the same viper keys.
type Config struct {
	BlockSize       uint32 `yaml:"block-size"`
	IsCryptoEnabled bool   `yaml:"is-crypto-enabled"`

	DataServer  CapsuleEndpoint  `yaml:"data-server"`
	InodeServer CapsuleEndpoint  `yaml:"inode-server"`
	Middleware  MiddlewareConfig `yaml:"middleware"`
	TLS         TLSConfig        `yaml:"tls"`
	Logging     LoggingConfig    `yaml:"logging"`
	Metrics     MetricsConfig    `yaml:"metrics"`
}

// CapsuleEndpoint addresses one capsule (spec.md §6 data_server/
// inode_server): its gRPC URL, the client-side LRU capacity, and the
// genesis/root hash a fresh mount starts reconstruction from.
type CapsuleEndpoint struct {
	URL       string `yaml:"url"`
	CacheSize int    `yaml:"cache-size"`
	Root      string `yaml:"root"`
}

// MiddlewareConfig names the signing middleware this mount talks to.
// Present with a non-empty SigningKey ⇒ read-write mount; absent ⇒
// read-only (spec.md §6).
type MiddlewareConfig struct {
	URL string `yaml:"url"`
	// Uid is the numeric identity middleware.get_id builds this mount's
	// self-signed Id from (spec.md §4.4), distinct from the fixed POSIX
	// uid=1000 every file's Attr reports (spec.md §4.7).
	Uid          uint64 `yaml:"uid"`
	VerifyingKey string `yaml:"verifying-key"`
	SigningKey   string `yaml:"signing-key"`
}

// TLSConfig names the certificate anchor for the gRPC transport.
type TLSConfig struct {
	CA string `yaml:"ca"`
}

// LoggingConfig controls internal/logger's output.
type LoggingConfig struct {
	Severity string `yaml:"severity"`
	File     string `yaml:"file"`
	Format   string `yaml:"format"`
}

// MetricsConfig controls the Prometheus exporter internal/metrics starts.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// ReadOnly reports whether this mount has no writer identity configured.
func (c *Config) ReadOnly() bool {
	return c.Middleware.SigningKey == ""
}

// BindFlags registers the command-line flags for every key in Config and
// binds each one to the matching viper key, following cfg.BindFlags'
// flagSet.*P + viper.BindPFlag pairing.
func BindFlags(flagSet *pflag.FlagSet) error {
	bindings := []struct {
		key   string
		bind  func()
	}{
		{"block-size", func() { flagSet.Uint32P("block-size", "", 512, "Fixed block size B in bytes.") }},
		{"is-crypto-enabled", func() {
			flagSet.BoolP("is-crypto-enabled", "", true, "If false, skip signing and verification.")
		}},
		{"data-server.url", func() { flagSet.StringP("data-server-url", "", "", "Data capsule gRPC endpoint.") }},
		{"data-server.cache-size", func() {
			flagSet.IntP("data-server-cache-size", "", 1024, "Data capsule client LRU capacity.")
		}},
		{"data-server.root", func() {
			flagSet.StringP("data-server-root", "", "", "Data capsule genesis/root hash.")
		}},
		{"inode-server.url", func() {
			flagSet.StringP("inode-server-url", "", "", "Inode capsule gRPC endpoint.")
		}},
		{"inode-server.cache-size", func() {
			flagSet.IntP("inode-server-cache-size", "", 1024, "Inode capsule client LRU capacity.")
		}},
		{"inode-server.root", func() {
			flagSet.StringP("inode-server-root", "", "", "Inode capsule root-directory hash.")
		}},
		{"middleware.url", func() {
			flagSet.StringP("middleware-url", "", "", "Signing middleware gRPC endpoint (empty: in-process).")
		}},
		{"middleware.uid", func() {
			flagSet.Uint64P("middleware-uid", "", 1, "Numeric identity this mount authenticates writes as.")
		}},
		{"middleware.verifying-key", func() {
			flagSet.StringP("middleware-verifying-key", "", "", "PEM path of the capsule server's verifying key.")
		}},
		{"middleware.signing-key", func() {
			flagSet.StringP("middleware-signing-key", "", "", "PEM path of this mount's signing key. Empty: read-only mount.")
		}},
		{"tls.ca", func() { flagSet.StringP("tls-ca", "", "", "PEM certificate anchor for the gRPC transport.") }},
		{"logging.severity", func() { flagSet.StringP("log-severity", "", "info", "Minimum log severity.") }},
		{"logging.file", func() { flagSet.StringP("log-file", "", "", "Log file path. Empty: stderr.") }},
		{"logging.format", func() { flagSet.StringP("log-format", "", "text", "Log format: text or json.") }},
		{"metrics.enabled", func() { flagSet.BoolP("metrics-enabled", "", false, "Start the Prometheus exporter.") }},
		{"metrics.addr", func() { flagSet.StringP("metrics-addr", "", ":9091", "Prometheus exporter listen address.") }},
	}

	flagNames := map[string]string{
		"block-size":                "block-size",
		"is-crypto-enabled":         "is-crypto-enabled",
		"data-server.url":           "data-server-url",
		"data-server.cache-size":    "data-server-cache-size",
		"data-server.root":          "data-server-root",
		"inode-server.url":          "inode-server-url",
		"inode-server.cache-size":   "inode-server-cache-size",
		"inode-server.root":         "inode-server-root",
		"middleware.url":            "middleware-url",
		"middleware.uid":            "middleware-uid",
		"middleware.verifying-key":  "middleware-verifying-key",
		"middleware.signing-key":    "middleware-signing-key",
		"tls.ca":                    "tls-ca",
		"logging.severity":          "log-severity",
		"logging.file":              "log-file",
		"logging.format":            "log-format",
		"metrics.enabled":           "metrics-enabled",
		"metrics.addr":              "metrics-addr",
	}

	for _, b := range bindings {
		b.bind()
	}
	for key, flagName := range flagNames {
		if err := viper.BindPFlag(key, flagSet.Lookup(flagName)); err != nil {
			return fmt.Errorf("config: bind %s: %w", key, err)
		}
	}
	return nil
}

// Load reads configFile (if non-empty), merges in the flags BindFlags
// already registered, and unmarshals the result into a Config.
func Load(configFile string) (*Config, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var c Config
	if err := viper.Unmarshal(&c, useYamlTagNames); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// useYamlTagNames makes viper.Unmarshal match struct fields by their
// `yaml` tag instead of mapstructure's default `mapstructure` tag, the
// same adaptation gcsfuse's legacy flag-to-cfg.Config conversion applies
// via TagName: "yaml" (cmd/legacy_param_converter.go).
func useYamlTagNames(dc *mapstructure.DecoderConfig) {
	dc.TagName = "yaml"
}

// Validate rejects a Config that cannot produce a running mount, mirroring
// cfg's own post-load validation pass (cfg/validate.go).
func Validate(c *Config) error {
	if c.BlockSize == 0 {
		return fmt.Errorf("config: block-size must be positive")
	}
	if c.InodeServer.URL == "" {
		return fmt.Errorf("config: inode-server.url is required")
	}
	if c.DataServer.URL == "" {
		return fmt.Errorf("config: data-server.url is required")
	}
	if c.IsCryptoEnabled && c.InodeServer.Root == "" {
		return fmt.Errorf("config: inode-server.root is required when crypto is enabled")
	}
	if !c.ReadOnly() && c.Middleware.VerifyingKey == "" {
		return fmt.Errorf("config: middleware.verifying-key is required for a read-write mount")
	}
	return nil
}
