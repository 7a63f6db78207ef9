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

// Package cmd is the cfs CLI: a cobra root command that mounts the
// capsule-backed filesystem, built the same way gcsfuse's cmd/root.go
// binds a pflag.FlagSet to viper keys and defers validation/mounting to
// RunE.
package cmd

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/hqy2000/cfs/internal/config"
	"github.com/hqy2000/cfs/internal/logger"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	bindErr   error
	loadedCfg *config.Config
	loadErr   error

	foreground bool
)

var rootCmd = &cobra.Command{
	Use:   "cfs [flags] mount_point",
	Short: "Mount a content-addressed, cryptographically authenticated filesystem",
	Long: `cfs mounts a content-addressed filesystem, reconstructed from an
append-only capsule server's leaf set and kept current as new revisions
are written, as a local FUSE filesystem.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if loadErr != nil {
			return loadErr
		}
		mountPoint, err := populateArgs(args)
		if err != nil {
			return err
		}
		logger.Init(loadedCfg.Logging.Format, logger.ParseSeverity(loadedCfg.Logging.Severity), os.Stderr)
		return mount(cmd.Context(), mountPoint, loadedCfg, foreground)
	},
}

// populateArgs canonicalizes the mount point, making it absolute. This is
// important when daemonizing below, since the daemon changes its working
// directory before running this code again.
func populateArgs(args []string) (mountPoint string, err error) {
	if len(args) != 1 {
		return "", fmt.Errorf(
			"%s takes exactly one argument (the mount point). Run `%s --help` for more info.",
			path.Base(os.Args[0]), path.Base(os.Args[0]))
	}
	mountPoint, err = filepath.Abs(args[0])
	if err != nil {
		return "", fmt.Errorf("canonicalizing mount point: %w", err)
	}
	return mountPoint, nil
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to the config file")
	rootCmd.PersistentFlags().BoolVar(&foreground, "foreground", false, "Run in the foreground instead of daemonizing")
	bindErr = config.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	loadedCfg, loadErr = config.Load(cfgFile)
}
