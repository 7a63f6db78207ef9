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
	"fmt"

	"github.com/hqy2000/cfs/internal/seed"
	"github.com/spf13/cobra"
)

var (
	seedUid             uint64
	seedDataServerPath  string
	seedInodeServerPath string
	seedCryptoEnabled   bool
)

var seedCmd = &cobra.Command{
	Use:   "seed client-signing-key client-verifying-key server-signing-key",
	Short: "Write a genesis data/inode capsule pair a fresh mount can point at",
	Long: `seed writes an empty data-capsule snapshot and a single root-directory
inode-capsule snapshot, both authenticated by the given client identity and
signed by the given server key, and prints the two root hashes to put in a
mount's data-server.root / inode-server.root config keys.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := seed.Generate(seed.Config{
			ClientSigningKey:   args[0],
			ClientVerifyingKey: args[1],
			Uid:                seedUid,
			ServerSigningKey:   args[2],
			CryptoEnabled:      seedCryptoEnabled,
		}, seedDataServerPath, seedInodeServerPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "data-server.root: %s\n", result.DataRoot)
		fmt.Fprintf(cmd.OutOrStdout(), "inode-server.root: %s\n", result.InodeRoot)
		return nil
	},
}

func init() {
	seedCmd.Flags().Uint64Var(&seedUid, "uid", 1, "Numeric identity the client Id is signed for.")
	seedCmd.Flags().StringVar(&seedDataServerPath, "data-server-path", "data_server.bin", "Output path of the genesis data-capsule snapshot.")
	seedCmd.Flags().StringVar(&seedInodeServerPath, "inode-server-path", "inode_server.bin", "Output path of the genesis inode-capsule snapshot.")
	seedCmd.Flags().BoolVar(&seedCryptoEnabled, "is-crypto-enabled", true, "Sign the genesis blocks (must match the mount's is-crypto-enabled).")
	rootCmd.AddCommand(seedCmd)
}
