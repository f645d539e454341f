// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "beacon-core",
	Short: "Beacon Core CLI - P2P wallet/dApp pairing over a federated chat substrate",
	Long: `Beacon Core CLI drives the pairing and messaging core end to end:
generating identities, selecting a relay, running a wallet or dApp role
process against a relay server, and creating and answering pairing
requests.`,
}

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML/JSON config file (default: config/<env>.yaml)")

	// Commands are registered in their respective files:
	// - keygen.go: keygenCmd
	// - relay.go:  relayCmd
	// - start.go:  startCmd
	// - pair.go:   pairCmd
}
