package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tzconnect/beacon-core/relay"
)

var (
	relayNonce   string
	relayServers []string
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Deterministic relay-server selection utilities",
}

var relaySelectCmd = &cobra.Command{
	Use:   "select <publicKeyHash>",
	Short: "Select the relay server closest to the given publicKeyHash",
	Long: `Select runs the same pure distance computation the pairing core uses
at startup (spec §4.1): given a hex-encoded 32-byte hash and an optional
nonce, it prints the one server from the configured list (or the
built-in default) that minimizes |hash - genericHash(server||nonce)|.`,
	Example: `  beacon-core relay select 3af2...1c

  beacon-core relay select 3af2...1c --nonce 1 --servers matrix.papers.tech,beacon-node-1.diamond.papers.tech`,
	Args: cobra.ExactArgs(1),
	RunE: runRelaySelect,
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.AddCommand(relaySelectCmd)

	relaySelectCmd.Flags().StringVar(&relayNonce, "nonce", "", "ASCII nonce (default: empty string)")
	relaySelectCmd.Flags().StringSliceVar(&relayServers, "servers", nil, "comma-separated server list (default: built-in)")
}

func runRelaySelect(cmd *cobra.Command, args []string) error {
	server, err := relay.Select(args[0], relayNonce, relayServers)
	if err != nil {
		return fmt.Errorf("select relay: %w", err)
	}
	fmt.Println(server)
	return nil
}
