package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tzconnect/beacon-core/crypto/keys"
)

var keygenOutputFile string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new Ed25519 identity key pair",
	Long: `Generate a new long-term Ed25519 signing identity and print its
hex-encoded seed, public key, and publicKeyHash (the value used in
recipient addresses and relay selection).`,
	Example: `  # Generate a new identity and print it to stdout
  beacon-core keygen

  # Generate a new identity and save the seed to a file
  beacon-core keygen --output identity.seed`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&keygenOutputFile, "output", "o", "", "file to write the hex-encoded seed to (default: stdout only)")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("generate identity key: %w", err)
	}
	kp := keys.NewEd25519KeyPair(priv, priv.Public().(ed25519.PublicKey))
	seedHex := hex.EncodeToString(priv.Seed())

	fmt.Printf("seed:          %s\n", seedHex)
	fmt.Printf("publicKey:     %s\n", kp.PublicKeyHex())
	fmt.Printf("publicKeyHash: %s\n", kp.ID())

	if keygenOutputFile != "" {
		if err := os.WriteFile(keygenOutputFile, []byte(seedHex+"\n"), 0600); err != nil {
			return fmt.Errorf("write seed file: %w", err)
		}
		fmt.Printf("seed written to: %s\n", keygenOutputFile)
	}
	return nil
}
