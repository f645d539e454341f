package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tzconnect/beacon-core/config"
	"github.com/tzconnect/beacon-core/pairing"
)

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Pairing-handshake utilities",
}

var pairRespondDescriptorFile string

var pairRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Print this identity's pairing-request descriptor as JSON",
	Long: `Builds the out-of-band pairing-request payload (spec §4.4.3, §6): a
dApp's identity, chosen relay server, and metadata, shipped to a wallet
as a QR code or deep link in a real deployment. Here it's printed as
JSON to stdout.`,
	RunE: runPairRequest,
}

var pairRespondCmd = &cobra.Command{
	Use:   "respond",
	Short: "Answer an inbound pairing-request descriptor (wallet role)",
	Long: `Reads a pairing-request descriptor (the payload scanned from a dApp's
QR code) from --descriptor-file, or stdin if unset, parses it, logs this
wallet identity into its relay, and sends a sealed-box pairing response
(spec §4.4.5). Legacy bare-hex-public-key descriptors are accepted only
when config.Pairing.UseV1Fallback (or --allow-legacy) is set.`,
	RunE: runPairRespond,
}

var pairRespondAllowLegacy bool

func init() {
	rootCmd.AddCommand(pairCmd)
	pairCmd.AddCommand(pairRequestCmd)
	pairCmd.AddCommand(pairRespondCmd)

	pairRespondCmd.Flags().StringVar(&pairRespondDescriptorFile, "descriptor-file", "", "file containing the pairing-request descriptor (default: stdin)")
	pairRespondCmd.Flags().BoolVar(&pairRespondAllowLegacy, "allow-legacy", false, "accept a v1 bare-hex-public-key descriptor")
}

func runPairRespond(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	raw, err := readDescriptorInput()
	if err != nil {
		return fmt.Errorf("read pairing descriptor: %w", err)
	}

	allowLegacy := pairRespondAllowLegacy || (cfg.Pairing != nil && cfg.Pairing.UseV1Fallback)
	request, err := pairing.ParsePeerDescriptor(raw, allowLegacy)
	if err != nil {
		return fmt.Errorf("parse pairing descriptor: %w", err)
	}

	identity, err := loadIdentity(cfg.Identity)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	kv, err := openStorage(cmd.Context(), cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer kv.Close()

	client, err := pairing.New(pairing.Config{
		Identity:     identity,
		KV:           kv,
		Role:         pairing.RoleWallet,
		Name:         pairingAppName(cfg.Pairing),
		RelayServers: cfg.Relay.Servers,
		RelayNonce:   cfg.Relay.Nonce,
	})
	if err != nil {
		return fmt.Errorf("construct pairing client: %w", err)
	}

	ctx := cmd.Context()
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("start pairing client: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = client.Stop(stopCtx)
	}()

	if err := client.SendPairingResponse(ctx, request); err != nil {
		return fmt.Errorf("send pairing response: %w", err)
	}
	fmt.Println("pairing response sent")
	return nil
}

func readDescriptorInput() ([]byte, error) {
	if pairRespondDescriptorFile != "" {
		return os.ReadFile(pairRespondDescriptorFile)
	}
	return io.ReadAll(os.Stdin)
}

func runPairRequest(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	identity, err := loadIdentity(cfg.Identity)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	client, err := pairing.New(pairing.Config{
		Identity:     identity,
		KV:           mustMemoryKV(),
		Role:         pairing.RoleDApp,
		Name:         pairingAppName(cfg.Pairing),
		RelayServers: cfg.Relay.Servers,
		RelayNonce:   cfg.Relay.Nonce,
	})
	if err != nil {
		return fmt.Errorf("construct pairing client: %w", err)
	}

	req, err := client.GetPairingRequestInfo()
	if err != nil {
		return fmt.Errorf("build pairing request: %w", err)
	}

	out, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pairing request: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
