package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tzconnect/beacon-core/config"
	"github.com/tzconnect/beacon-core/crypto/keys"
	"github.com/tzconnect/beacon-core/internal/logger"
	"github.com/tzconnect/beacon-core/internal/metrics"
	"github.com/tzconnect/beacon-core/pairing"
	"github.com/tzconnect/beacon-core/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the pairing core as a long-lived wallet or dApp process",
	Long: `Start loads configuration, derives the Ed25519 identity, logs into
the selected relay server, joins any already-invited rooms, provisions a
standby room for the wallet role, and then blocks until interrupted.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
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

	kv, err := openStorage(cmd.Context(), cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer kv.Close()

	registry := prometheus.NewRegistry()
	collectors := metrics.NewCollectors(registry)
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics, registry)
	}

	role := pairing.RoleDApp
	if cfg.Pairing != nil && cfg.Pairing.Role == "wallet" {
		role = pairing.RoleWallet
	}

	client, err := pairing.New(pairing.Config{
		Identity:     identity,
		KV:           kv,
		Role:         role,
		Name:         pairingAppName(cfg.Pairing),
		RelayServers: cfg.Relay.Servers,
		RelayNonce:   cfg.Relay.Nonce,
		Metrics:      collectors,
	})
	if err != nil {
		return fmt.Errorf("construct pairing client: %w", err)
	}

	ctx := cmd.Context()
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("start pairing client: %w", err)
	}
	logger.Info("beacon-core started",
		logger.String("role", string(role)),
		logger.String("public_key_hash", identity.ID()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("beacon-core shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return client.Stop(stopCtx)
}

// mustMemoryKV backs one-shot commands (e.g. `pair request`) that
// construct a pairing.Client only to call a pure, unstarted method;
// they have no need for persistent storage.
func mustMemoryKV() storage.KV {
	return storage.NewMemoryKV()
}

func pairingAppName(p *config.PairingConfig) string {
	if p == nil || p.AppName == "" {
		return "beacon-core"
	}
	return p.AppName
}

// loadIdentity resolves the Ed25519 seed from SeedHex (highest
// precedence) or SeedFile, generating and persisting a fresh one to
// SeedFile when neither is set, so a repeated `start` against the same
// config reuses the same long-term identity.
func loadIdentity(cfg *config.IdentityConfig) (*keys.Ed25519KeyPair, error) {
	if cfg == nil {
		cfg = &config.IdentityConfig{}
	}

	if cfg.SeedHex != "" {
		seed, err := hex.DecodeString(cfg.SeedHex)
		if err != nil {
			return nil, fmt.Errorf("decode identity.seed_hex: %w", err)
		}
		return keys.Ed25519KeyPairFromSeed(seed), nil
	}

	if cfg.SeedFile != "" {
		if raw, err := os.ReadFile(cfg.SeedFile); err == nil {
			seed, err := hex.DecodeString(string(trimNewline(raw)))
			if err != nil {
				return nil, fmt.Errorf("decode seed file %s: %w", cfg.SeedFile, err)
			}
			return keys.Ed25519KeyPairFromSeed(seed), nil
		}

		kp, err := keys.GenerateEd25519KeyPair()
		if err != nil {
			return nil, fmt.Errorf("generate identity: %w", err)
		}
		seedHex := hex.EncodeToString(kp.PrivateKey().(interface{ Seed() []byte }).Seed())
		if err := os.WriteFile(cfg.SeedFile, []byte(seedHex+"\n"), 0600); err != nil {
			return nil, fmt.Errorf("persist new seed to %s: %w", cfg.SeedFile, err)
		}
		return kp, nil
	}

	return keys.GenerateEd25519KeyPair()
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func openStorage(ctx context.Context, cfg *config.StorageConfig) (storage.KV, error) {
	if cfg == nil || cfg.Backend == "" || cfg.Backend == "memory" {
		return storage.NewMemoryKV(), nil
	}
	if cfg.Backend != "postgres" {
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if cfg.Postgres == nil {
		return nil, fmt.Errorf("storage.postgres is required for the postgres backend")
	}

	kv, err := storage.NewPostgresKV(ctx, storage.PostgresConfig{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
		SSLMode:  cfg.Postgres.SSLMode,
	})
	if err != nil {
		return nil, err
	}
	if err := kv.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return kv, nil
}

func serveMetrics(cfg *config.MetricsConfig, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("metrics server listening", logger.String("addr", server.Addr), logger.String("path", cfg.Path))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.ErrorMsg("metrics server stopped", logger.Error(err))
	}
}
