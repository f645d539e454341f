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

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a beacon-core process,
// covering both wallet and dApp roles.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Identity    *IdentityConfig `yaml:"identity" json:"identity"`
	Relay       *RelayConfig    `yaml:"relay" json:"relay"`
	Pairing     *PairingConfig  `yaml:"pairing" json:"pairing"`
	Storage     *StorageConfig  `yaml:"storage" json:"storage"`
	Logging     *LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// IdentityConfig locates this process's Ed25519 identity seed.
type IdentityConfig struct {
	SeedFile string `yaml:"seed_file" json:"seed_file"`
	SeedHex  string `yaml:"seed_hex" json:"seed_hex"`
}

// RelayConfig controls relay-server selection (spec §4.1).
type RelayConfig struct {
	Servers []string `yaml:"servers" json:"servers"`
	Nonce   string   `yaml:"nonce" json:"nonce"`
}

// PairingConfig controls the pairing core's role and behavior.
type PairingConfig struct {
	// Role is "wallet" or "dapp". The wallet role provisions a standby
	// room; the dapp role initiates pairing requests.
	Role string `yaml:"role" json:"role"`
	// AppName identifies this client in pairing request metadata.
	AppName string `yaml:"app_name" json:"app_name"`
	// UseV1Fallback lets pairing.ParsePeerDescriptor accept v1 peer
	// descriptors: JSON without a version, or a bare hex Ed25519 public key.
	UseV1Fallback bool `yaml:"use_v1_fallback" json:"use_v1_fallback"`
}

// StorageConfig selects and configures the KV backend.
type StorageConfig struct {
	Backend  string          `yaml:"backend" json:"backend"` // "memory" or "postgres"
	Postgres *PostgresConfig `yaml:"postgres" json:"postgres"`
}

// PostgresConfig mirrors storage.PostgresConfig for YAML/JSON loading.
type PostgresConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	Database string `yaml:"database" json:"database"`
	SSLMode  string `yaml:"ssl_mode" json:"ssl_mode"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig represents Prometheus metrics exposure configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing format by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Relay == nil {
		cfg.Relay = &RelayConfig{}
	}
	if len(cfg.Relay.Servers) == 0 {
		cfg.Relay.Servers = defaultRelayServers
	}

	if cfg.Pairing == nil {
		cfg.Pairing = &PairingConfig{}
	}
	if cfg.Pairing.Role == "" {
		cfg.Pairing.Role = "dapp"
	}

	if cfg.Storage == nil {
		cfg.Storage = &StorageConfig{}
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// defaultRelayServers is the relay list setDefaults fills in. It is a
// separate list from relay.DefaultServers and the two differ; config
// does not import the relay package.
var defaultRelayServers = []string{
	"matrix.tez.ie",
	"beacon-node-1.diamond.papers.tech",
	"beacon-node-1.sky.papers.tech",
}

// Validate reports configuration problems that should block startup.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Pairing != nil && cfg.Pairing.Role != "wallet" && cfg.Pairing.Role != "dapp" {
		issues = append(issues, ValidationIssue{
			Field:   "pairing.role",
			Message: fmt.Sprintf("must be %q or %q, got %q", "wallet", "dapp", cfg.Pairing.Role),
			Level:   "error",
		})
	}
	if cfg.Storage != nil && cfg.Storage.Backend == "postgres" && cfg.Storage.Postgres == nil {
		issues = append(issues, ValidationIssue{
			Field:   "storage.postgres",
			Message: "required when storage.backend is \"postgres\"",
			Level:   "error",
		})
	}
	if cfg.Relay != nil && len(cfg.Relay.Servers) == 0 {
		issues = append(issues, ValidationIssue{
			Field:   "relay.servers",
			Message: "empty; falling back to built-in defaults",
			Level:   "warning",
		})
	}
	return issues
}

// ValidationIssue is one configuration problem found by Validate.
type ValidationIssue struct {
	Field   string
	Message string
	Level   string // "error" or "warning"
}
