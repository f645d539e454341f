package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, defaultRelayServers, cfg.Relay.Servers)
	assert.Equal(t, "dapp", cfg.Pairing.Role)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoadFromFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "environment: staging\npairing:\n  role: wallet\n  app_name: test-wallet\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "wallet", cfg.Pairing.Role)
	assert.Equal(t, "test-wallet", cfg.Pairing.AppName)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := &Config{Environment: "production", Pairing: &PairingConfig{Role: "wallet"}}
	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "production", loaded.Environment)
	assert.Equal(t, "wallet", loaded.Pairing.Role)
}

func TestValidate(t *testing.T) {
	t.Run("invalid role", func(t *testing.T) {
		cfg := &Config{Pairing: &PairingConfig{Role: "bogus"}}
		issues := Validate(cfg)
		require.Len(t, issues, 1)
		assert.Equal(t, "error", issues[0].Level)
	})

	t.Run("postgres backend without config", func(t *testing.T) {
		cfg := &Config{Pairing: &PairingConfig{Role: "wallet"}, Storage: &StorageConfig{Backend: "postgres"}}
		issues := Validate(cfg)
		require.Len(t, issues, 1)
		assert.Equal(t, "storage.postgres", issues[0].Field)
	})

	t.Run("valid config has no errors", func(t *testing.T) {
		cfg := &Config{
			Pairing: &PairingConfig{Role: "dapp"},
			Storage: &StorageConfig{Backend: "memory"},
			Relay:   &RelayConfig{Servers: []string{"relay.example"}},
		}
		assert.Empty(t, Validate(cfg))
	})
}

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("BEACON_TEST_VAR", "resolved")
	defer os.Unsetenv("BEACON_TEST_VAR")

	assert.Equal(t, "resolved", SubstituteEnvVars("${BEACON_TEST_VAR}"))
	assert.Equal(t, "fallback", SubstituteEnvVars("${BEACON_UNSET_VAR:fallback}"))
	assert.Equal(t, "plain", SubstituteEnvVars("plain"))
}

func TestGetEnvironment(t *testing.T) {
	os.Setenv("BEACON_ENV", "production")
	defer os.Unsetenv("BEACON_ENV")

	assert.Equal(t, "production", GetEnvironment())
	assert.True(t, IsProduction())
	assert.False(t, IsDevelopment())
}
