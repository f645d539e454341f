// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} or ${VAR:default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment
// variable values.
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// SubstituteEnvVarsInConfig recursively substitutes environment
// variables across every string field of cfg.
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Identity != nil {
		cfg.Identity.SeedFile = SubstituteEnvVars(cfg.Identity.SeedFile)
		cfg.Identity.SeedHex = SubstituteEnvVars(cfg.Identity.SeedHex)
	}
	if cfg.Relay != nil {
		for i, s := range cfg.Relay.Servers {
			cfg.Relay.Servers[i] = SubstituteEnvVars(s)
		}
		cfg.Relay.Nonce = SubstituteEnvVars(cfg.Relay.Nonce)
	}
	if cfg.Pairing != nil {
		cfg.Pairing.Role = SubstituteEnvVars(cfg.Pairing.Role)
		cfg.Pairing.AppName = SubstituteEnvVars(cfg.Pairing.AppName)
	}
	if cfg.Storage != nil && cfg.Storage.Postgres != nil {
		p := cfg.Storage.Postgres
		p.Host = SubstituteEnvVars(p.Host)
		p.User = SubstituteEnvVars(p.User)
		p.Password = SubstituteEnvVars(p.Password)
		p.Database = SubstituteEnvVars(p.Database)
		p.SSLMode = SubstituteEnvVars(p.SSLMode)
	}
	if cfg.Logging != nil {
		cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
		cfg.Logging.Format = SubstituteEnvVars(cfg.Logging.Format)
		cfg.Logging.Output = SubstituteEnvVars(cfg.Logging.Output)
	}
	if cfg.Metrics != nil {
		cfg.Metrics.Path = SubstituteEnvVars(cfg.Metrics.Path)
	}
}

// GetEnvironment returns the current environment from BEACON_ENV (or
// ENVIRONMENT), defaulting to "development".
func GetEnvironment() string {
	env := os.Getenv("BEACON_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction reports whether the current environment is production.
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// IsDevelopment reports whether the current environment is development
// or local.
func IsDevelopment() bool {
	env := GetEnvironment()
	return env == "development" || env == "local"
}
