// Package config loads the JSON configuration files for both binaries.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rucat-project/rucat/internal/apierr"
)

// StaticAuthConfig is the one supported authentication provider.
type StaticAuthConfig struct {
	Tokens []string `json:"tokens"`
}

// AuthProviderConfig wraps the (currently singular) set of auth providers.
// Absent entirely means authentication is disabled.
type AuthProviderConfig struct {
	Static *StaticAuthConfig `json:"static,omitempty"`
}

// PostgresCredentials carries the DSN a Postgres-backed store connects with.
type PostgresCredentials struct {
	DSN string `json:"dsn"`
}

// PostgresConfig is the "postgres" driver entry under "database".
type PostgresConfig struct {
	Credentials PostgresCredentials `json:"credentials"`
	URI         string              `json:"uri"`
}

// DSN resolves the connection string a PostgresConfig should use, preferring
// Credentials.DSN and falling back to URI.
func (p PostgresConfig) DSN() string {
	if p.Credentials.DSN != "" {
		return p.Credentials.DSN
	}
	return p.URI
}

// DatabaseConfig selects a store driver. Absent entirely falls back to an
// in-memory store, a convenience for local runs and CI.
type DatabaseConfig struct {
	Postgres *PostgresConfig `json:"postgres,omitempty"`
}

// ServerConfig is the API server's configuration file shape.
type ServerConfig struct {
	Addr         string              `json:"addr,omitempty"`
	AuthProvider *AuthProviderConfig `json:"auth_provider,omitempty"`
	Database     DatabaseConfig      `json:"database,omitempty"`
}

// MonitorConfig is the state monitor's configuration file shape.
type MonitorConfig struct {
	CheckIntervalSecs   int            `json:"check_interval_secs"`
	FanOut              int            `json:"fan_out,omitempty"`
	ClaimTimeoutSecs    int            `json:"claim_timeout_secs,omitempty"`
	Database            DatabaseConfig `json:"database"`
	KubernetesNamespace string         `json:"kubernetes_namespace,omitempty"`
}

// LoadServerConfig reads and parses a ServerConfig from path.
func LoadServerConfig(path string) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := loadJSON(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadMonitorConfig reads and parses a MonitorConfig from path.
func LoadMonitorConfig(path string) (*MonitorConfig, error) {
	var cfg MonitorConfig
	if err := loadJSON(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.CheckIntervalSecs < 0 {
		return nil, apierr.ValidationError("check_interval_secs", "must be non-negative")
	}
	return &cfg, nil
}

func loadJSON(path string, dest any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return apierr.ValidationError("config", fmt.Sprintf("malformed JSON in %s: %v", path, err))
	}
	return nil
}
