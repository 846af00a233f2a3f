// Package config loads service configuration from YAML with built-in
// defaults. Missing file returns defaults; invalid YAML is an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kevinmarty69/know-your-agent/internal/alert"
)

// SigningConfig points at the workspace-wide Ed25519 keypair. Key files
// are PEM (PKCS#8 private, PKIX public). KeyID travels in token headers.
type SigningConfig struct {
	KeyID          string `yaml:"key_id"`
	PrivateKeyFile string `yaml:"private_key_file"`
	PublicKeyFile  string `yaml:"public_key_file"`
}

// CapabilityConfig bounds token lifetimes. All TTL values are minutes.
type CapabilityConfig struct {
	TTLDefaultMinutes int `yaml:"ttl_default_minutes"`
	TTLMinMinutes     int `yaml:"ttl_min_minutes"`
	TTLMaxMinutes     int `yaml:"ttl_max_minutes"`
	LeewaySeconds     int `yaml:"leeway_seconds"`
}

// AuditConfig caps export sizes.
type AuditConfig struct {
	ExportMaxRows int `yaml:"export_max_rows"`
}

// RateLimitConfig selects the counter backend. "memory" is single-node
// only; "redis" shares windows across replicas.
type RateLimitConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// Config holds all service parameters. BootstrapToken guards workspace
// creation; when empty the bootstrap endpoint is disabled.
type Config struct {
	Listen         string              `yaml:"listen"`
	DBPath         string              `yaml:"db_path"`
	BootstrapToken string              `yaml:"bootstrap_token"`
	Signing        SigningConfig       `yaml:"signing"`
	Capability     CapabilityConfig    `yaml:"capability"`
	Audit          AuditConfig         `yaml:"audit"`
	RateLimit      RateLimitConfig     `yaml:"rate_limit"`
	Alerts         []alert.AlertConfig `yaml:"alerts"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "kya.db",
		Capability: CapabilityConfig{
			TTLDefaultMinutes: 15,
			TTLMinMinutes:     5,
			TTLMaxMinutes:     30,
			LeewaySeconds:     30,
		},
		Audit: AuditConfig{
			ExportMaxRows: 10000,
		},
		RateLimit: RateLimitConfig{
			Backend:   "memory",
			RedisAddr: "localhost:6379",
		},
	}
}

// LoadConfig loads configuration from a YAML file.
// Empty path falls back to ~/.kya/config.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return DefaultConfig(), nil
		}
		path = filepath.Join(home, ".kya", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the kernel cannot run with. Signing
// keys are checked at load time by the server, not here, so tests can
// build configs without key material.
func (c *Config) Validate() error {
	cap := c.Capability
	if cap.TTLMinMinutes <= 0 || cap.TTLMaxMinutes < cap.TTLMinMinutes {
		return fmt.Errorf("config: capability TTL bounds invalid: min=%d max=%d", cap.TTLMinMinutes, cap.TTLMaxMinutes)
	}
	if cap.TTLDefaultMinutes < cap.TTLMinMinutes || cap.TTLDefaultMinutes > cap.TTLMaxMinutes {
		return fmt.Errorf("config: capability default TTL %d outside [%d, %d]", cap.TTLDefaultMinutes, cap.TTLMinMinutes, cap.TTLMaxMinutes)
	}
	if c.Audit.ExportMaxRows <= 0 {
		return fmt.Errorf("config: audit export_max_rows must be positive")
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown rate limit backend %q", c.RateLimit.Backend)
	}
	for i, a := range c.Alerts {
		if a.URL == "" {
			return fmt.Errorf("config: alerts[%d] missing url", i)
		}
	}
	return nil
}
