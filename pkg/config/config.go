// Package config loads the server configuration from the environment.
package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime settings. Values come from the environment,
// optionally seeded from a .env file.
type Config struct {
	Port  string `env:"PORT"  envDefault:"8080"`
	Debug bool   `env:"DEBUG" envDefault:"false"`

	// ProofKey is the hex-encoded 32-byte secret used to open identity
	// proofs. Must match the key the account service seals with.
	ProofKey string `env:"PROOF_KEY,required"`

	APIKeys       []string `env:"API_KEYS"       envSeparator:","`
	AllowedOrigin string   `env:"ALLOWED_ORIGIN"`

	// EvictionGrace is how long a finished game stays in the registry
	// before the janitor removes it.
	EvictionGrace time.Duration `env:"EVICTION_GRACE" envDefault:"1h"`

	// ProofTTL is how long a consumed restore proof is remembered.
	ProofTTL time.Duration `env:"PROOF_TTL" envDefault:"24h"`

	proofKeyBytes []byte
}

// Load reads an optional .env file and parses the environment into a Config.
func Load() (*Config, error) {
	// A missing .env file is fine; production sets real env vars.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	key, err := hex.DecodeString(cfg.ProofKey)
	if err != nil {
		return nil, fmt.Errorf("decode PROOF_KEY: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("PROOF_KEY must be 32 bytes, got %d", len(key))
	}
	cfg.proofKeyBytes = key

	return cfg, nil
}

// ProofKeyBytes returns the decoded proof key.
func (c *Config) ProofKeyBytes() []byte {
	return c.proofKeyBytes
}
