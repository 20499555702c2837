// Package config loads the node's TOML configuration, creating a default
// file (and validator keystore) on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"attestchain/crypto"
)

// Duration wraps time.Duration so it can be written as "5s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Validator is one committee member entry. Policy selects the offline
// decision backend ("approve", "reject" or "abstain") used when no external
// decider is wired in.
type Validator struct {
	ID          string `toml:"ID"`
	DisplayName string `toml:"DisplayName"`
	Policy      string `toml:"Policy"`
}

// Config is the full node configuration.
type Config struct {
	DataDir      string `toml:"DataDir"`
	KeystorePath string `toml:"KeystorePath"`

	BlockInterval Duration `toml:"BlockInterval"`
	MaxBlockTxs   int      `toml:"MaxBlockTxs"`
	BlockGasLimit uint64   `toml:"BlockGasLimit"`
	MaxPoolSize   int      `toml:"MaxPoolSize"`

	Quorum         int      `toml:"Quorum"`
	RoundTimeout   Duration `toml:"RoundTimeout"`
	DeciderTimeout Duration `toml:"DeciderTimeout"`

	Validators []Validator `toml:"Validators"`
}

// Load reads the configuration at path, creating a default file when none
// exists, and validates it.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if cfg.KeystorePath == "" {
		cfg.KeystorePath = defaultKeystorePath(path)
	}
	if err := ensureKeystore(cfg.KeystorePath); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the structural constraints a runnable node needs.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must not be empty")
	}
	if c.MaxPoolSize <= 0 {
		return fmt.Errorf("MaxPoolSize must be positive, got %d", c.MaxPoolSize)
	}
	if c.MaxBlockTxs <= 0 {
		return fmt.Errorf("MaxBlockTxs must be positive, got %d", c.MaxBlockTxs)
	}
	if c.BlockInterval.Duration <= 0 {
		return fmt.Errorf("BlockInterval must be positive")
	}
	if c.RoundTimeout.Duration <= 0 {
		return fmt.Errorf("RoundTimeout must be positive")
	}
	if c.DeciderTimeout.Duration <= 0 {
		return fmt.Errorf("DeciderTimeout must be positive")
	}
	if len(c.Validators) == 0 {
		return fmt.Errorf("at least one validator is required")
	}
	if c.Quorum <= 0 || c.Quorum > len(c.Validators) {
		return fmt.Errorf("Quorum %d is outside the committee size %d", c.Quorum, len(c.Validators))
	}
	seen := make(map[string]bool, len(c.Validators))
	for _, v := range c.Validators {
		if strings.TrimSpace(v.ID) == "" {
			return fmt.Errorf("validator with empty ID")
		}
		if seen[v.ID] {
			return fmt.Errorf("duplicate validator ID %q", v.ID)
		}
		seen[v.ID] = true
		switch v.Policy {
		case "approve", "reject", "abstain":
		default:
			return fmt.Errorf("validator %s has unknown policy %q", v.ID, v.Policy)
		}
	}
	return nil
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "validator.keystore")
}

func ensureKeystore(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	return crypto.SaveToKeystore(path, key, "")
}

// createDefault writes a runnable default configuration with a six-member
// committee and a 4-of-6 quorum, then loads it.
func createDefault(path string) (*Config, error) {
	keystorePath := defaultKeystorePath(path)
	if err := ensureKeystore(keystorePath); err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:        "./attest-data",
		KeystorePath:   keystorePath,
		BlockInterval:  Duration{5 * time.Second},
		MaxBlockTxs:    200,
		BlockGasLimit:  10_000_000,
		MaxPoolSize:    4096,
		Quorum:         4,
		RoundTimeout:   Duration{10 * time.Second},
		DeciderTimeout: Duration{3 * time.Second},
		Validators: []Validator{
			{ID: "val-1", DisplayName: "Aurelia", Policy: "approve"},
			{ID: "val-2", DisplayName: "Brutus", Policy: "approve"},
			{ID: "val-3", DisplayName: "Cassia", Policy: "approve"},
			{ID: "val-4", DisplayName: "Decimus", Policy: "approve"},
			{ID: "val-5", DisplayName: "Elara", Policy: "abstain"},
			{ID: "val-6", DisplayName: "Felix", Policy: "abstain"},
		},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
