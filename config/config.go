package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress   string `toml:"RPCAddress"`
	RPCAuthToken string `toml:"RPCAuthToken"`
	DataDir      string `toml:"DataDir"`
	GenesisFile  string `toml:"GenesisFile"`

	Log      LogConfig      `toml:"log"`
	Lending  LendingConfig  `toml:"lending"`
	Donation DonationConfig `toml:"donation"`
}

type LogConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
}

type LendingConfig struct {
	Rounds      uint32 `toml:"Rounds"`
	InterestBps uint32 `toml:"InterestBps"`
}

type DonationConfig struct {
	FeeBps uint32 `toml:"FeeBps"`
}

// Load reads the configuration at path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults(path string) {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = "127.0.0.1:8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = filepath.Join(filepath.Dir(path), "data")
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups < 0 {
		c.Log.MaxBackups = 0
	}
	if c.Lending.Rounds == 0 {
		c.Lending.Rounds = 4
	}
	if c.Lending.InterestBps == 0 {
		c.Lending.InterestBps = 500
	}
	if c.Donation.FeeBps == 0 {
		c.Donation.FeeBps = 100
	}
}

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	if c.Donation.FeeBps > 1000 {
		return fmt.Errorf("config: donation FeeBps %d exceeds the 1000 cap", c.Donation.FeeBps)
	}
	if c.Lending.InterestBps > 10000 {
		return fmt.Errorf("config: lending InterestBps %d exceeds 10000", c.Lending.InterestBps)
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults(path)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
