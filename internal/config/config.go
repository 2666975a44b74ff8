package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the explicit configuration of the daemon. Everything the
// orchestrator needs is passed through this structure; nothing is read from
// ambient process state after startup.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Network NetworkConfig `json:"network"`
	Wallet  WalletConfig  `json:"wallet"`
	Funding FundingConfig `json:"funding"`
	Fees    FeesConfig    `json:"fees"`
	Journal JournalConfig `json:"journal"`
}

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths"`
	Rotation    RotationConfig `json:"rotation"`
}

// RotationConfig rotates file outputs by size. Stdout and stderr are never
// rotated.
type RotationConfig struct {
	Enabled    bool `json:"enabled"`
	MaxSizeMB  int  `json:"max_size_mb"`
	MaxBackups int  `json:"max_backups"`
	MaxAgeDays int  `json:"max_age_days"`
}

// NetworkConfig selects the active network from the yaml definitions file.
// The selection is always explicit; the daemon never guesses a network.
type NetworkConfig struct {
	DefinitionsPath string `json:"definitions_path"`
	Active          string `json:"active"`
}

// WalletConfig describes the paying account.
type WalletConfig struct {
	// OwnerKeyHex is the hex-encoded private key owning the account.
	OwnerKeyHex string `json:"owner_key_hex"`
	// Derivation selects the strategy: "counterfactual" or "dev".
	Derivation string `json:"derivation"`
	// Salt discriminates multiple accounts of the same owner.
	Salt uint64 `json:"salt"`
	// InitCodeHex is the factory creation code prefix used by the
	// counterfactual derivation.
	InitCodeHex string `json:"init_code_hex"`
}

// FundingConfig describes the funding source and thresholds.
type FundingConfig struct {
	// SourceKeyHex is the hex-encoded private key of the funding source.
	SourceKeyHex string `json:"source_key_hex"`
	// MinBalanceWei is the funding threshold; empty means 0.01 ether.
	MinBalanceWei string `json:"min_balance_wei"`
	// BufferWei is the fee buffer added to every top-up; empty means
	// 0.001 ether.
	BufferWei string `json:"buffer_wei"`
	// TimeoutSeconds bounds funding confirmation waits; zero means 60.
	TimeoutSeconds int `json:"timeout_seconds"`
}

// FeesConfig tunes fee estimation.
type FeesConfig struct {
	FeeBumpGwei         uint64 `json:"fee_bump_gwei"`
	PriorityBumpPercent int64  `json:"priority_bump_percent"`
	TimeoutSeconds      int    `json:"timeout_seconds"`
}

// JournalConfig selects the submission journal backends.
type JournalConfig struct {
	Store  StoreConfig  `json:"store"`
	Queue  QueueConfig  `json:"queue"`
	Poller PollerConfig `json:"poller"`
}

// StoreConfig selects the journal store driver.
type StoreConfig struct {
	// Driver is "memory" or "mysql".
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// QueueConfig selects the confirmation queue driver.
type QueueConfig struct {
	// Driver is "memory", "redis" or "rabbitmq".
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig describes the Redis queue connection.
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig describes the RabbitMQ queue connection.
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// PollerConfig tunes the confirmation poller.
type PollerConfig struct {
	Workers        int `json:"workers"`
	RecheckSeconds int `json:"recheck_seconds"`
}

// Load parses the JSON configuration file at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Network.DefinitionsPath == "" {
		c.Network.DefinitionsPath = filepath.Join(baseDir, "networks.yaml")
	} else if !filepath.IsAbs(c.Network.DefinitionsPath) {
		c.Network.DefinitionsPath = filepath.Join(baseDir, c.Network.DefinitionsPath)
	}

	if c.Wallet.Derivation == "" {
		c.Wallet.Derivation = "counterfactual"
	}

	if c.Funding.TimeoutSeconds <= 0 {
		c.Funding.TimeoutSeconds = 60
	}
	if c.Fees.TimeoutSeconds <= 0 {
		c.Fees.TimeoutSeconds = 30
	}

	if c.Journal.Store.Driver == "" {
		c.Journal.Store.Driver = "memory"
	}
	if c.Journal.Queue.Driver == "" {
		c.Journal.Queue.Driver = "memory"
	}
	if c.Journal.Poller.Workers <= 0 {
		c.Journal.Poller.Workers = 1
	}
	if c.Journal.Poller.RecheckSeconds <= 0 {
		c.Journal.Poller.RecheckSeconds = 2
	}
}
