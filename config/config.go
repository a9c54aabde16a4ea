package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/cfdledger/engine"
	"github.com/rustyeddy/cfdledger/internal/logger"
	"github.com/rustyeddy/cfdledger/market"
	"github.com/rustyeddy/cfdledger/notify"
	"github.com/rustyeddy/cfdledger/risk"
)

// Config represents the complete ledger configuration
type Config struct {
	Accounts    []engine.AccountSpec    `json:"accounts" yaml:"accounts"`
	Risk        risk.Policy             `json:"risk" yaml:"risk"`
	Commission  engine.Commission       `json:"commission" yaml:"commission"`
	Instruments []market.InstrumentMeta `json:"instruments,omitempty" yaml:"instruments,omitempty"`
	Journal     JournalConfig           `json:"journal" yaml:"journal"`
	Logging     LoggingConfig           `json:"logging" yaml:"logging"`
	Notify      NotifyConfig            `json:"notify" yaml:"notify"`
	API         APIConfig               `json:"api" yaml:"api"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type             string `json:"type" yaml:"type"` // "csv", "sqlite" or "none"
	TransactionsFile string `json:"transactions_file,omitempty" yaml:"transactions_file,omitempty"`
	SnapshotsFile    string `json:"snapshots_file,omitempty" yaml:"snapshots_file,omitempty"`
	AlertsFile       string `json:"alerts_file,omitempty" yaml:"alerts_file,omitempty"`
	DBPath           string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// LoggingConfig selects the log level and an optional rotated file
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
}

// NotifyConfig controls alert delivery. Redis is used when Redis.Addr is set.
type NotifyConfig struct {
	Buffer int                `json:"buffer" yaml:"buffer"`
	Log    bool               `json:"log" yaml:"log"`
	Redis  notify.RedisConfig `json:"redis" yaml:"redis"`
}

// APIConfig contains the read API listen address
type APIConfig struct {
	Listen string `json:"listen" yaml:"listen"`
}

var logLevels = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}

// LoadFromFile loads configuration from a YAML or JSON file. Sections missing
// from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("failed to parse config (tried YAML and JSON): yaml=%v, json=%v", err, jsonErr)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (format determined by extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("accounts[%d].id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("accounts[%d]: duplicate account id %q", i, a.ID)
		}
		seen[a.ID] = true
		if strings.TrimSpace(a.Currency) == "" {
			return fmt.Errorf("accounts[%d].currency is required", i)
		}
		if a.Deposit < 0 {
			return fmt.Errorf("accounts[%d].deposit must not be negative", i)
		}
	}

	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk.%w", err)
	}

	if c.Commission.PerLot < 0 || c.Commission.Rate < 0 {
		return fmt.Errorf("commission.per_lot and commission.rate must not be negative")
	}

	for i, m := range c.Instruments {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("instruments[%d]: %w", i, err)
		}
	}

	switch c.Journal.Type {
	case "csv":
		if c.Journal.TransactionsFile == "" || c.Journal.SnapshotsFile == "" || c.Journal.AlertsFile == "" {
			return fmt.Errorf("journal.type csv requires transactions_file, snapshots_file and alerts_file")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal.type sqlite requires db_path")
		}
	case "", "none":
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'none'")
	}

	if !logLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}

	if c.Notify.Buffer < 0 {
		return fmt.Errorf("notify.buffer must not be negative")
	}

	return nil
}

// Registry returns the built-in instrument catalogue with the configured
// instruments added or replaced.
func (c *Config) Registry() (*market.Registry, error) {
	reg := market.DefaultRegistry()
	for _, m := range c.Instruments {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoggerOptions converts the logging section for the logger package.
func (c *Config) LoggerOptions(service string) logger.Options {
	return logger.Options{
		Level:      c.Logging.Level,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Service:    service,
	}
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Accounts: []engine.AccountSpec{
			{ID: "ACC-001", Customer: "demo", Currency: "USD", Deposit: 100000},
		},
		Risk: risk.DefaultPolicy(),
		Journal: JournalConfig{
			Type:             "csv",
			TransactionsFile: "./transactions.csv",
			SnapshotsFile:    "./snapshots.csv",
			AlertsFile:       "./alerts.csv",
		},
		Logging: LoggingConfig{Level: "info"},
		Notify: NotifyConfig{
			Buffer: notify.DefaultBuffer,
			Log:    true,
		},
		API: APIConfig{Listen: ":8080"},
	}
}
