// Package config loads meli's YAML configuration the way the
// teacher's internal/config/config.go loads mail-server config:
// koanf defaults merged with an optional file, then validated.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for a meli instance.
type Config struct {
	Accounts  []AccountConfig `koanf:"accounts"`
	Logging   LoggingConfig   `koanf:"logging"`
	Sieve     SieveConfig     `koanf:"sieve"`
	Threading ThreadingConfig `koanf:"threading"`
	Worker    WorkerConfig    `koanf:"worker"`
}

// AccountKind selects which backend an account's messages live behind.
type AccountKind string

const (
	KindMaildir AccountKind = "maildir"
	KindIMAP    AccountKind = "imap"
)

// AccountConfig configures one mail account: exactly one of
// MaildirPath (Kind=maildir) or IMAP (Kind=imap) is meaningful.
type AccountConfig struct {
	Name        string      `koanf:"name"`
	Kind        AccountKind `koanf:"kind"`
	MaildirPath string      `koanf:"maildir_path"`
	IMAP        IMAPConfig  `koanf:"imap"`
	SievePath   string      `koanf:"sieve_path"` // optional; validated as an absolute path, not loaded by anything
}

// IMAPConfig holds connection and credential details for an IMAP
// account. Passwords are expected to be read from the environment or
// a secrets file by the caller and placed here at load time; this
// struct itself has no at-rest encryption or vault integration.
type IMAPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	UseTLS   bool   `koanf:"use_tls"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
	Output string `koanf:"output"` // stdout, stderr, or file path
}

// SieveConfig holds Sieve filtering configuration.
type SieveConfig struct {
	Enabled              bool   `koanf:"enabled"`
	MaxScriptSize        int    `koanf:"max_script_size"`
	MaxScriptsPerAccount int    `koanf:"max_scripts_per_account"`
	DBPath               string `koanf:"db_path"` // sqlite database backing stored scripts
}

// ThreadingConfig holds the default sort applied to built thread
// trees (internal/thread.SortKey).
type ThreadingConfig struct {
	SortField string `koanf:"sort_field"` // "date" or "subject"
	SortOrder string `koanf:"sort_order"` // "asc" or "desc"
}

// WorkerConfig holds the folder-load concurrency setting. It is
// validated here but the Maildir loader does not read it; that loader
// always runs one worker per CPU.
type WorkerConfig struct {
	FolderLoadConcurrency int `koanf:"folder_load_concurrency"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Sieve: SieveConfig{
			Enabled:              true,
			MaxScriptSize:        32768, // 32KB
			MaxScriptsPerAccount: 5,
			DBPath:               "meli-sieve.db",
		},
		Threading: ThreadingConfig{
			SortField: "date",
			SortOrder: "desc",
		},
		Worker: WorkerConfig{
			FolderLoadConcurrency: 4,
		},
	}
}

// Load reads configuration from a YAML file, returning defaults if no
// file exists at path.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i, acct := range c.Accounts {
		if acct.Name == "" {
			return fmt.Errorf("accounts[%d].name is required", i)
		}
		if seen[acct.Name] {
			return fmt.Errorf("accounts[%d].name %q is not unique", i, acct.Name)
		}
		seen[acct.Name] = true

		switch acct.Kind {
		case KindMaildir:
			if acct.MaildirPath == "" {
				return fmt.Errorf("accounts[%d].maildir_path is required for kind=maildir", i)
			}
			if !filepath.IsAbs(acct.MaildirPath) {
				return fmt.Errorf("accounts[%d].maildir_path must be an absolute path (got: %s)", i, acct.MaildirPath)
			}
		case KindIMAP:
			if acct.IMAP.Host == "" {
				return fmt.Errorf("accounts[%d].imap.host is required for kind=imap", i)
			}
			if acct.IMAP.Port < 1 || acct.IMAP.Port > 65535 {
				return fmt.Errorf("accounts[%d].imap.port must be between 1 and 65535 (got: %d)", i, acct.IMAP.Port)
			}
			if acct.IMAP.Username == "" {
				return fmt.Errorf("accounts[%d].imap.username is required for kind=imap", i)
			}
		default:
			return fmt.Errorf("accounts[%d].kind must be one of: maildir, imap (got: %q)", i, acct.Kind)
		}

		if acct.SievePath != "" && !filepath.IsAbs(acct.SievePath) {
			return fmt.Errorf("accounts[%d].sieve_path must be an absolute path (got: %s)", i, acct.SievePath)
		}
	}

	if c.Logging.Level != "" {
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[c.Logging.Level] {
			return fmt.Errorf("logging.level must be one of: debug, info, warn, error (got: %s)", c.Logging.Level)
		}
	}
	if c.Logging.Format != "" {
		validFormats := map[string]bool{"json": true, "text": true}
		if !validFormats[c.Logging.Format] {
			return fmt.Errorf("logging.format must be one of: json, text (got: %s)", c.Logging.Format)
		}
	}

	if c.Sieve.Enabled {
		if c.Sieve.MaxScriptSize < 1024 {
			return fmt.Errorf("sieve.max_script_size must be at least 1024 bytes")
		}
		if c.Sieve.MaxScriptsPerAccount < 1 {
			return fmt.Errorf("sieve.max_scripts_per_account must be at least 1")
		}
		if c.Sieve.DBPath == "" {
			return fmt.Errorf("sieve.db_path is required when sieve.enabled is true")
		}
	}

	validFields := map[string]bool{"date": true, "subject": true, "": true}
	if !validFields[c.Threading.SortField] {
		return fmt.Errorf("threading.sort_field must be one of: date, subject (got: %s)", c.Threading.SortField)
	}
	validOrders := map[string]bool{"asc": true, "desc": true, "": true}
	if !validOrders[c.Threading.SortOrder] {
		return fmt.Errorf("threading.sort_order must be one of: asc, desc (got: %s)", c.Threading.SortOrder)
	}

	if c.Worker.FolderLoadConcurrency < 1 {
		return fmt.Errorf("worker.folder_load_concurrency must be at least 1")
	}
	if c.Worker.FolderLoadConcurrency > 64 {
		return fmt.Errorf("worker.folder_load_concurrency cannot exceed 64")
	}

	return nil
}

// GetAccount returns the account configuration for a given name.
func (c *Config) GetAccount(name string) *AccountConfig {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i]
		}
	}
	return nil
}

// EnsureMaildirDirectories creates the maildir root for every
// Kind=maildir account that doesn't already exist on disk.
func (c *Config) EnsureMaildirDirectories() error {
	for _, acct := range c.Accounts {
		if acct.Kind != KindMaildir {
			continue
		}
		if err := os.MkdirAll(acct.MaildirPath, 0750); err != nil {
			return fmt.Errorf("failed to create maildir root %s: %w", acct.MaildirPath, err)
		}
	}
	return nil
}
