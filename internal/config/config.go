// Package config handles application configuration from an optional YAML
// file and environment variables. Environment variables win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Defaults used when neither the file nor the environment sets a value.
const (
	DefaultSeenCap    = 500
	DefaultFetchLimit = 30
	DefaultRetryMax   = 5
)

// Config holds the application configuration.
type Config struct {
	// BaseDir holds the watch registry, the sink files, and the ledgers.
	BaseDir      string `yaml:"base_dir"`
	RegistryFile string `yaml:"registry_file"`
	ArchivePath  string `yaml:"archive_path"`
	LogLevel     string `yaml:"log_level"`

	SeenCap    int `yaml:"seen_cap"`
	FetchLimit int `yaml:"fetch_limit"`
	RetryMax   int `yaml:"retry_max"`

	TelegramChatID int64 `yaml:"telegram_chat_id"`

	// Tokens come from the environment only, never from the file.
	GmailToken    string `yaml:"-"`
	SlackToken    string `yaml:"-"`
	TelegramToken string `yaml:"-"`
}

// Load reads the YAML file at path (optional, "" means skip) and applies
// environment overrides. A missing file is not an error; an unreadable or
// unparsable one is.
func Load(path string) (*Config, error) {
	cfg := &Config{
		RegistryFile: "email-watches.md",
		LogLevel:     "info",
		SeenCap:      DefaultSeenCap,
		FetchLimit:   DefaultFetchLimit,
		RetryMax:     DefaultRetryMax,
	}

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// Absent config file means defaults plus environment.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("INBOXWATCH_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if cfg.BaseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.BaseDir = filepath.Join(home, ".inboxwatch")
	}
	if v := os.Getenv("INBOXWATCH_ARCHIVE_PATH"); v != "" {
		cfg.ArchivePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("INBOXWATCH_SEEN_CAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid INBOXWATCH_SEEN_CAP %q: %w", v, err)
		}
		cfg.SeenCap = n
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", v, err)
		}
		cfg.TelegramChatID = id
	}

	cfg.GmailToken = os.Getenv("GMAIL_ACCESS_TOKEN")
	cfg.SlackToken = os.Getenv("SLACK_TOKEN")
	cfg.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	return cfg, nil
}

// RegistryPath returns the absolute path of the watch registry file.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.BaseDir, c.RegistryFile)
}

// LedgerPath returns the state file path for the given source.
func (c *Config) LedgerPath(source string) string {
	return filepath.Join(c.BaseDir, source+"-poller-state.json")
}

// TaskInboxPath returns the pending-task list path.
func (c *Config) TaskInboxPath() string {
	return filepath.Join(c.BaseDir, "task-inbox.md")
}

// DailyDir returns the directory holding the date-partitioned daily logs.
func (c *Config) DailyDir() string {
	return filepath.Join(c.BaseDir, "daily")
}
