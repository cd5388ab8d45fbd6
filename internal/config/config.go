// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/morganforge/converse-tui/internal/util"
)

// =============================================================================
// CONFIG STRUCTURE
// =============================================================================

// Config is the full client configuration, loaded from
// ~/.converse/config.toml with environment overrides applied last.
type Config struct {
	Server  ServerConfig  `toml:"server" json:"server"`
	Chat    ChatConfig    `toml:"chat" json:"chat"`
	UI      UIConfig      `toml:"ui" json:"ui"`
	History HistoryConfig `toml:"history" json:"history"`
}

// ServerConfig describes the backend the client talks to.
type ServerConfig struct {
	// BaseURL is the API root, e.g. "https://api.example.com/api".
	BaseURL string `toml:"base_url" json:"base_url"`
	// Token is the bearer token. Prefer TokenFile or the
	// CONVERSE_TOKEN environment variable over storing it here.
	Token string `toml:"token" json:"token"`
	// TokenFile points to a file holding the bearer token.
	TokenFile string `toml:"token_file" json:"token_file"`
	// TimeoutSecs bounds non-streaming requests.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
}

// ChatConfig holds per-conversation defaults.
type ChatConfig struct {
	// Provider and Model select the default model for new conversations.
	Provider string `toml:"provider" json:"provider"`
	Model    string `toml:"model" json:"model"`
	// SystemPrompt is sent when creating a conversation, if set.
	SystemPrompt string `toml:"system_prompt" json:"system_prompt"`
	// IdleTimeoutSecs aborts a stream when no bytes arrive for this
	// long. Zero disables the watchdog.
	IdleTimeoutSecs int `toml:"idle_timeout_secs" json:"idle_timeout_secs"`
}

// UIConfig contains terminal UI settings.
type UIConfig struct {
	// Theme is "dark", "light", or "auto".
	Theme string `toml:"theme" json:"theme"`
	// Markdown renders completed assistant replies as markdown.
	Markdown bool `toml:"markdown" json:"markdown"`
	// ShowStats displays response timing in the status line.
	ShowStats bool `toml:"show_stats" json:"show_stats"`
	// LogLevel is the file log level: "debug", "info", "warn", "error".
	LogLevel string `toml:"log_level" json:"log_level"`
}

// HistoryConfig controls the local conversation cache.
type HistoryConfig struct {
	// Dir overrides the default ~/.converse/history location.
	Dir string `toml:"dir" json:"dir"`
	// MaxConversations caps locally cached conversations; oldest are
	// pruned first. Zero means unlimited.
	MaxConversations int `toml:"max_conversations" json:"max_conversations"`
}

// =============================================================================
// DEFAULTS AND PATHS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:     "http://127.0.0.1:8080/api",
			TimeoutSecs: 30,
		},
		Chat: ChatConfig{
			Provider:        "openai",
			Model:           "gpt-4o-mini",
			IdleTimeoutSecs: 90,
		},
		UI: UIConfig{
			Theme:     "auto",
			Markdown:  true,
			ShowStats: true,
			LogLevel:  "info",
		},
		History: HistoryConfig{
			MaxConversations: 200,
		},
	}
}

// Dir returns the converse configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".converse"), nil
}

// Path returns the path to the TOML config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// RequestTimeout returns the non-streaming request timeout.
func (c *Config) RequestTimeout() time.Duration {
	if c.Server.TimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Server.TimeoutSecs) * time.Second
}

// IdleTimeout returns the streaming idle watchdog window.
func (c *Config) IdleTimeout() time.Duration {
	if c.Chat.IdleTimeoutSecs <= 0 {
		return 0
	}
	return time.Duration(c.Chat.IdleTimeoutSecs) * time.Second
}

// HistoryDir returns the conversation cache directory.
func (c *Config) HistoryDir() (string, error) {
	if c.History.Dir != "" {
		return c.History.Dir, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history"), nil
}

// =============================================================================
// LOAD AND SAVE
// =============================================================================

// Load reads the config file, falls back to defaults when absent, and
// applies environment overrides last.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file. A missing
// file is not an error; defaults are used.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		ensureSecurePermissions(path)
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the config atomically with owner-only permissions.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0600)
}

// ApplyEnvOverrides applies CONVERSE_* environment variables on top of
// the loaded values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CONVERSE_BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("CONVERSE_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("CONVERSE_MODEL"); v != "" {
		c.Chat.Model = v
	}
	if v := os.Getenv("CONVERSE_LOG_LEVEL"); v != "" {
		c.UI.LogLevel = v
	}
}

// ensureSecurePermissions tightens config file permissions to 0600 so
// a stored token is not world-readable.
func ensureSecurePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm() != 0600 {
		os.Chmod(path, 0600)
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid config field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config field %s: %s", e.Field, e.Message)
}

// Validate checks the configuration for values that would break the
// client at runtime.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return ValidationError{Field: "server.base_url", Message: "must not be empty"}
	}
	if !strings.HasPrefix(c.Server.BaseURL, "http://") && !strings.HasPrefix(c.Server.BaseURL, "https://") {
		return ValidationError{Field: "server.base_url", Message: "must start with http:// or https://"}
	}
	switch c.UI.Theme {
	case "dark", "light", "auto":
	default:
		return ValidationError{Field: "ui.theme", Message: "must be dark, light, or auto"}
	}
	switch c.UI.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return ValidationError{Field: "ui.log_level", Message: "must be debug, info, warn, or error"}
	}
	if c.Server.TimeoutSecs < 0 {
		return ValidationError{Field: "server.timeout_secs", Message: "must not be negative"}
	}
	if c.Chat.IdleTimeoutSecs < 0 {
		return ValidationError{Field: "chat.idle_timeout_secs", Message: "must not be negative"}
	}
	return nil
}

// =============================================================================
// GLOBAL ACCESS
// =============================================================================

var (
	globalMu     sync.RWMutex
	globalConfig *Config
)

// Global returns the process-wide config, loading it on first use.
func Global() *Config {
	globalMu.RLock()
	if globalConfig != nil {
		defer globalMu.RUnlock()
		return globalConfig
	}
	globalMu.RUnlock()

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		globalConfig = cfg
	}
	return globalConfig
}

// SetGlobal replaces the process-wide config.
func SetGlobal(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting clears the global config between tests.
func ResetGlobalForTesting() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = nil
}
