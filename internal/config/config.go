// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for serve.
//
// Configuration lives in ~/.openclaw/config.toml with sensible defaults
// and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/openclaw/serve/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete serve configuration.
type Config struct {
	// DefaultModel is used when a turn does not name a model.
	DefaultModel string `toml:"default_model"`

	// DefaultPersona selects the system prompt for new conversations.
	DefaultPersona string `toml:"default_persona"`

	API       APIConfig       `toml:"api"`
	Auth      AuthConfig      `toml:"auth"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Storage   StorageConfig   `toml:"storage"`
	Chat      ChatConfig      `toml:"chat"`
}

// APIConfig holds the upstream chat API endpoints.
type APIConfig struct {
	// ChatBaseURL is the Copilot-compatible chat completion API base.
	ChatBaseURL string `toml:"chat_base_url"`

	// Timeout for non-streaming requests.
	Timeout time.Duration `toml:"-"`

	// TimeoutSeconds is the TOML-facing form of Timeout.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// AuthConfig holds the OAuth device-flow endpoints.
type AuthConfig struct {
	DeviceCodeURL   string `toml:"device_code_url"`
	AccessTokenURL  string `toml:"access_token_url"`
	RuntimeTokenURL string `toml:"runtime_token_url"`
}

// EmbeddingConfig holds the local embedding engine settings.
type EmbeddingConfig struct {
	// BaseURL of the local Ollama instance serving the embedding model.
	// Uses explicit IPv4 to avoid IPv6 resolution issues on Windows.
	BaseURL string `toml:"base_url"`

	// Model is the feature-extraction model name.
	Model string `toml:"model"`
}

// StorageConfig holds local persistence paths.
type StorageConfig struct {
	// DataDir is the root directory for the database and auth profile.
	// Empty means ~/.openclaw.
	DataDir string `toml:"data_dir"`
}

// ChatConfig holds per-turn sampling settings.
type ChatConfig struct {
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultModel:   "gpt-4o",
		DefaultPersona: "serve",
		API: APIConfig{
			ChatBaseURL:    "https://api.githubcopilot.com",
			Timeout:        60 * time.Second,
			TimeoutSeconds: 60,
		},
		Auth: AuthConfig{
			DeviceCodeURL:   "https://github.com/login/device/code",
			AccessTokenURL:  "https://github.com/login/oauth/access_token",
			RuntimeTokenURL: "https://api.github.com/copilot_internal/v2/token",
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://127.0.0.1:11434",
			Model:   "nomic-embed-text",
		},
		Storage: StorageConfig{},
		Chat: ChatConfig{
			Temperature: 0.6,
			MaxTokens:   4000,
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// Dir returns the serve configuration directory (~/.openclaw).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".openclaw"), nil
}

// Path returns the path to the TOML config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataDir resolves the storage root: explicit config value or ~/.openclaw.
func (c *Config) DataDir() (string, error) {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir, nil
	}
	return Dir()
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the config file if present, otherwise returns defaults.
// Environment overrides are applied in both cases.
func Load() (*Config, error) {
	cfg := Default()

	path, err := Path()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath reads configuration from an explicit path.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to its default location atomically.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the config to an explicit path atomically.
func SaveTo(cfg *Config, path string) error {
	var buf []byte
	{
		w := &tomlBuffer{}
		enc := toml.NewEncoder(w)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		buf = w.data
	}
	return util.AtomicWriteFile(path, buf, 0600)
}

// tomlBuffer is a minimal io.Writer for the TOML encoder.
type tomlBuffer struct {
	data []byte
}

func (b *tomlBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// =============================================================================
// DEFAULTS / OVERRIDES / VALIDATION
// =============================================================================

// SetDefaults fills any zero values with built-in defaults.
func (c *Config) SetDefaults() {
	def := Default()
	if c.DefaultModel == "" {
		c.DefaultModel = def.DefaultModel
	}
	if c.DefaultPersona == "" {
		c.DefaultPersona = def.DefaultPersona
	}
	if c.API.ChatBaseURL == "" {
		c.API.ChatBaseURL = def.API.ChatBaseURL
	}
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = def.API.TimeoutSeconds
	}
	c.API.Timeout = time.Duration(c.API.TimeoutSeconds) * time.Second
	if c.Auth.DeviceCodeURL == "" {
		c.Auth.DeviceCodeURL = def.Auth.DeviceCodeURL
	}
	if c.Auth.AccessTokenURL == "" {
		c.Auth.AccessTokenURL = def.Auth.AccessTokenURL
	}
	if c.Auth.RuntimeTokenURL == "" {
		c.Auth.RuntimeTokenURL = def.Auth.RuntimeTokenURL
	}
	if c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = def.Embedding.BaseURL
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = def.Embedding.Model
	}
	if c.Chat.Temperature == 0 {
		c.Chat.Temperature = def.Chat.Temperature
	}
	if c.Chat.MaxTokens <= 0 {
		c.Chat.MaxTokens = def.Chat.MaxTokens
	}
}

// ApplyEnvOverrides applies SERVE_* environment variables on top of the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if model := os.Getenv("SERVE_MODEL"); model != "" {
		c.DefaultModel = model
	}
	if persona := os.Getenv("SERVE_PERSONA"); persona != "" {
		c.DefaultPersona = persona
	}
	if url := os.Getenv("SERVE_CHAT_URL"); url != "" {
		c.API.ChatBaseURL = url
	}
	if url := os.Getenv("SERVE_OLLAMA_URL"); url != "" {
		c.Embedding.BaseURL = url
	}
	if dir := os.Getenv("SERVE_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}
	if maxTok := os.Getenv("SERVE_MAX_TOKENS"); maxTok != "" {
		if n, err := strconv.Atoi(maxTok); err == nil && n > 0 {
			c.Chat.MaxTokens = n
		}
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		return fmt.Errorf("chat temperature %v out of range [0, 2]", c.Chat.Temperature)
	}
	if c.Chat.MaxTokens < 1 {
		return fmt.Errorf("chat max_tokens must be positive, got %d", c.Chat.MaxTokens)
	}
	return nil
}
