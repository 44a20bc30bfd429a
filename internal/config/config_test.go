// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.DefaultModel != "gpt-4o" {
		t.Errorf("DefaultModel = %q, want gpt-4o", cfg.DefaultModel)
	}
	if cfg.Chat.Temperature != 0.6 {
		t.Errorf("Temperature = %v, want 0.6", cfg.Chat.Temperature)
	}
	if cfg.Chat.MaxTokens != 4000 {
		t.Errorf("MaxTokens = %d, want 4000", cfg.Chat.MaxTokens)
	}
	if cfg.API.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v, want 60s", cfg.API.Timeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestSaveAndLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	cfg.DefaultModel = "claude-3.5-sonnet"
	cfg.Chat.MaxTokens = 2048

	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if loaded.DefaultModel != "claude-3.5-sonnet" {
		t.Errorf("DefaultModel = %q, want claude-3.5-sonnet", loaded.DefaultModel)
	}
	if loaded.Chat.MaxTokens != 2048 {
		t.Errorf("MaxTokens = %d, want 2048", loaded.Chat.MaxTokens)
	}
	// Unset fields fill from defaults.
	if loaded.Embedding.Model != "nomic-embed-text" {
		t.Errorf("Embedding.Model = %q, want default", loaded.Embedding.Model)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	os.Setenv("SERVE_MODEL", "gpt-4")
	os.Setenv("SERVE_MAX_TOKENS", "1234")
	defer os.Unsetenv("SERVE_MODEL")
	defer os.Unsetenv("SERVE_MAX_TOKENS")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.DefaultModel != "gpt-4" {
		t.Errorf("DefaultModel = %q, want gpt-4", cfg.DefaultModel)
	}
	if cfg.Chat.MaxTokens != 1234 {
		t.Errorf("MaxTokens = %d, want 1234", cfg.Chat.MaxTokens)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Chat.Temperature = 3.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for out-of-range temperature")
	}

	cfg = Default()
	cfg.Chat.MaxTokens = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero max_tokens")
	}
}

func TestDataDir(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = "/custom/path"
	dir, err := cfg.DataDir()
	if err != nil {
		t.Fatalf("DataDir: %v", err)
	}
	if dir != "/custom/path" {
		t.Errorf("DataDir = %q, want /custom/path", dir)
	}
}
