package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.json")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	path := tempConfigPath(t)

	original := &Config{
		DataDir:       "/tmp/test-data",
		LogLevel:      "debug",
		MaxConcurrent: 4,
	}
	original.Server.BaseURL = "https://jobs.example.com"
	original.Server.Token = "token-round-trip"
	original.Server.TimeoutSeconds = 15
	original.Stream.FlushIntervalMs = 100
	original.Stream.TokenModel = "gpt-4o"
	original.Serve.Addr = "127.0.0.1:9999"
	original.Telegram.Token = "bot-token-456"

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.DataDir != original.DataDir {
		t.Errorf("DataDir mismatch: %v != %v", loaded.DataDir, original.DataDir)
	}
	if loaded.LogLevel != original.LogLevel {
		t.Errorf("LogLevel mismatch: %v != %v", loaded.LogLevel, original.LogLevel)
	}
	if loaded.MaxConcurrent != original.MaxConcurrent {
		t.Errorf("MaxConcurrent mismatch: %v != %v", loaded.MaxConcurrent, original.MaxConcurrent)
	}
	if loaded.Server.BaseURL != original.Server.BaseURL {
		t.Errorf("Server.BaseURL mismatch: %v != %v", loaded.Server.BaseURL, original.Server.BaseURL)
	}
	if loaded.Server.Token != original.Server.Token {
		t.Errorf("Server.Token mismatch: %v != %v", loaded.Server.Token, original.Server.Token)
	}
	if loaded.Stream.FlushIntervalMs != original.Stream.FlushIntervalMs {
		t.Errorf("Stream.FlushIntervalMs mismatch: %v != %v", loaded.Stream.FlushIntervalMs, original.Stream.FlushIntervalMs)
	}
	if loaded.Telegram.Token != original.Telegram.Token {
		t.Errorf("Telegram.Token mismatch: %v != %v", loaded.Telegram.Token, original.Telegram.Token)
	}
}

func TestLoad_WritesDefaults(t *testing.T) {
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log_level=info, got %v", cfg.LogLevel)
	}
	if cfg.MaxConcurrent != 2 {
		t.Errorf("expected default max_concurrent=2, got %v", cfg.MaxConcurrent)
	}
	if cfg.Stream.FlushIntervalMs != 50 {
		t.Errorf("expected default flush_interval_ms=50, got %v", cfg.Stream.FlushIntervalMs)
	}

	// Default file was created and is valid JSON.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("default config is not valid JSON: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	t.Setenv("JOBCLAW_SERVER_URL", "https://env.example.com")
	t.Setenv("JOBCLAW_API_TOKEN", "env-token")
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-bot-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.BaseURL != "https://env.example.com" {
		t.Errorf("expected env server URL, got %v", cfg.Server.BaseURL)
	}
	if cfg.Server.Token != "env-token" {
		t.Errorf("expected env token, got %v", cfg.Server.Token)
	}
	if cfg.Telegram.Token != "env-bot-token" {
		t.Errorf("expected env bot token, got %v", cfg.Telegram.Token)
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{LogLevel: "info"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	tmpPath := path + ".tmp"
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}
}

func TestListValues_WithMask(t *testing.T) {
	cfg := &Config{LogLevel: "info"}
	cfg.Server.Token = "sk-secret-key-1234"
	cfg.Telegram.Token = "bot-token-abcd"

	flat, err := ListValues(cfg, true)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}

	if flat["server.token"] != "***1234" {
		t.Errorf("expected masked server.token=***1234, got %v", flat["server.token"])
	}
	if flat["telegram.token"] != "***abcd" {
		t.Errorf("expected masked telegram.token=***abcd, got %v", flat["telegram.token"])
	}
	if flat["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", flat["log_level"])
	}
}

func TestListValues_NoMask(t *testing.T) {
	cfg := &Config{LogLevel: "info"}
	cfg.Server.Token = "sk-secret-key-1234"

	flat, err := ListValues(cfg, false)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if flat["server.token"] != "sk-secret-key-1234" {
		t.Errorf("expected unmasked server.token, got %v", flat["server.token"])
	}
}

func TestGetValue(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{LogLevel: "debug", MaxConcurrent: 8}
	cfg.Server.BaseURL = "https://jobs.example.com"
	writeTestConfig(t, path, cfg)

	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "debug" {
		t.Errorf("expected log_level=debug, got %v", v)
	}

	v, err = GetValue(path, "server.base_url")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "https://jobs.example.com" {
		t.Errorf("expected server.base_url, got %v", v)
	}

	// JSON numbers are float64
	v, err = GetValue(path, "max_concurrent")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != float64(8) {
		t.Errorf("expected max_concurrent=8, got %v (%T)", v, v)
	}

	if _, err := GetValue(path, "nonexistent.key"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestSetValue(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{LogLevel: "info", MaxConcurrent: 2}
	cfg.Server.BaseURL = "https://jobs.example.com"
	writeTestConfig(t, path, cfg)

	if err := SetValue(path, "log_level", "debug"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatal(err)
	}
	if v != "debug" {
		t.Errorf("expected log_level=debug after set, got %v", v)
	}

	// Other values are preserved.
	v, err = GetValue(path, "server.base_url")
	if err != nil {
		t.Fatal(err)
	}
	if v != "https://jobs.example.com" {
		t.Errorf("expected server.base_url preserved, got %v", v)
	}

	// Numeric values are stored as numbers.
	if err := SetValue(path, "max_concurrent", "16"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	v, err = GetValue(path, "max_concurrent")
	if err != nil {
		t.Fatal(err)
	}
	if v != float64(16) {
		t.Errorf("expected max_concurrent=16, got %v (%T)", v, v)
	}
}
