package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	Server        struct {
		BaseURL        string `json:"base_url"`
		Token          string `json:"token"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"server"`
	Stream struct {
		FlushIntervalMs int    `json:"flush_interval_ms"`
		TokenModel      string `json:"token_model"`
	} `json:"stream"`
	Serve struct {
		Addr string `json:"addr"`
	} `json:"serve"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
}

func defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".jobclaw"),
		MaxConcurrent: 2,
	}
	cfg.LogLevel = "info"
	cfg.Server.BaseURL = "http://localhost:8787"
	cfg.Server.TimeoutSeconds = 30
	cfg.Stream.FlushIntervalMs = 50
	cfg.Stream.TokenModel = "gpt-4o"
	cfg.Serve.Addr = "127.0.0.1:8790"
	return cfg
}

// loadFile layers the config file over the defaults without applying env
// overrides. The file is created with defaults if it does not exist.
func loadFile(path string) (*Config, error) {
	cfg := defaults()
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func Load(path string) (*Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}

	// Override from env (highest precedence)
	if baseURL := os.Getenv("JOBCLAW_SERVER_URL"); baseURL != "" {
		cfg.Server.BaseURL = baseURL
	}
	if token := os.Getenv("JOBCLAW_API_TOKEN"); token != "" {
		cfg.Server.Token = token
	}
	if dataDir := os.Getenv("JOBCLAW_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}

	return cfg, nil
}

// Save writes the config to path atomically, creating parent directories.
func Save(path string, cfg *Config) error {
	return writeDefaults(path, cfg)
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
