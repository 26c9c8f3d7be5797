package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/jobclaw/internal/config"
	"github.com/user/jobclaw/internal/relay"
	"github.com/user/jobclaw/internal/state"
	"github.com/user/jobclaw/internal/tokens"
	"github.com/user/jobclaw/pkg/jobapi"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "jobclaw",
	Short:         "Chat-job client: submit messages, stream replies, relay for bots",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath,
		"config",
		filepath.Join(os.Getenv("HOME"), ".jobclaw", "config.json"),
		"config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file, exiting on failure. Commands call this
// at the top of their Run functions.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// stores bundles the file-backed state opened under the config's data dir.
type stores struct {
	sessions   *state.SessionStore
	transcript *state.TranscriptStore
	pending    *state.PendingStore
	tasks      *state.TaskStore
}

func openStores(cfg *config.Config) (*stores, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &stores{
		sessions:   state.NewSessionStore(cfg.DataDir),
		transcript: state.NewTranscriptStore(cfg.DataDir),
		pending:    state.NewPendingStore(cfg.DataDir),
		tasks:      state.NewTaskStore(filepath.Join(cfg.DataDir, "tasks.json")),
	}, nil
}

// buildRelay wires the stores, API client, and relay from the config.
func buildRelay(cfg *config.Config, st *stores, extra ...relay.Option) *relay.Relay {
	api := jobapi.New(cfg.Server.BaseURL,
		jobapi.WithToken(cfg.Server.Token),
		jobapi.WithTimeout(time.Duration(cfg.Server.TimeoutSeconds)*time.Second),
	)
	client := relay.NewAPIClient(api)

	opts := []relay.Option{
		relay.WithConcurrency(int64(cfg.MaxConcurrent)),
	}
	if cfg.Stream.FlushIntervalMs > 0 {
		opts = append(opts, relay.WithFlushInterval(time.Duration(cfg.Stream.FlushIntervalMs)*time.Millisecond))
	}
	if est, err := tokens.New(cfg.Stream.TokenModel); err == nil {
		opts = append(opts, relay.WithTokenEstimator(est.Count))
	} else {
		slog.Debug("token estimator unavailable", "model", cfg.Stream.TokenModel, "error", err)
	}
	opts = append(opts, extra...)

	return relay.New(st.sessions, st.transcript, st.pending, client, opts...)
}
