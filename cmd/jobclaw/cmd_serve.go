package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/jobclaw/internal/delivery"
	"github.com/user/jobclaw/internal/httpapi"
	"github.com/user/jobclaw/internal/relay"
	"github.com/user/jobclaw/internal/scheduler"
	"github.com/user/jobclaw/internal/state"
	"github.com/user/jobclaw/internal/telegram"
	"github.com/user/jobclaw/internal/types"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the jobclaw relay daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "jobclaw.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	st, err := openStores(cfg)
	if err != nil {
		return err
	}

	// Write PID file
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Delivery registry routes resolved replies back to their front-end.
	// Jobs re-attached after a restart have no live completion callback and
	// resolve through the relay's default deliver path, which looks up the
	// session key and hands the reply to the matching handler.
	deliveryReg := delivery.NewRegistry()

	r := buildRelay(cfg, st, relay.WithDefaultDeliver(func(sessionID types.SessionID, reply string) {
		sess, err := st.sessions.Get(ctx, sessionID)
		if err != nil {
			slog.Error("deliver: session lookup failed", "session_id", sessionID, "error", err)
			return
		}
		if err := deliveryReg.Deliver(ctx, sess.SessionKey, reply); err != nil {
			slog.Warn("deliver: no route for reply", "session_key", sess.SessionKey, "error", err)
		}
	}))

	r.Start(ctx)
	defer r.Stop()

	slog.Info("jobclaw started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"server_url", cfg.Server.BaseURL,
		"pid_file", pidPath,
	)

	g, gctx := errgroup.WithContext(ctx)

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, r, st.sessions, st.transcript, st.pending)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		adapter.Register(deliveryReg)
		g.Go(func() error {
			adapter.Start(gctx)
			return nil
		})
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// Scheduled task replies have no chat waiting for them; log and drop.
	deliveryReg.Register("task:", func(_ context.Context, sessionKey types.SessionKey, reply string) error {
		slog.Info("task reply", "session_key", sessionKey, "reply", delivery.RenderText(reply))
		return nil
	})

	// CLI sessions resolved while the daemon owns the marker are logged;
	// the transcript holds the reply for `jobclaw session show`.
	deliveryReg.Register("cli:", func(_ context.Context, sessionKey types.SessionKey, _ string) error {
		slog.Info("cli reply recorded", "session_key", sessionKey)
		return nil
	})

	// Jobs left in flight by the previous process re-attach and resolve
	// through the default deliver path.
	if n, err := r.ResumePending(ctx); err != nil {
		slog.Warn("resume pending jobs failed", "error", err)
	} else if n > 0 {
		slog.Info("resumed pending jobs", "count", n)
	}

	// Scheduler fires task prompts as jobs.
	sched := scheduler.New(st.tasks, func(task *state.Task) (types.JobID, error) {
		inbound := &types.InboundMessage{
			Source:     "task",
			SessionKey: task.SessionKey,
			UserID:     "system",
			Text:       task.Prompt,
		}
		job, err := r.HandleInbound(ctx, inbound)
		if err != nil {
			return "", err
		}
		return job.JobID, nil
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()
	slog.Info("scheduler started")

	// Local HTTP API
	apiSrv := httpapi.NewServer(r, st.sessions, st.transcript, r.Client(), st.tasks)
	httpServer := &http.Server{
		Addr:    cfg.Serve.Addr,
		Handler: apiSrv,
	}
	g.Go(func() error {
		slog.Info("http api started", "listen", cfg.Serve.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return httpServer.Close()
	})
	defer func() {
		cancel()
		if err := g.Wait(); err != nil {
			slog.Warn("shutdown", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
