package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/jobclaw/internal/relay"
)

func init() {
	rootCmd.AddCommand(attachCmd)
	attachCmd.Flags().Bool("quiet", false, "suppress progress output, print only replies")
}

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Re-attach to jobs left in flight by a previous run",
	Args:  cobra.NoArgs,
	RunE:  runAttach,
}

func runAttach(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	r := buildRelay(cfg, st)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r.Start(ctx)
	defer r.Stop()

	quiet, _ := cmd.Flags().GetBool("quiet")

	progress := newProgressPrinter(quiet)

	// Completions may land before ResumePending returns, so they are
	// counted through a buffered channel rather than a WaitGroup.
	completed := make(chan struct{}, 64)

	n, err := r.ResumePending(ctx,
		relay.WithOnUpdate(progress.apply),
		relay.WithOnComplete(func(reply string) {
			progress.finish(reply)
			completed <- struct{}{}
		}),
	)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintln(os.Stderr, "No pending jobs.")
		return nil
	}
	if !quiet {
		fmt.Fprintf(os.Stderr, "re-attached to %d pending job(s)\n", n)
	}

	for i := 0; i < n; i++ {
		select {
		case <-completed:
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\ninterrupted; remaining jobs can be resumed with `jobclaw attach`")
			return nil
		}
	}
	return nil
}
