package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/jobclaw/internal/relay"
	"github.com/user/jobclaw/internal/types"
	"github.com/user/jobclaw/pkg/jobapi"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show authoritative job status, or all pending jobs when no id is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	ctx := context.Background()

	if len(args) == 0 {
		st, err := openStores(cfg)
		if err != nil {
			return err
		}
		jobs, err := st.pending.List(ctx)
		if err != nil {
			return fmt.Errorf("list pending jobs: %w", err)
		}
		if len(jobs) == 0 {
			fmt.Println("No pending jobs.")
			return nil
		}
		for _, job := range jobs {
			fmt.Fprintf(os.Stdout, "%s\tsession %s\tsubmitted %s\n",
				job.JobID, job.SessionID, job.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	}

	api := jobapi.New(cfg.Server.BaseURL,
		jobapi.WithToken(cfg.Server.Token),
		jobapi.WithTimeout(time.Duration(cfg.Server.TimeoutSeconds)*time.Second),
	)
	client := relay.NewAPIClient(api)

	info, err := client.Status(ctx, types.JobID(args[0]))
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "job %s: %s\n", info.JobID, info.Status)
	if info.Status == types.JobQueued && info.Position > 0 {
		fmt.Fprintf(os.Stdout, "queue position %d of %d\n", info.Position, info.Size)
	}
	if info.Reply != "" {
		fmt.Fprintln(os.Stdout, info.Reply)
	}
	if info.Error != "" {
		fmt.Fprintln(os.Stdout, info.Error)
	}
	return nil
}
