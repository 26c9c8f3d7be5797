package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/jobclaw/internal/consumer"
	"github.com/user/jobclaw/internal/relay"
	"github.com/user/jobclaw/internal/types"
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("session", "default", "session name under the cli: prefix")
	chatCmd.Flags().Bool("quiet", false, "suppress progress output, print only the reply")
}

var chatCmd = &cobra.Command{
	Use:   "chat <message...>",
	Short: "Send a message and stream the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
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

	sessionName, _ := cmd.Flags().GetString("session")
	quiet, _ := cmd.Flags().GetBool("quiet")
	text := strings.Join(args, " ")

	inbound := &types.InboundMessage{
		Source:     "cli",
		SessionKey: types.NewSessionKey("cli", sessionName),
		Text:       text,
	}

	done := make(chan struct{})
	progress := newProgressPrinter(quiet)

	job, err := r.HandleInbound(ctx, inbound,
		relay.WithOnUpdate(progress.apply),
		relay.WithOnComplete(func(reply string) {
			progress.finish(reply)
			close(done)
		}),
	)
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(os.Stderr, "job %s submitted\n", job.JobID)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "\ninterrupted; the job keeps running and can be resumed with `jobclaw attach`")
		return nil
	}
}

// progressPrinter renders consumer updates as terminal output: stage
// transitions and tool runs go to errOut, reply text streams to out.
type progressPrinter struct {
	mu     sync.Mutex
	quiet  bool
	text   string
	stage  types.Stage
	tools  map[string]types.ToolRunStatus
	out    io.Writer
	errOut io.Writer
}

func newProgressPrinter(quiet bool) *progressPrinter {
	return &progressPrinter{
		quiet:  quiet,
		tools:  make(map[string]types.ToolRunStatus),
		out:    os.Stdout,
		errOut: os.Stderr,
	}
}

func (p *progressPrinter) apply(u consumer.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch u := u.(type) {
	case consumer.StageUpdate:
		if p.quiet || u.Info.Stage == p.stage {
			return
		}
		p.stage = u.Info.Stage
		switch u.Info.Stage {
		case types.StageQueued:
			if u.Info.Position > 0 {
				fmt.Fprintf(p.errOut, "queued (%d of %d)\n", u.Info.Position, u.Info.Size)
			} else {
				fmt.Fprintln(p.errOut, "queued")
			}
		case types.StageProcessing:
			fmt.Fprintln(p.errOut, "processing")
		}

	case consumer.ToolRunsUpdate:
		if p.quiet {
			return
		}
		for _, run := range u.Runs {
			if p.tools[run.Key] == run.Status {
				continue
			}
			p.tools[run.Key] = run.Status
			switch run.Status {
			case types.ToolRunning:
				fmt.Fprintf(p.errOut, "tool %s running\n", run.Name)
			case types.ToolOK:
				fmt.Fprintf(p.errOut, "tool %s ok (%dms)\n", run.Name, run.DurationMs)
			case types.ToolFailed:
				fmt.Fprintf(p.errOut, "tool %s failed: %s\n", run.Name, run.Error)
			}
		}

	case consumer.TextUpdate:
		// Stream only the new suffix of the accumulated text.
		if len(u.Text) > len(p.text) {
			fmt.Fprint(p.out, u.Text[len(p.text):])
			p.text = u.Text
		}
	}
}

// finish prints whatever part of the reply was not already streamed. When
// the authoritative reply diverges from the streamed text (as after a
// fallback resolution) the full reply is printed on its own line.
func (p *progressPrinter) finish(reply string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.text != "" && strings.HasPrefix(reply, p.text) {
		fmt.Fprintln(p.out, reply[len(p.text):])
		return
	}
	if p.text != "" {
		fmt.Fprintln(p.out)
	}
	fmt.Fprintln(p.out, reply)
}
