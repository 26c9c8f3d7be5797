// internal/fallback/coordinator.go
package fallback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/user/jobclaw/internal/types"
)

// Coordinator bridges the stream consumer to authoritative polling. It has
// two entry points: Reconcile, the one-shot status check after any stream
// end, and PollUntilResolved, the sustained polling mode entered when
// streaming is abandoned.
type Coordinator struct {
	status types.StatusSource
	poller *Poller

	// activeSession reports the session currently in the foreground.
	// While it differs from the job's session the probe skips work.
	// Nil means the job's session is always active.
	activeSession func() types.SessionID
}

// CoordinatorOption configures optional coordinator behavior.
type CoordinatorOption func(*Coordinator)

// WithPoller overrides the default poller timing.
func WithPoller(p *Poller) CoordinatorOption {
	return func(c *Coordinator) { c.poller = p }
}

// WithActiveSession installs the foreground-session check.
func WithActiveSession(fn func() types.SessionID) CoordinatorOption {
	return func(c *Coordinator) { c.activeSession = fn }
}

// NewCoordinator creates a coordinator over the given status source.
func NewCoordinator(status types.StatusSource, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		status: status,
		poller: &Poller{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reconcile queries the status endpoint once. It returns the status when it
// is terminal and (nil, nil) when the job is still in flight.
func (c *Coordinator) Reconcile(ctx context.Context, jobID types.JobID) (*types.JobStatusInfo, error) {
	info, err := c.status.Status(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("job status: %w", err)
	}
	if !info.Status.Terminal() {
		return nil, nil
	}
	return info, nil
}

// PollUntilResolved polls the status endpoint until the job reaches a
// terminal status. Intermediate queued/processing statuses are reported as
// StageInfo through onStage, projecting the same display state the stream
// would have. Probe errors are transient and logged.
func (c *Coordinator) PollUntilResolved(ctx context.Context, job *types.JobDescriptor, onStage func(types.StageInfo)) (*types.JobStatusInfo, error) {
	var resolved *types.JobStatusInfo

	probe := func(ctx context.Context) (Decision, error) {
		if c.activeSession != nil && c.activeSession() != job.SessionID {
			return Continue, nil
		}

		info, err := c.status.Status(ctx, job.JobID)
		if err != nil {
			return Continue, fmt.Errorf("job status: %w", err)
		}
		if info.Status.Terminal() {
			resolved = info
			return Stop, nil
		}
		if onStage != nil {
			onStage(stageFor(info))
		}
		return Continue, nil
	}

	p := *c.poller
	if p.OnError == nil {
		p.OnError = func(err error) Decision {
			slog.Debug("status poll failed", "job_id", job.JobID, "error", err)
			return Continue
		}
	}
	if err := p.Run(ctx, probe); err != nil {
		return nil, err
	}
	return resolved, nil
}

// stageFor maps a non-terminal status onto the stream's stage projection.
func stageFor(info *types.JobStatusInfo) types.StageInfo {
	switch info.Status {
	case types.JobQueued:
		si := types.StageInfo{Stage: types.StageQueued}
		if info.Position > 0 {
			si.Position = info.Position
			si.Size = info.Size
		}
		return si
	case types.JobProcessing:
		return types.StageInfo{Stage: types.StageProcessing}
	}
	return types.StageInfo{Stage: types.StageIdle}
}
