// internal/consumer/consumer.go

// Package consumer implements the streaming job consumer: it owns the event
// stream connection for one job, validates and orders incoming events,
// projects them into observable progress state, and resolves the terminal
// outcome. When the stream is unreliable or speaks an unsupported protocol
// version it hands the job to a Fallback for authoritative polling.
package consumer

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/user/jobclaw/internal/types"
	"github.com/user/jobclaw/internal/wire"
)

const (
	// reconnectThreshold is the number of consecutive zero-progress
	// connection failures tolerated before escalating to fallback polling.
	reconnectThreshold = 4
	reconnectStep      = 800 * time.Millisecond
	reconnectMaxDelay  = 3 * time.Second

	defaultFlushInterval = 50 * time.Millisecond
	defaultBuffer        = 64
)

// Fallback finishes a job through the authoritative status endpoint when
// streaming ends without a terminal event or cannot be used at all.
type Fallback interface {
	// Reconcile performs a one-shot status check. It returns (nil, nil)
	// when the job is still in flight.
	Reconcile(ctx context.Context, jobID types.JobID) (*types.JobStatusInfo, error)

	// PollUntilResolved polls the status endpoint until the job reaches a
	// terminal status, reporting intermediate stages through onStage.
	// Entering this mode is a one-way transition: the stream is never
	// re-attempted for this job.
	PollUntilResolved(ctx context.Context, job *types.JobDescriptor, onStage func(types.StageInfo)) (*types.JobStatusInfo, error)
}

// Consumer drives the event stream for exactly one job. Construct with New,
// drain Updates, and call Run once; per-job state (cursor, tool runs,
// accumulated text) is owned by the single Run goroutine.
type Consumer struct {
	job      *types.JobDescriptor
	stream   types.StreamOpener
	fb       Fallback
	updates  chan Update
	cursor   int64
	proj     *projector
	coal     *coalescer
	flushInt time.Duration
	estimate func(string) int

	// Reconnect tuning, defaulted from the package constants.
	threshold int
	step      time.Duration
	maxDelay  time.Duration
}

// Option configures optional consumer behavior.
type Option func(*Consumer)

// WithResumeCursor starts the consumer from an already-known cursor, as
// when recovering a pending job after a restart. The first stream request
// then carries the cursor as a resume hint.
func WithResumeCursor(cursor int64) Option {
	return func(c *Consumer) {
		if cursor > 0 {
			c.cursor = cursor
		}
	}
}

// WithFlushInterval overrides the text coalescing interval.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Consumer) { c.flushInt = d }
}

// WithTokenEstimator attaches a reply-size estimator whose result is
// carried on each TextUpdate.
func WithTokenEstimator(fn func(string) int) Option {
	return func(c *Consumer) { c.estimate = fn }
}

// New creates a consumer for the given job.
func New(job *types.JobDescriptor, stream types.StreamOpener, fb Fallback, opts ...Option) *Consumer {
	c := &Consumer{
		job:      job,
		stream:   stream,
		fb:       fb,
		updates:  make(chan Update, defaultBuffer),
		proj:     newProjector(),
		flushInt: defaultFlushInterval,

		threshold: reconnectThreshold,
		step:      reconnectStep,
		maxDelay:  reconnectMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Updates returns the progress channel. It is closed when Run returns.
func (c *Consumer) Updates() <-chan Update {
	return c.updates
}

// Cursor returns the highest effective event id applied so far.
func (c *Consumer) Cursor() int64 {
	return c.cursor
}

// Run consumes the job's event stream until terminal resolution,
// reconnecting with capped backoff and escalating to fallback polling when
// streaming is exhausted or incompatible. It must be called at most once.
// Cancelling ctx aborts any in-flight read or delay; after cancellation no
// further updates are emitted and Run returns ctx.Err().
func (c *Consumer) Run(ctx context.Context) (*Resolution, error) {
	c.coal = newCoalescer(c.flushInt, func(text string) {
		tok := 0
		if c.estimate != nil {
			tok = c.estimate(text)
		}
		c.emit(ctx, TextUpdate{Text: text, Tokens: tok})
	})
	defer close(c.updates)
	defer c.proj.reset()
	defer c.coal.close()

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var (
			terminal   *Resolution
			accepted   bool
			badVersion bool
		)
		rc, err := c.stream.OpenStream(ctx, c.job.JobID, c.cursor)
		if err == nil {
			terminal, accepted, badVersion, err = c.consume(ctx, rc)
			rc.Close()
		}
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			slog.Debug("stream interrupted", "job_id", c.job.JobID, "error", err)
		}

		if terminal != nil {
			c.coal.flush()
			return terminal, nil
		}
		if badVersion {
			// The server speaks a protocol this client cannot safely
			// interpret; streaming is abandoned for good.
			slog.Warn("unsupported stream protocol version, polling instead", "job_id", c.job.JobID)
			return c.finishViaFallback(ctx)
		}

		// The stream ended without a terminal event. The end of a stream
		// never means success or failure by itself, so consult the
		// authoritative status once before treating this as a disconnect.
		if info, rerr := c.fb.Reconcile(ctx, c.job.JobID); rerr == nil && info != nil {
			c.coal.flush()
			return c.resolutionFromStatus(info), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if accepted {
			failures = 0
		}
		failures++
		if failures >= c.threshold {
			slog.Info("stream reconnects exhausted, polling instead", "job_id", c.job.JobID, "failures", failures)
			return c.finishViaFallback(ctx)
		}

		delay := time.Duration(failures) * c.step
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// consume reads frames until a terminal event, end of stream, or error.
// It reports whether any event was accepted on this connection and whether
// an accepted envelope carried an unsupported protocol version.
func (c *Consumer) consume(ctx context.Context, rc io.ReadCloser) (terminal *Resolution, accepted, badVersion bool, err error) {
	fr := wire.NewFrameReader(rc)
	for {
		if cerr := ctx.Err(); cerr != nil {
			return nil, accepted, false, cerr
		}

		frame, ferr := fr.Next()
		if ferr == io.EOF {
			return nil, accepted, false, nil
		}
		if ferr != nil {
			return nil, accepted, false, ferr
		}

		env, derr := wire.DecodeEnvelope(frame.Data)
		if derr != nil {
			// Keep-alives and malformed frames are skipped, not fatal.
			continue
		}

		// Effective id: envelope id wins over frame metadata. Events whose
		// effective id does not advance the cursor are duplicates or
		// unorderable and are discarded; id-less events are applied only
		// while the cursor is still at its starting point.
		id := env.EventID
		if id == 0 {
			id = frame.ID
		}
		if id <= c.cursor && !(id == 0 && c.cursor == 0) {
			continue
		}

		if env.Version != wire.ProtocolVersion {
			return nil, accepted, true, nil
		}

		if id > c.cursor {
			c.cursor = id
		}
		accepted = true

		eff := c.proj.apply(env)
		switch {
		case eff.resolution != nil:
			return eff.resolution, accepted, false, nil
		case eff.stage:
			c.emit(ctx, StageUpdate{Info: c.proj.stage})
		case eff.tools:
			c.emit(ctx, ToolRunsUpdate{Runs: c.proj.tools.snapshot()})
		case eff.text:
			c.coal.update(c.proj.text.String())
		}
	}
}

// finishViaFallback resolves the job through sustained polling.
func (c *Consumer) finishViaFallback(ctx context.Context) (*Resolution, error) {
	info, err := c.fb.PollUntilResolved(ctx, c.job, func(si types.StageInfo) {
		c.emit(ctx, StageUpdate{Info: si})
	})
	if err != nil {
		return nil, err
	}
	c.coal.flush()
	return c.resolutionFromStatus(info), nil
}

// resolutionFromStatus maps an authoritative terminal status onto the same
// resolution path as stream terminal events. The server's reply is
// definitive; the local accumulation only fills in when it is absent.
func (c *Consumer) resolutionFromStatus(info *types.JobStatusInfo) *Resolution {
	switch info.Status {
	case types.JobDone:
		reply := info.Reply
		if reply == "" {
			reply = c.proj.text.String()
		}
		return &Resolution{Status: types.JobDone, Reply: reply}
	case types.JobFailed, types.JobCancelled:
		detail := info.Error
		if detail == "" {
			detail = genericFailure
		}
		return &Resolution{Status: info.Status, Err: detail}
	}
	return nil
}

func (c *Consumer) emit(ctx context.Context, u Update) {
	select {
	case c.updates <- u:
	case <-ctx.Done():
	}
}
