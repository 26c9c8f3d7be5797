// internal/relay/relay.go

// Package relay orchestrates the life of a chat job on the client side. It
// binds inbound messages to sessions, submits them to the job server,
// follows each job's event stream through a consumer, and persists the
// outcome to the local transcript. A restarted relay re-attaches to jobs it
// left in flight via their pending markers.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/jobclaw/internal/consumer"
	"github.com/user/jobclaw/internal/fallback"
	"github.com/user/jobclaw/internal/overlay"
	"github.com/user/jobclaw/internal/types"
)

// ServerClient is the full client surface of one chat-job server.
type ServerClient interface {
	types.Submitter
	types.StatusSource
	types.StreamOpener
}

// Relay coordinates job submission and stream consumption across all
// front-ends. A semaphore bounds the number of jobs followed concurrently.
type Relay struct {
	sessions   types.SessionStore
	transcript types.TranscriptStore
	pending    types.PendingStore
	client     ServerClient
	fb         consumer.Fallback
	retry      *RetryPolicy
	sem        *semaphore.Weighted
	estimate   func(string) int
	deliver    func(types.SessionID, string)
	flushInt   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures optional relay behavior.
type Option func(*Relay)

// WithConcurrency bounds the number of jobs followed simultaneously.
func WithConcurrency(n int64) Option {
	return func(r *Relay) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithRetryPolicy overrides the submission retry policy.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(r *Relay) { r.retry = p }
}

// WithFallback overrides the polling fallback used by consumers.
func WithFallback(fb consumer.Fallback) Option {
	return func(r *Relay) { r.fb = fb }
}

// WithTokenEstimator attaches a reply-size estimator surfaced on streamed
// text updates.
func WithTokenEstimator(fn func(string) int) Option {
	return func(r *Relay) { r.estimate = fn }
}

// WithFlushInterval sets the text coalescing interval of every consumer the
// relay spawns.
func WithFlushInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.flushInt = d
		}
	}
}

// WithDefaultDeliver sets a fallback invoked with the resolved reply of any
// job that has no per-job completion callback. Jobs re-attached after a
// restart lose their original callbacks and resolve through this path.
func WithDefaultDeliver(fn func(types.SessionID, string)) Option {
	return func(r *Relay) { r.deliver = fn }
}

// New creates a Relay wired to the provided stores and API client.
func New(sessions types.SessionStore, transcript types.TranscriptStore, pending types.PendingStore, client ServerClient, opts ...Option) *Relay {
	r := &Relay{
		sessions:   sessions,
		transcript: transcript,
		pending:    pending,
		client:     client,
		retry:      DefaultRetryPolicy(),
		sem:        semaphore.NewWeighted(2),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.fb == nil {
		r.fb = fallback.NewCoordinator(client)
	}
	return r
}

// Client returns the server client the relay submits through.
func (r *Relay) Client() ServerClient {
	return r.client
}

// Start initialises the relay's context. Must be called before HandleInbound.
func (r *Relay) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
}

// Stop cancels the relay context and waits for in-flight followers to
// finish. Jobs interrupted mid-stream keep their pending markers and are
// re-attached on the next start.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// JobOption configures callbacks for one followed job.
type JobOption func(*jobHandlers)

type jobHandlers struct {
	onUpdate   func(consumer.Update)
	onComplete func(reply string)
	cursor     int64
}

// WithOnUpdate sets a callback invoked for each streamed progress update.
func WithOnUpdate(fn func(consumer.Update)) JobOption {
	return func(h *jobHandlers) { h.onUpdate = fn }
}

// WithOnComplete sets a callback invoked with the final reply text (or a
// failure message) once the job resolves.
func WithOnComplete(fn func(string)) JobOption {
	return func(h *jobHandlers) { h.onComplete = fn }
}

// WithResumeCursor starts the job's consumer from an already-known cursor.
func WithResumeCursor(cursor int64) JobOption {
	return func(h *jobHandlers) { h.cursor = cursor }
}

// HandleInbound binds the message to a session, records the user turn,
// submits a job, persists its pending marker, and follows its stream in the
// background. The returned descriptor identifies the in-flight job.
func (r *Relay) HandleInbound(ctx context.Context, msg *types.InboundMessage, opts ...JobOption) (*types.JobDescriptor, error) {
	sessionID, err := r.sessions.ResolveOrCreate(ctx, msg.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	return r.Submit(ctx, sessionID, msg.Text, opts...)
}

// Submit records the user turn, submits a job for an already-resolved
// session, persists its pending marker, and follows its stream.
func (r *Relay) Submit(ctx context.Context, sessionID types.SessionID, text string, opts ...JobOption) (*types.JobDescriptor, error) {
	existing, err := r.pending.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("check pending: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("session %s already has job %s in flight", sessionID, existing.JobID)
	}

	userMsg := &types.ChatMessage{
		ID:        types.NewMessageID(),
		SessionID: sessionID,
		Role:      "user",
		Content:   text,
		At:        time.Now(),
	}
	if err := r.transcript.Append(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("record user turn: %w", err)
	}

	requestID := types.NewRequestID()
	var result *types.SubmitResult
	err = r.retry.Execute(func() error {
		var serr error
		result, serr = r.client.Submit(ctx, sessionID, requestID, text)
		return serr
	})
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}

	job := &types.JobDescriptor{
		JobID:         result.JobID,
		RequestID:     requestID,
		PlaceholderID: types.NewMessageID(),
		SessionID:     sessionID,
		LaneID:        result.LaneID,
		Text:          text,
		CreatedAt:     time.Now(),
	}
	if err := r.pending.Put(ctx, job); err != nil {
		return nil, fmt.Errorf("persist pending marker: %w", err)
	}
	if err := r.sessions.Touch(ctx, sessionID, job.JobID, 1); err != nil {
		slog.Warn("session touch failed", "session_id", sessionID, "error", err)
	}

	r.spawn(job, opts...)
	return job, nil
}

// Attach follows a job recovered from its pending marker, as after a
// restart. The stream resumes from the given cursor when one is known.
func (r *Relay) Attach(job *types.JobDescriptor, opts ...JobOption) {
	r.spawn(job, opts...)
}

// ResumePending re-attaches every job left in flight by a previous process.
func (r *Relay) ResumePending(ctx context.Context, opts ...JobOption) (int, error) {
	jobs, err := r.pending.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}
	for _, job := range jobs {
		slog.Info("resuming pending job", "job_id", job.JobID, "session_id", job.SessionID)
		r.spawn(job, opts...)
	}
	return len(jobs), nil
}

func (r *Relay) spawn(job *types.JobDescriptor, opts ...JobOption) {
	h := &jobHandlers{}
	for _, opt := range opts {
		opt(h)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			return
		}
		defer r.sem.Release(1)
		r.follow(job, h)
	}()
}

// follow drives one job's consumer to resolution and persists the outcome.
func (r *Relay) follow(job *types.JobDescriptor, h *jobHandlers) {
	copts := []consumer.Option{}
	if h.cursor > 0 {
		copts = append(copts, consumer.WithResumeCursor(h.cursor))
	}
	if r.estimate != nil {
		copts = append(copts, consumer.WithTokenEstimator(r.estimate))
	}
	if r.flushInt > 0 {
		copts = append(copts, consumer.WithFlushInterval(r.flushInt))
	}
	c := consumer.New(job, r.client, r.fb, copts...)

	var drain sync.WaitGroup
	drain.Add(1)
	go func() {
		defer drain.Done()
		for u := range c.Updates() {
			if h.onUpdate != nil {
				h.onUpdate(u)
			}
		}
	}()

	res, err := c.Run(r.ctx)
	drain.Wait()
	if err != nil {
		// Context cancellation leaves the pending marker in place so the
		// job can be re-attached later.
		slog.Warn("job follow interrupted", "job_id", job.JobID, "error", err)
		return
	}

	r.finish(job, res, h)
}

// finish materialises the resolution: the placeholder becomes a real
// transcript message and the pending marker is cleared.
func (r *Relay) finish(job *types.JobDescriptor, res *consumer.Resolution, h *jobHandlers) {
	ctx := context.Background()

	content := res.Reply
	if res.Status != types.JobDone {
		content = res.Err
	}
	msg := &types.ChatMessage{
		ID:        job.PlaceholderID,
		SessionID: job.SessionID,
		Role:      "assistant",
		Content:   content,
		At:        time.Now(),
	}
	if err := r.transcript.Append(ctx, msg); err != nil {
		slog.Error("record assistant reply failed", "job_id", job.JobID, "error", err)
	}
	if err := r.pending.Clear(ctx, job.SessionID); err != nil {
		slog.Error("clear pending marker failed", "job_id", job.JobID, "error", err)
	}
	if err := r.sessions.Touch(ctx, job.SessionID, job.JobID, 1); err != nil {
		slog.Warn("session touch failed", "session_id", job.SessionID, "error", err)
	}

	slog.Info("job resolved", "job_id", job.JobID, "status", res.Status)
	switch {
	case h.onComplete != nil:
		h.onComplete(content)
	case r.deliver != nil:
		r.deliver(job.SessionID, content)
	}
}

// Messages returns the session transcript with the in-flight overlay
// applied: the pending job's user turn and its placeholder are visible even
// though neither is persisted yet.
func (r *Relay) Messages(ctx context.Context, sessionID types.SessionID, limit int) ([]*types.ChatMessage, error) {
	msgs, err := r.transcript.Tail(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	pending, err := r.pending.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read pending marker: %w", err)
	}
	return overlay.Apply(msgs, pending, sessionID), nil
}
