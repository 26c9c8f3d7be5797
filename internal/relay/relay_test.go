// internal/relay/relay_test.go
package relay

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/jobclaw/internal/consumer"
	"github.com/user/jobclaw/internal/state"
	"github.com/user/jobclaw/internal/types"
)

// fakeServer is an in-memory ServerClient that serves one canned stream.
type fakeServer struct {
	stream     string
	submits    atomic.Int64
	statusInfo *types.JobStatusInfo
}

func (f *fakeServer) Submit(_ context.Context, sessionID types.SessionID, _ types.RequestID, _ string) (*types.SubmitResult, error) {
	n := f.submits.Add(1)
	return &types.SubmitResult{
		JobID:  types.JobID(fmt.Sprintf("job-%d", n)),
		LaneID: "lane-1",
	}, nil
}

func (f *fakeServer) Status(_ context.Context, jobID types.JobID) (*types.JobStatusInfo, error) {
	if f.statusInfo != nil {
		return f.statusInfo, nil
	}
	return &types.JobStatusInfo{JobID: jobID, Status: types.JobProcessing}, nil
}

func (f *fakeServer) OpenStream(_ context.Context, _ types.JobID, _ int64) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.stream)), nil
}

const doneStream = "id: 1\ndata: {\"event_id\":1,\"event_version\":1,\"type\":\"assistant.delta\",\"payload\":{\"delta\":\"hi \"}}\n\n" +
	"id: 2\ndata: {\"event_id\":2,\"event_version\":1,\"type\":\"assistant.delta\",\"payload\":{\"delta\":\"there\"}}\n\n" +
	"id: 3\ndata: {\"event_id\":3,\"event_version\":1,\"type\":\"job.done\",\"payload\":{}}\n\n"

func newTestRelay(t *testing.T, server ServerClient, opts ...Option) (*Relay, *state.TranscriptStore, *state.PendingStore, types.SessionID) {
	t.Helper()
	dir := t.TempDir()
	sessions := state.NewSessionStore(dir)
	transcript := state.NewTranscriptStore(dir)
	pending := state.NewPendingStore(dir)

	r := New(sessions, transcript, pending, server, opts...)
	ctx := context.Background()
	r.Start(ctx)
	t.Cleanup(r.Stop)

	sessionID, err := sessions.ResolveOrCreate(ctx, types.NewSessionKey("test", "chat"))
	if err != nil {
		t.Fatal(err)
	}
	return r, transcript, pending, sessionID
}

func TestRelaySubmitResolvesJob(t *testing.T) {
	server := &fakeServer{stream: doneStream}
	r, transcript, pending, sessionID := newTestRelay(t, server)
	ctx := context.Background()

	done := make(chan string, 1)
	job, err := r.Submit(ctx, sessionID, "hello", WithOnComplete(func(reply string) {
		done <- reply
	}))
	if err != nil {
		t.Fatal(err)
	}
	if job.JobID == "" {
		t.Fatal("expected server-assigned job ID")
	}

	select {
	case reply := <-done:
		if reply != "hi there" {
			t.Errorf("expected reply %q, got %q", "hi there", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job resolution")
	}

	// Pending marker is cleared once resolved.
	waitFor(t, func() bool {
		p, err := pending.Get(ctx, sessionID)
		return err == nil && p == nil
	})

	msgs, err := transcript.Tail(ctx, sessionID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 transcript messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "hello" {
		t.Errorf("unexpected user turn: %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "hi there" {
		t.Errorf("unexpected assistant turn: %+v", msgs[1])
	}
	if msgs[1].ID != job.PlaceholderID {
		t.Errorf("assistant message should reuse the placeholder id")
	}
}

func TestRelayRejectsSecondSubmit(t *testing.T) {
	// Status stays processing so the first job never resolves during the test.
	server := &fakeServer{stream: ""}
	r, _, _, sessionID := newTestRelay(t, server)
	ctx := context.Background()

	if _, err := r.Submit(ctx, sessionID, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Submit(ctx, sessionID, "second"); err == nil {
		t.Error("expected error submitting while a job is in flight")
	}
}

func TestRelayMessagesOverlay(t *testing.T) {
	server := &fakeServer{stream: ""}
	r, _, _, sessionID := newTestRelay(t, server)
	ctx := context.Background()

	job, err := r.Submit(ctx, sessionID, "working on it")
	if err != nil {
		t.Fatal(err)
	}

	msgs, err := r.Messages(ctx, sessionID, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user turn plus placeholder, got %d messages", len(msgs))
	}
	last := msgs[len(msgs)-1]
	if !last.Pending {
		t.Error("expected trailing placeholder to be pending")
	}
	if last.ID != job.PlaceholderID {
		t.Errorf("expected placeholder id %s, got %s", job.PlaceholderID, last.ID)
	}
}

func TestRelayResumePending(t *testing.T) {
	server := &fakeServer{stream: doneStream}
	dir := t.TempDir()
	sessions := state.NewSessionStore(dir)
	transcript := state.NewTranscriptStore(dir)
	pending := state.NewPendingStore(dir)
	ctx := context.Background()

	sessionID, err := sessions.ResolveOrCreate(ctx, types.NewSessionKey("test", "chat"))
	if err != nil {
		t.Fatal(err)
	}

	// A previous process left this job in flight.
	job := &types.JobDescriptor{
		JobID:         "job-99",
		RequestID:     types.NewRequestID(),
		PlaceholderID: types.NewMessageID(),
		SessionID:     sessionID,
		Text:          "unfinished",
		CreatedAt:     time.Now(),
	}
	if err := pending.Put(ctx, job); err != nil {
		t.Fatal(err)
	}

	r := New(sessions, transcript, pending, server)
	r.Start(ctx)
	defer r.Stop()

	n, err := r.ResumePending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 resumed job, got %d", n)
	}

	waitFor(t, func() bool {
		p, err := pending.Get(ctx, sessionID)
		return err == nil && p == nil
	})

	msgs, err := transcript.Tail(ctx, sessionID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi there" {
		t.Fatalf("expected resolved assistant reply in transcript, got %+v", msgs)
	}
}

// pipeServer streams one connection backed by an io.Pipe so the test
// controls when frames arrive.
type pipeServer struct {
	fakeServer
	r *io.PipeReader
}

func (p *pipeServer) OpenStream(context.Context, types.JobID, int64) (io.ReadCloser, error) {
	return io.NopCloser(p.r), nil
}

func TestRelayFlushIntervalReachesConsumer(t *testing.T) {
	pr, pw := io.Pipe()
	server := &pipeServer{r: pr}
	r, _, _, sessionID := newTestRelay(t, server, WithFlushInterval(time.Millisecond))
	ctx := context.Background()

	texts := make(chan string, 16)
	done := make(chan struct{}, 1)
	_, err := r.Submit(ctx, sessionID, "hello",
		WithOnUpdate(func(u consumer.Update) {
			if tu, ok := u.(consumer.TextUpdate); ok {
				texts <- tu.Text
			}
		}),
		WithOnComplete(func(string) { done <- struct{}{} }),
	)
	if err != nil {
		t.Fatal(err)
	}

	frame := "data: {\"event_id\":1,\"event_version\":1,\"type\":\"assistant.delta\",\"payload\":{\"delta\":\"partial\"}}\n\n"
	if _, err := io.WriteString(pw, frame); err != nil {
		t.Fatal(err)
	}

	// The coalesced text must surface while the stream is still open.
	select {
	case text := <-texts:
		if text != "partial" {
			t.Errorf("streamed text = %q, want %q", text, "partial")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no text update emitted before the job resolved")
	}

	if _, err := io.WriteString(pw, "data: {\"event_id\":2,\"event_version\":1,\"type\":\"job.done\",\"payload\":{}}\n\n"); err != nil {
		t.Fatal(err)
	}
	pw.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job resolution")
	}
}

// flakyServer fails the first n submissions with a retryable server error.
type flakyServer struct {
	fakeServer
	failuresLeft atomic.Int64
}

func (f *flakyServer) Submit(ctx context.Context, sessionID types.SessionID, requestID types.RequestID, text string) (*types.SubmitResult, error) {
	if f.failuresLeft.Add(-1) >= 0 {
		f.submits.Add(1)
		return nil, fmt.Errorf("HTTP 503: unavailable")
	}
	return f.fakeServer.Submit(ctx, sessionID, requestID, text)
}

func TestRelayRetryPolicyOverride(t *testing.T) {
	server := &flakyServer{fakeServer: fakeServer{stream: doneStream}}
	server.failuresLeft.Store(1)

	policy := &RetryPolicy{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		Multiplier:   1,
		MaxDelay:     time.Millisecond,
	}
	r, _, _, sessionID := newTestRelay(t, server, WithRetryPolicy(policy))
	ctx := context.Background()

	done := make(chan string, 1)
	start := time.Now()
	job, err := r.Submit(ctx, sessionID, "hello", WithOnComplete(func(reply string) {
		done <- reply
	}))
	if err != nil {
		t.Fatalf("submit should succeed on the second attempt: %v", err)
	}
	if job.JobID == "" {
		t.Fatal("expected server-assigned job ID")
	}
	if got := server.submits.Load(); got != 2 {
		t.Errorf("submit attempts = %d, want 2", got)
	}
	// The override replaces the default one-second backoff.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("retry waited %v, expected the overridden backoff", elapsed)
	}

	select {
	case reply := <-done:
		if reply != "hi there" {
			t.Errorf("expected reply %q, got %q", "hi there", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job resolution")
	}
}

// cannedFallback resolves every reconcile with a fixed terminal status.
type cannedFallback struct {
	info  types.JobStatusInfo
	calls atomic.Int64
}

func (c *cannedFallback) Reconcile(_ context.Context, jobID types.JobID) (*types.JobStatusInfo, error) {
	c.calls.Add(1)
	info := c.info
	info.JobID = jobID
	return &info, nil
}

func (c *cannedFallback) PollUntilResolved(_ context.Context, job *types.JobDescriptor, _ func(types.StageInfo)) (*types.JobStatusInfo, error) {
	c.calls.Add(1)
	info := c.info
	info.JobID = job.JobID
	return &info, nil
}

func TestRelayFallbackOverride(t *testing.T) {
	// The stream ends without a terminal event, so resolution has to come
	// from the injected fallback.
	server := &fakeServer{stream: ""}
	fb := &cannedFallback{info: types.JobStatusInfo{Status: types.JobDone, Reply: "polled reply"}}
	r, transcript, _, sessionID := newTestRelay(t, server, WithFallback(fb))
	ctx := context.Background()

	done := make(chan string, 1)
	if _, err := r.Submit(ctx, sessionID, "hello", WithOnComplete(func(reply string) {
		done <- reply
	})); err != nil {
		t.Fatal(err)
	}

	select {
	case reply := <-done:
		if reply != "polled reply" {
			t.Errorf("expected reply %q, got %q", "polled reply", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job resolution")
	}
	if fb.calls.Load() == 0 {
		t.Error("injected fallback was never consulted")
	}

	waitFor(t, func() bool {
		msgs, err := transcript.Tail(ctx, sessionID, 10)
		return err == nil && len(msgs) == 2 && msgs[1].Content == "polled reply"
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not reached in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
