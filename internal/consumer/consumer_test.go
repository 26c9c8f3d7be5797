package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/jobclaw/internal/types"
)

const connectError = "\x00connect-error"

// scriptedStreams hands out one canned connection body per OpenStream call
// and records the resume hint of every attempt. When the script is
// exhausted, further opens fail.
type scriptedStreams struct {
	mu      sync.Mutex
	streams []string
	hints   []int64
}

func (s *scriptedStreams) OpenStream(_ context.Context, _ types.JobID, lastEventID int64) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hints = append(s.hints, lastEventID)
	if len(s.streams) == 0 {
		return nil, errors.New("connect: connection refused")
	}
	body := s.streams[0]
	s.streams = s.streams[1:]
	if body == connectError {
		return nil, errors.New("connect: connection refused")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (s *scriptedStreams) resumeHints() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.hints))
	copy(out, s.hints)
	return out
}

// fakeFallback answers Reconcile with a fixed status and records whether
// sustained polling was entered.
type fakeFallback struct {
	mu         sync.Mutex
	reconcile  *types.JobStatusInfo
	poll       *types.JobStatusInfo
	reconciles int
	polled     bool
}

func (f *fakeFallback) Reconcile(_ context.Context, _ types.JobID) (*types.JobStatusInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciles++
	return f.reconcile, nil
}

func (f *fakeFallback) PollUntilResolved(_ context.Context, _ *types.JobDescriptor, _ func(types.StageInfo)) (*types.JobStatusInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polled = true
	if f.poll == nil {
		return nil, errors.New("no poll status scripted")
	}
	return f.poll, nil
}

func (f *fakeFallback) wasPolled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polled
}

func event(id int64, typ, payload string) string {
	if payload == "" {
		payload = "{}"
	}
	return fmt.Sprintf("data: {\"event_id\":%d,\"event_version\":1,\"type\":%q,\"payload\":%s}\n\n", id, typ, payload)
}

func testJob() *types.JobDescriptor {
	return &types.JobDescriptor{
		JobID:         "job-1",
		RequestID:     "req-1",
		PlaceholderID: "msg-1",
		SessionID:     "sess-1",
	}
}

// newTestConsumer shortens the reconnect backoff so exhaustion tests run
// in milliseconds.
func newTestConsumer(streams types.StreamOpener, fb Fallback, opts ...Option) *Consumer {
	c := New(testJob(), streams, fb, opts...)
	c.step = time.Millisecond
	c.maxDelay = 5 * time.Millisecond
	return c
}

// collect drains the update channel until it closes.
func collect(c *Consumer) <-chan []Update {
	out := make(chan []Update, 1)
	go func() {
		var all []Update
		for u := range c.Updates() {
			all = append(all, u)
		}
		out <- all
	}()
	return out
}

func TestRunStreamToResolution(t *testing.T) {
	streams := &scriptedStreams{streams: []string{
		event(1, "assistant.delta", `{"delta":"Hello, "}`) +
			event(2, "assistant.delta", `{"delta":"world"}`) +
			event(3, "job.done", "{}"),
	}}
	fb := &fakeFallback{}
	c := newTestConsumer(streams, fb)
	updates := collect(c)

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != types.JobDone {
		t.Errorf("status = %q, want done", res.Status)
	}
	if res.Reply != "Hello, world" {
		t.Errorf("reply = %q, want accumulated text", res.Reply)
	}
	if c.Cursor() != 3 {
		t.Errorf("cursor = %d, want 3", c.Cursor())
	}
	if fb.wasPolled() {
		t.Error("fallback polling entered on clean stream")
	}

	var lastText string
	for _, u := range <-updates {
		if tu, ok := u.(TextUpdate); ok {
			lastText = tu.Text
		}
	}
	if lastText != "Hello, world" {
		t.Errorf("last text update = %q, want full text", lastText)
	}
}

func TestDuplicatesAndRegressionsDiscarded(t *testing.T) {
	streams := &scriptedStreams{streams: []string{
		event(1, "assistant.delta", `{"delta":"a"}`) +
			event(1, "assistant.delta", `{"delta":"a"}`) +
			event(2, "assistant.delta", `{"delta":"b"}`) +
			event(2, "assistant.delta", `{"delta":"X"}`) +
			"data: {\"event_version\":1,\"type\":\"assistant.delta\",\"payload\":{\"delta\":\"Z\"}}\n\n" +
			event(3, "job.done", "{}"),
	}}
	c := newTestConsumer(streams, &fakeFallback{})
	collect(c)

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reply != "ab" {
		t.Errorf("reply = %q, want each delta applied once", res.Reply)
	}
}

func TestIDLessEventsApplyOnlyBeforeFirstID(t *testing.T) {
	idless := func(delta string) string {
		return fmt.Sprintf("data: {\"event_version\":1,\"type\":\"assistant.delta\",\"payload\":{\"delta\":%q}}\n\n", delta)
	}
	streams := &scriptedStreams{streams: []string{
		idless("a") + idless("b") +
			event(1, "assistant.delta", `{"delta":"c"}`) +
			idless("Z") +
			event(2, "job.done", "{}"),
	}}
	c := newTestConsumer(streams, &fakeFallback{})
	collect(c)

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reply != "abc" {
		t.Errorf("reply = %q, want id-less deltas only before the cursor moved", res.Reply)
	}
}

func TestReconnectCarriesResumeHint(t *testing.T) {
	streams := &scriptedStreams{streams: []string{
		event(1, "assistant.delta", `{"delta":"a"}`) +
			event(2, "assistant.delta", `{"delta":"b"}`),
		event(3, "assistant.delta", `{"delta":"c"}`) +
			event(4, "job.done", "{}"),
	}}
	c := newTestConsumer(streams, &fakeFallback{})
	collect(c)

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reply != "abc" {
		t.Errorf("reply = %q, want text across both connections", res.Reply)
	}

	hints := streams.resumeHints()
	want := []int64{0, 2}
	if len(hints) != len(want) {
		t.Fatalf("open attempts = %v, want %v", hints, want)
	}
	for i := range want {
		if hints[i] != want[i] {
			t.Errorf("attempt %d resume hint = %d, want %d", i, hints[i], want[i])
		}
	}
}

func TestVersionMismatchAbandonsStreaming(t *testing.T) {
	streams := &scriptedStreams{streams: []string{
		"data: {\"event_id\":1,\"event_version\":2,\"type\":\"assistant.delta\",\"payload\":{\"delta\":\"x\"}}\n\n",
	}}
	fb := &fakeFallback{poll: &types.JobStatusInfo{JobID: "job-1", Status: types.JobDone, Reply: "from poll"}}
	c := newTestConsumer(streams, fb)
	collect(c)

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !fb.wasPolled() {
		t.Fatal("version mismatch did not enter fallback polling")
	}
	if res.Reply != "from poll" {
		t.Errorf("reply = %q, want authoritative poll result", res.Reply)
	}
	if got := len(streams.resumeHints()); got != 1 {
		t.Errorf("stream opened %d times, want exactly 1 (abandon is one-way)", got)
	}
}

func TestReconnectsExhaustedFallsBack(t *testing.T) {
	streams := &scriptedStreams{}
	fb := &fakeFallback{poll: &types.JobStatusInfo{JobID: "job-1", Status: types.JobDone, Reply: "recovered"}}
	c := newTestConsumer(streams, fb)
	collect(c)

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reply != "recovered" {
		t.Errorf("reply = %q, want poll result", res.Reply)
	}
	if got := len(streams.resumeHints()); got != reconnectThreshold {
		t.Errorf("stream opened %d times, want %d before escalation", got, reconnectThreshold)
	}
}

func TestAcceptedEventsResetFailureCount(t *testing.T) {
	// Each connection makes progress before dropping, so the consecutive
	// failure count never reaches the escalation threshold.
	streams := &scriptedStreams{streams: []string{
		event(1, "assistant.delta", `{"delta":"a"}`),
		event(2, "assistant.delta", `{"delta":"b"}`),
		event(3, "assistant.delta", `{"delta":"c"}`),
		event(4, "assistant.delta", `{"delta":"d"}`),
		event(5, "assistant.delta", `{"delta":"e"}`),
		event(6, "job.done", "{}"),
	}}
	fb := &fakeFallback{}
	c := newTestConsumer(streams, fb)
	collect(c)

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reply != "abcde" {
		t.Errorf("reply = %q, want all five deltas", res.Reply)
	}
	if fb.wasPolled() {
		t.Error("fallback polling entered despite steady progress")
	}
}

func TestQuietStreamEndReconciledFromStatus(t *testing.T) {
	streams := &scriptedStreams{streams: []string{
		event(1, "assistant.delta", `{"delta":"partial"}`),
	}}
	fb := &fakeFallback{reconcile: &types.JobStatusInfo{JobID: "job-1", Status: types.JobDone, Reply: "server reply"}}
	c := newTestConsumer(streams, fb)
	collect(c)

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reply != "server reply" {
		t.Errorf("reply = %q, want the authoritative status reply", res.Reply)
	}
	if fb.wasPolled() {
		t.Error("sustained polling entered when one reconcile sufficed")
	}
}

func TestStageAndToolUpdates(t *testing.T) {
	streams := &scriptedStreams{streams: []string{
		event(1, "job.queued", `{"position":2,"size":3}`) +
			event(2, "job.processing", "{}") +
			event(3, "tool.start", `{"call_id":"t1","name":"search"}`) +
			event(4, "tool.finish", `{"call_id":"t1","name":"search","ok":true,"duration_ms":12}`) +
			event(5, "job.done", `{"reply":"done"}`),
	}}
	c := newTestConsumer(streams, &fakeFallback{})
	updates := collect(c)

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var stages []types.Stage
	var lastRuns []types.ToolRun
	for _, u := range <-updates {
		switch v := u.(type) {
		case StageUpdate:
			stages = append(stages, v.Info.Stage)
		case ToolRunsUpdate:
			lastRuns = v.Runs
		}
	}
	wantStages := []types.Stage{types.StageQueued, types.StageProcessing}
	if len(stages) != len(wantStages) {
		t.Fatalf("stages = %v, want %v", stages, wantStages)
	}
	for i := range wantStages {
		if stages[i] != wantStages[i] {
			t.Errorf("stage[%d] = %q, want %q", i, stages[i], wantStages[i])
		}
	}
	if len(lastRuns) != 1 {
		t.Fatalf("tool runs = %d, want 1", len(lastRuns))
	}
	if lastRuns[0].Key != "t1" || lastRuns[0].Status != types.ToolOK || lastRuns[0].DurationMs != 12 {
		t.Errorf("tool run = %+v, want t1 finished ok in 12ms", lastRuns[0])
	}
}

func TestFailureWithoutDetailGetsGenericMessage(t *testing.T) {
	streams := &scriptedStreams{streams: []string{
		event(1, "job.failed", "{}"),
	}}
	c := newTestConsumer(streams, &fakeFallback{})
	collect(c)

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != types.JobFailed {
		t.Errorf("status = %q, want failed", res.Status)
	}
	if res.Err != genericFailure {
		t.Errorf("error detail = %q, want the generic message", res.Err)
	}
}

// pipeStreams serves a single connection backed by an io.Pipe so the test
// controls when each frame arrives.
type pipeStreams struct {
	r *io.PipeReader
}

func (p *pipeStreams) OpenStream(context.Context, types.JobID, int64) (io.ReadCloser, error) {
	return io.NopCloser(p.r), nil
}

func TestFlushIntervalDrivesMidStreamEmission(t *testing.T) {
	pr, pw := io.Pipe()
	c := newTestConsumer(&pipeStreams{r: pr}, &fakeFallback{}, WithFlushInterval(time.Millisecond))

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := c.Run(context.Background()); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	if _, err := io.WriteString(pw, event(1, "assistant.delta", `{"delta":"partial"}`)); err != nil {
		t.Fatal(err)
	}

	// The coalescer must emit before the terminal frame exists at all.
	select {
	case u := <-c.Updates():
		tu, ok := u.(TextUpdate)
		if !ok {
			t.Fatalf("update = %#v, want TextUpdate", u)
		}
		if tu.Text != "partial" {
			t.Errorf("text = %q, want %q", tu.Text, "partial")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no text update emitted while the stream was still open")
	}

	if _, err := io.WriteString(pw, event(2, "job.done", "{}")); err != nil {
		t.Fatal(err)
	}
	pw.Close()
	collect(c)
	<-done
}

func TestCancelStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	streams := &scriptedStreams{}
	c := newTestConsumer(streams, &fakeFallback{})
	collect(c)

	if _, err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}
