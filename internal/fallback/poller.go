// internal/fallback/poller.go

// Package fallback resolves jobs through the authoritative status endpoint
// when the event stream is unavailable or speaks an incompatible protocol
// version. The Poller is a generic visibility-aware backoff loop; the
// Coordinator supplies the job-status probe.
package fallback

import (
	"context"
	"time"
)

// Decision tells the poller whether to keep probing.
type Decision int

const (
	Continue Decision = iota
	Stop
)

// Probe is one poll attempt. Returning an error marks the attempt as a
// transient failure; the poller reports it and keeps going unless OnError
// says otherwise.
type Probe func(ctx context.Context) (Decision, error)

// Poller repeatedly invokes a probe with increasing delay, pausing while
// the host is not visible. The zero value uses the default timing.
type Poller struct {
	// Initial is the delay before the first probe. Defaults to 2s.
	Initial time.Duration
	// Step is added to the delay after every tick. Defaults to 1s.
	Step time.Duration
	// Max caps the delay. Defaults to 15s.
	Max time.Duration
	// Visible gates probing; while it returns false the poller skips
	// probes and keeps waiting. Nil means always visible.
	Visible func() bool
	// OnError is invoked for probe errors and decides whether to keep
	// polling. Nil treats every error as transient.
	OnError func(error) Decision
}

// Run polls until the probe returns Stop, OnError aborts, or ctx is done.
func (p *Poller) Run(ctx context.Context, probe Probe) error {
	initial := p.Initial
	if initial <= 0 {
		initial = 2 * time.Second
	}
	step := p.Step
	if step <= 0 {
		step = time.Second
	}
	max := p.Max
	if max <= 0 {
		max = 15 * time.Second
	}

	delay := initial
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if p.Visible != nil && !p.Visible() {
			// Hidden hosts do not probe; recheck on the next tick
			// without growing the delay further.
			continue
		}

		decision, err := probe(ctx)
		if err != nil {
			if p.OnError != nil && p.OnError(err) == Stop {
				return err
			}
		} else if decision == Stop {
			return nil
		}

		delay += step
		if delay > max {
			delay = max
		}
	}
}
