// internal/consumer/projector.go
package consumer

import (
	"strings"

	"github.com/user/jobclaw/internal/types"
	"github.com/user/jobclaw/internal/wire"
)

// projector reduces accepted envelopes into the per-job display state:
// progress stage, tool runs, and the accumulated assistant text. It is
// owned by a single consumer goroutine and needs no locking.
type projector struct {
	stage types.StageInfo
	tools *toolRunSet
	text  strings.Builder
}

// effect reports which projections an applied event changed. At most one
// of the fields is set per event.
type effect struct {
	stage      bool
	tools      bool
	text       bool
	resolution *Resolution
}

func newProjector() *projector {
	return &projector{
		stage: types.StageInfo{Stage: types.StageIdle},
		tools: newToolRunSet(),
	}
}

// apply dispatches one accepted envelope by event type. Unknown types are
// a forward-compatible no-op; truly incompatible changes are expected to
// arrive under a new protocol version and are handled by the version gate,
// not here.
func (p *projector) apply(env *wire.Envelope) effect {
	switch env.Type {
	case wire.EventJobQueued:
		p.stage = types.StageInfo{Stage: types.StageQueued}
		if pos := int(env.Int("position")); pos > 0 {
			p.stage.Position = pos
			p.stage.Size = int(env.Int("size"))
		}
		return effect{stage: true}

	case wire.EventJobProcessing:
		p.stage = types.StageInfo{Stage: types.StageProcessing}
		return effect{stage: true}

	case wire.EventToolStart:
		p.tools.start(env.String("call_id"), env.String("name"))
		return effect{tools: true}

	case wire.EventToolFinish:
		p.tools.finish(
			env.String("call_id"),
			env.String("name"),
			env.Bool("ok"),
			env.Int("duration_ms"),
			env.String("error"),
		)
		return effect{tools: true}

	case wire.EventAssistantDelta:
		p.text.WriteString(env.String("delta"))
		return effect{text: true}

	case wire.EventAssistantDone:
		// The terminal full text, when provided, wins over accumulation.
		if env.Has("text") {
			p.text.Reset()
			p.text.WriteString(env.String("text"))
		}
		return effect{text: true}

	case wire.EventJobDone:
		reply := env.String("reply")
		if reply == "" {
			reply = p.text.String()
		}
		return effect{resolution: &Resolution{Status: types.JobDone, Reply: reply}}

	case wire.EventJobFailed, wire.EventJobCancelled:
		status := types.JobFailed
		if env.Type == wire.EventJobCancelled {
			status = types.JobCancelled
		}
		detail := env.String("error")
		if detail == "" {
			detail = genericFailure
		}
		return effect{resolution: &Resolution{Status: status, Err: detail}}
	}

	return effect{}
}

// reset discards all ephemeral projections, as happens on terminal
// resolution or cancellation.
func (p *projector) reset() {
	p.stage = types.StageInfo{Stage: types.StageIdle}
	p.tools.reset()
	p.text.Reset()
}
