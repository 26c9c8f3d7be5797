// internal/consumer/toolruns.go
package consumer

import (
	"fmt"

	"github.com/user/jobclaw/internal/types"
)

// toolRunSet maintains the ordered set of tool executions implied by a
// job's events. Entries are appended or updated while the job is pending
// and discarded wholesale on terminal resolution.
type toolRunSet struct {
	runs     []types.ToolRun
	ordinals map[string]int
}

func newToolRunSet() *toolRunSet {
	return &toolRunSet{ordinals: make(map[string]int)}
}

// start records a running tool invocation. A repeated start for the same
// call id is a duplicate delivery and does not create a second entry.
func (s *toolRunSet) start(callID, name string) {
	key := callID
	if key == "" {
		s.ordinals[name]++
		key = fmt.Sprintf("%s#%d", name, s.ordinals[name])
	} else {
		for _, run := range s.runs {
			if run.Key == callID {
				return
			}
		}
	}
	s.runs = append(s.runs, types.ToolRun{
		Key:    key,
		Name:   name,
		Status: types.ToolRunning,
	})
}

// finish resolves a tool invocation. The match is by call id when present,
// otherwise the most recent running entry with the same name. A finish with
// no matching start appends a finished entry so the outcome is not lost.
func (s *toolRunSet) finish(callID, name string, ok bool, durationMs int64, errMsg string) {
	status := types.ToolOK
	if !ok {
		status = types.ToolFailed
	}

	if callID != "" {
		for i := len(s.runs) - 1; i >= 0; i-- {
			if s.runs[i].Key == callID {
				s.complete(i, status, durationMs, errMsg)
				return
			}
		}
	}
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].Status == types.ToolRunning && s.runs[i].Name == name {
			s.complete(i, status, durationMs, errMsg)
			return
		}
	}

	key := callID
	if key == "" {
		s.ordinals[name]++
		key = fmt.Sprintf("%s#%d", name, s.ordinals[name])
	}
	s.runs = append(s.runs, types.ToolRun{
		Key:        key,
		Name:       name,
		Status:     status,
		DurationMs: durationMs,
		Error:      errMsg,
	})
}

func (s *toolRunSet) complete(i int, status types.ToolRunStatus, durationMs int64, errMsg string) {
	s.runs[i].Status = status
	s.runs[i].DurationMs = durationMs
	s.runs[i].Error = errMsg
}

// snapshot returns a copy safe to hand to other goroutines.
func (s *toolRunSet) snapshot() []types.ToolRun {
	out := make([]types.ToolRun, len(s.runs))
	copy(out, s.runs)
	return out
}

// reset drops all entries.
func (s *toolRunSet) reset() {
	s.runs = nil
	s.ordinals = make(map[string]int)
}
