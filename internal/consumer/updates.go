// internal/consumer/updates.go
package consumer

import (
	"github.com/user/jobclaw/internal/types"
)

// Update is one progress notification emitted while a job is pending.
// Callers receive these on the consumer's update channel and apply them to
// whatever UI or storage layer they own; the consumer itself never touches
// presentation state.
type Update interface {
	isUpdate()
}

// StageUpdate reports a change in the coarse progress stage.
type StageUpdate struct {
	Info types.StageInfo
}

// ToolRunsUpdate carries the full ordered snapshot of tool runs after a
// tool event was applied.
type ToolRunsUpdate struct {
	Runs []types.ToolRun
}

// TextUpdate carries the accumulated assistant text after a coalesced
// flush. Tokens is an estimate of the reply size so far; 0 when no
// estimator is configured.
type TextUpdate struct {
	Text   string
	Tokens int
}

func (StageUpdate) isUpdate()    {}
func (ToolRunsUpdate) isUpdate() {}
func (TextUpdate) isUpdate()     {}

// Resolution is the terminal outcome of a job. Exactly one is produced per
// consumer run unless the run is cancelled first.
type Resolution struct {
	Status types.JobStatus
	Reply  string
	Err    string
}

// genericFailure is shown when a terminal failure carries no detail.
// Raw transport and decode diagnostics never reach the user.
const genericFailure = "The assistant was unable to complete this request."
