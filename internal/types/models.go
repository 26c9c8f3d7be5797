// internal/types/models.go
package types

import (
	"time"
)

// JobStatus is the authoritative server-side state of a chat job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is a final outcome.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed || s == JobCancelled
}

// JobDescriptor identifies one in-flight chat job. It is created once at
// submission and is immutable; all per-job state (cursor, tool runs, stage,
// accumulated text) is scoped to it and discarded with it.
type JobDescriptor struct {
	JobID         JobID      `json:"job_id"`
	RequestID     RequestID  `json:"request_id"`
	PlaceholderID MessageID  `json:"placeholder_id"`
	SessionID     SessionID  `json:"session_id"`
	LaneID        LaneID     `json:"lane_id,omitempty"`
	Text          string     `json:"text"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ChatMessage is one entry in a session transcript. Pending marks the
// transient assistant placeholder shown while a job is still streaming.
type ChatMessage struct {
	ID        MessageID `json:"id"`
	SessionID SessionID `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Pending   bool      `json:"pending,omitempty"`
	At        time.Time `json:"at"`
}

// ToolRunStatus tracks the outcome of one sub-task execution.
type ToolRunStatus string

const (
	ToolRunning ToolRunStatus = "running"
	ToolOK      ToolRunStatus = "ok"
	ToolFailed  ToolRunStatus = "failed"
)

// ToolRun is one distinguishable tool invocation reported by the stream.
// Key is the server call id when known, otherwise "name#ordinal".
type ToolRun struct {
	Key        string        `json:"key"`
	Name       string        `json:"name"`
	Status     ToolRunStatus `json:"status"`
	DurationMs int64         `json:"duration_ms,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Stage is the coarse display projection of job progress.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageQueued     Stage = "queued"
	StageProcessing Stage = "processing"
)

// StageInfo carries the stage plus lane position when the job is queued.
// Position and Size are zero when the server did not report them.
type StageInfo struct {
	Stage    Stage `json:"stage"`
	Position int   `json:"position,omitempty"`
	Size     int   `json:"size,omitempty"`
}

// JobStatusInfo is the status endpoint's view of a job. Reply and Error are
// populated only on terminal statuses.
type JobStatusInfo struct {
	JobID    JobID     `json:"job_id"`
	Status   JobStatus `json:"status"`
	Reply    string    `json:"reply,omitempty"`
	Error    string    `json:"error,omitempty"`
	Position int       `json:"queue_position,omitempty"`
	Size     int       `json:"queue_size,omitempty"`
}

// SubmitResult carries the server-assigned fields of a new job.
type SubmitResult struct {
	JobID    JobID  `json:"job_id"`
	LaneID   LaneID `json:"lane_id,omitempty"`
	Position int    `json:"queue_position,omitempty"`
	Size     int    `json:"queue_size,omitempty"`
}

// InboundMessage is a user message arriving from any front-end before it is
// bound to a session and submitted as a job.
type InboundMessage struct {
	Source     string     `json:"source"`
	SessionKey SessionKey `json:"session_key"`
	UserID     string     `json:"user_id,omitempty"`
	Text       string     `json:"text"`
}

// SessionIndex is one entry in the local session index file.
type SessionIndex struct {
	SessionID    SessionID  `json:"session_id"`
	SessionKey   SessionKey `json:"session_key"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastJobID    JobID      `json:"last_job_id,omitempty"`
	MessageCount int64      `json:"message_count"`
}
