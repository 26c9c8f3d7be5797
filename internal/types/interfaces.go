// internal/types/interfaces.go
package types

import (
	"context"
	"io"
)

type SessionStore interface {
	ResolveOrCreate(ctx context.Context, key SessionKey) (SessionID, error)
	Get(ctx context.Context, id SessionID) (*SessionIndex, error)
	List(ctx context.Context) ([]*SessionIndex, error)
	Update(ctx context.Context, session *SessionIndex) error
	Touch(ctx context.Context, id SessionID, lastJob JobID, delta int64) error
}

type TranscriptStore interface {
	Append(ctx context.Context, msg *ChatMessage) error
	Tail(ctx context.Context, sessionID SessionID, limit int) ([]*ChatMessage, error)
	Count(ctx context.Context, sessionID SessionID) (int64, error)
}

// PendingStore persists the "job in flight" marker that survives restarts so
// a relaunched client can resume consuming a job it submitted earlier.
type PendingStore interface {
	Put(ctx context.Context, job *JobDescriptor) error
	Get(ctx context.Context, sessionID SessionID) (*JobDescriptor, error)
	Clear(ctx context.Context, sessionID SessionID) error
	List(ctx context.Context) ([]*JobDescriptor, error)
}

// Submitter turns a user message into a server-assigned job.
type Submitter interface {
	Submit(ctx context.Context, sessionID SessionID, requestID RequestID, text string) (*SubmitResult, error)
}

// StatusSource is the authoritative, idempotent job-status read.
type StatusSource interface {
	Status(ctx context.Context, jobID JobID) (*JobStatusInfo, error)
}

// StreamOpener opens the resumable event stream for a job. A non-zero
// lastEventID asks the server to resume delivery after that event.
type StreamOpener interface {
	OpenStream(ctx context.Context, jobID JobID, lastEventID int64) (io.ReadCloser, error)
}
