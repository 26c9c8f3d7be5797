// internal/relay/client.go
package relay

import (
	"context"
	"io"

	"github.com/user/jobclaw/internal/types"
	"github.com/user/jobclaw/pkg/jobapi"
)

// APIClient adapts the wire-level jobapi client to the typed store and
// consumer interfaces used throughout the relay.
type APIClient struct {
	api *jobapi.Client
}

// NewAPIClient wraps a jobapi client.
func NewAPIClient(api *jobapi.Client) *APIClient {
	return &APIClient{api: api}
}

// Submit creates a job for the session. The request id keeps retried
// submissions idempotent on the server.
func (c *APIClient) Submit(ctx context.Context, sessionID types.SessionID, requestID types.RequestID, text string) (*types.SubmitResult, error) {
	resp, err := c.api.Submit(ctx, string(sessionID), string(requestID), text)
	if err != nil {
		return nil, err
	}
	return &types.SubmitResult{
		JobID:    types.JobID(resp.JobID),
		LaneID:   types.LaneID(resp.LaneID),
		Position: resp.QueuePosition,
		Size:     resp.QueueSize,
	}, nil
}

// Status reads the authoritative state of a job.
func (c *APIClient) Status(ctx context.Context, jobID types.JobID) (*types.JobStatusInfo, error) {
	resp, err := c.api.Status(ctx, string(jobID))
	if err != nil {
		return nil, err
	}
	return &types.JobStatusInfo{
		JobID:    types.JobID(resp.JobID),
		Status:   types.JobStatus(resp.Status),
		Reply:    resp.Reply,
		Error:    resp.Error,
		Position: resp.QueuePosition,
		Size:     resp.QueueSize,
	}, nil
}

// OpenStream opens the resumable event stream for a job.
func (c *APIClient) OpenStream(ctx context.Context, jobID types.JobID, lastEventID int64) (io.ReadCloser, error) {
	return c.api.OpenStream(ctx, string(jobID), lastEventID)
}

var (
	_ types.Submitter    = (*APIClient)(nil)
	_ types.StatusSource = (*APIClient)(nil)
	_ types.StreamOpener = (*APIClient)(nil)
)
