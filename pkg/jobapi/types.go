package jobapi

// SubmitRequest is the body of a job submission.
type SubmitRequest struct {
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
}

// SubmitResponse carries the server-assigned fields of a new job.
type SubmitResponse struct {
	JobID         string `json:"job_id"`
	LaneID        string `json:"lane_id,omitempty"`
	QueuePosition int    `json:"queue_position,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
}

// StatusResponse is the authoritative view of a job. Reply and Error are
// populated only when Status is terminal.
type StatusResponse struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	Reply         string `json:"reply,omitempty"`
	Error         string `json:"error,omitempty"`
	QueuePosition int    `json:"queue_position,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
}
