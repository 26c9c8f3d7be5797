// internal/httpapi/server.go

// Package httpapi exposes the relay over a local HTTP surface: submit chat
// messages, inspect sessions and transcripts, proxy job status, and fire
// named tasks.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/user/jobclaw/internal/relay"
	"github.com/user/jobclaw/internal/state"
	"github.com/user/jobclaw/internal/types"
)

// Server is a lightweight HTTP handler over the relay and its stores.
type Server struct {
	relay      *relay.Relay
	sessions   types.SessionStore
	transcript types.TranscriptStore
	status     types.StatusSource
	tasks      *state.TaskStore
	mux        *http.ServeMux
}

// NewServer creates the HTTP surface. tasks and status may be nil, in which
// case their endpoints report unavailable.
func NewServer(r *relay.Relay, sessions types.SessionStore, transcript types.TranscriptStore, status types.StatusSource, tasks *state.TaskStore) *Server {
	s := &Server{
		relay:      r,
		sessions:   sessions,
		transcript: transcript,
		status:     status,
		tasks:      tasks,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/sessions/", s.handleSessionMessages)
	s.mux.HandleFunc("GET /api/jobs/", s.handleJobStatus)
	s.mux.HandleFunc("POST /webhook/", s.handleNamedTask)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	SessionKey string `json:"session_key"`
	Text       string `json:"text"`
}

// chatResponse acknowledges an accepted submission. The reply arrives
// asynchronously through the session transcript.
type chatResponse struct {
	JobID     string `json:"job_id"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Text == "" || req.SessionKey == "" {
		http.Error(w, `{"error":"text and session_key are required"}`, http.StatusBadRequest)
		return
	}

	inbound := &types.InboundMessage{
		Source:     "http",
		SessionKey: types.SessionKey(req.SessionKey),
		Text:       req.Text,
	}
	job, err := s.relay.HandleInbound(r.Context(), inbound)
	if err != nil {
		slog.Error("chat submit failed", "session_key", req.SessionKey, "error", err)
		http.Error(w, `{"error":"submit failed"}`, http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(chatResponse{
		JobID:     string(job.JobID),
		SessionID: string(job.SessionID),
	})
}

type sessionResponse struct {
	SessionID    string `json:"session_id"`
	SessionKey   string `json:"session_key"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	LastJobID    string `json:"last_job_id,omitempty"`
	MessageCount int64  `json:"message_count"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	result := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		count, err := s.transcript.Count(ctx, sess.SessionID)
		if err != nil {
			slog.Warn("count messages failed", "session_id", sess.SessionID, "error", err)
		}
		result = append(result, sessionResponse{
			SessionID:    string(sess.SessionID),
			SessionKey:   string(sess.SessionKey),
			CreatedAt:    sess.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			UpdatedAt:    sess.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
			LastJobID:    string(sess.LastJobID),
			MessageCount: count,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt > result[j].UpdatedAt
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	// Path: /api/sessions/{id}/messages
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) < 2 || parts[1] != "messages" {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	sessionID := types.SessionID(parts[0])

	limit := 200
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	msgs, err := s.relay.Messages(r.Context(), sessionID, limit)
	if err != nil {
		slog.Error("read messages failed", "session_id", sessionID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []*types.ChatMessage{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.Error(w, `{"error":"status proxy not configured"}`, http.StatusServiceUnavailable)
		return
	}
	jobID := types.JobID(strings.TrimPrefix(r.URL.Path, "/api/jobs/"))
	if jobID == "" {
		http.Error(w, `{"error":"job id required"}`, http.StatusBadRequest)
		return
	}

	info, err := s.status.Status(r.Context(), jobID)
	if err != nil {
		slog.Error("job status failed", "job_id", jobID, "error", err)
		http.Error(w, `{"error":"status fetch failed"}`, http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// namedTaskRequest is the optional JSON body for POST /webhook/{name}.
type namedTaskRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleNamedTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, `{"error":"tasks not configured"}`, http.StatusServiceUnavailable)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/webhook/")
	if name == "" {
		http.Error(w, `{"error":"task name required"}`, http.StatusBadRequest)
		return
	}

	task, err := s.tasks.Get(name)
	if err != nil {
		http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
		return
	}
	if !task.Enabled {
		http.Error(w, `{"error":"task is disabled"}`, http.StatusForbidden)
		return
	}

	prompt := task.Prompt
	// Allow body to override the prompt
	var body namedTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Prompt != "" {
		prompt = body.Prompt
	}

	inbound := &types.InboundMessage{
		Source:     "webhook",
		SessionKey: task.SessionKey,
		Text:       prompt,
	}
	job, err := s.relay.HandleInbound(r.Context(), inbound)
	if err != nil {
		slog.Error("webhook task submit failed", "task", name, "error", err)
		http.Error(w, `{"error":"submit failed"}`, http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(chatResponse{
		JobID:     string(job.JobID),
		SessionID: string(job.SessionID),
	})
}
