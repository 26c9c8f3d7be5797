// internal/state/pending.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/jobclaw/internal/types"
)

// PendingStore persists the in-flight job marker for each session at
// sessions/<sessionID>/pending.json. The marker is written when a job is
// submitted and removed once the job resolves, so a restarted client can
// find and re-attach to jobs it left behind.
type PendingStore struct {
	root string
	mu   sync.Mutex
}

// NewPendingStore creates a file-backed PendingStore rooted at the given directory.
func NewPendingStore(root string) *PendingStore {
	return &PendingStore{root: root}
}

func (p *PendingStore) pendingPath(sessionID types.SessionID) string {
	return filepath.Join(p.root, "sessions", string(sessionID), "pending.json")
}

// Put writes the pending marker for the job's session, replacing any
// previous marker. A session carries at most one in-flight job.
func (p *PendingStore) Put(_ context.Context, job *types.JobDescriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dir := filepath.Dir(p.pendingPath(job.SessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pending job: %w", err)
	}

	tmp := p.pendingPath(job.SessionID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp pending marker: %w", err)
	}
	if err := os.Rename(tmp, p.pendingPath(job.SessionID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp pending marker: %w", err)
	}
	return nil
}

// Get returns the session's pending job, or nil if the session has none.
func (p *PendingStore) Get(_ context.Context, sessionID types.SessionID) (*types.JobDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.pendingPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pending marker: %w", err)
	}

	var job types.JobDescriptor
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal pending marker: %w", err)
	}
	return &job, nil
}

// Clear removes the session's pending marker. Clearing a session with no
// marker is a no-op.
func (p *PendingStore) Clear(_ context.Context, sessionID types.SessionID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.Remove(p.pendingPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pending marker: %w", err)
	}
	return nil
}

// List walks the sessions directory and returns every pending job found.
func (p *PendingStore) List(_ context.Context) ([]*types.JobDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sessionsDir := filepath.Join(p.root, "sessions")
	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	var jobs []*types.JobDescriptor
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(sessionsDir, entry.Name(), "pending.json")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read pending marker: %w", err)
		}
		var job types.JobDescriptor
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, fmt.Errorf("unmarshal pending marker %s: %w", path, err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}
