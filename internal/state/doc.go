// Package state provides filesystem-backed storage implementations.
package state

import "github.com/user/jobclaw/internal/types"

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionStore)(nil)
var _ types.TranscriptStore = (*TranscriptStore)(nil)
var _ types.PendingStore = (*PendingStore)(nil)
