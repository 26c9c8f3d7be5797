// internal/overlay/overlay.go

// Package overlay reconciles a session transcript with a possibly-pending
// job so that reloading or switching sessions neither loses nor duplicates
// the optimistic placeholder shown while a job is streaming.
package overlay

import (
	"time"

	"github.com/user/jobclaw/internal/types"
)

// GeneratingText is the fixed status content of the assistant placeholder.
const GeneratingText = "Generating reply…"

// Apply returns the transcript to display for sessionID given the current
// pending job (nil when none). With no pending job for the session, stale
// pending placeholders from an earlier job are stripped. With a pending
// job, the submitted user turn and the assistant placeholder are
// synthesized unless already present. Apply is pure and idempotent:
// applying it to its own output changes nothing.
func Apply(msgs []*types.ChatMessage, pending *types.JobDescriptor, sessionID types.SessionID) []*types.ChatMessage {
	if pending == nil || pending.SessionID != sessionID {
		return strip(msgs, "")
	}

	out := strip(msgs, pending.PlaceholderID)

	if !hasPlaceholder(out, pending.PlaceholderID) {
		if !hasUserTurn(out, pending.Text) {
			out = append(out, &types.ChatMessage{
				ID:        types.MessageID(pending.RequestID),
				SessionID: sessionID,
				Role:      "user",
				Content:   pending.Text,
				At:        pending.CreatedAt,
			})
		}
		out = append(out, &types.ChatMessage{
			ID:        pending.PlaceholderID,
			SessionID: sessionID,
			Role:      "assistant",
			Content:   GeneratingText,
			Pending:   true,
			At:        time.Now(),
		})
	}

	return out
}

// strip removes transient placeholders other than keep. It never mutates
// the input slice.
func strip(msgs []*types.ChatMessage, keep types.MessageID) []*types.ChatMessage {
	out := make([]*types.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Pending && m.ID != keep {
			continue
		}
		out = append(out, m)
	}
	return out
}

func hasPlaceholder(msgs []*types.ChatMessage, id types.MessageID) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

func hasUserTurn(msgs []*types.ChatMessage, text string) bool {
	for _, m := range msgs {
		if m.Role == "user" && m.Content == text {
			return true
		}
	}
	return false
}
