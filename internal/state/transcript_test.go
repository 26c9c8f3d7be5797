// internal/state/transcript_test.go
package state

import (
	"context"
	"testing"
	"time"

	"github.com/user/jobclaw/internal/types"
)

func TestTranscriptStore(t *testing.T) {
	dir := t.TempDir()
	store := NewTranscriptStore(dir)
	ctx := context.Background()

	sessionID := types.NewSessionID()

	msg := &types.ChatMessage{
		ID:        types.NewMessageID(),
		SessionID: sessionID,
		Role:      "user",
		Content:   "hello",
		At:        time.Now(),
	}
	if err := store.Append(ctx, msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := store.Tail(ctx, sessionID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Content != "hello" {
		t.Errorf("expected content %q, got %q", "hello", msgs[0].Content)
	}

	count, err := store.Count(ctx, sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}
}

func TestTranscriptStoreTailLimit(t *testing.T) {
	dir := t.TempDir()
	store := NewTranscriptStore(dir)
	ctx := context.Background()

	sessionID := types.NewSessionID()
	contents := []string{"one", "two", "three", "four"}
	for _, c := range contents {
		msg := &types.ChatMessage{
			ID:        types.NewMessageID(),
			SessionID: sessionID,
			Role:      "user",
			Content:   c,
			At:        time.Now(),
		}
		if err := store.Append(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := store.Tail(ctx, sessionID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "three" || msgs[1].Content != "four" {
		t.Errorf("expected last two messages, got %q and %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestTranscriptStoreRejectsPending(t *testing.T) {
	dir := t.TempDir()
	store := NewTranscriptStore(dir)
	ctx := context.Background()

	msg := &types.ChatMessage{
		ID:        types.NewMessageID(),
		SessionID: types.NewSessionID(),
		Role:      "assistant",
		Content:   "Generating reply…",
		Pending:   true,
		At:        time.Now(),
	}
	if err := store.Append(ctx, msg); err == nil {
		t.Error("expected error appending pending placeholder")
	}
}

func TestTranscriptStoreEmptySession(t *testing.T) {
	dir := t.TempDir()
	store := NewTranscriptStore(dir)
	ctx := context.Background()

	msgs, err := store.Tail(ctx, types.NewSessionID(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}

	count, err := store.Count(ctx, types.NewSessionID())
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected count 0, got %d", count)
	}
}
