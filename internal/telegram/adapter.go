// internal/telegram/adapter.go

// Package telegram bridges Telegram chats to the relay: inbound messages
// become chat jobs and resolved replies are sent back to the originating
// chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/jobclaw/internal/consumer"
	"github.com/user/jobclaw/internal/delivery"
	"github.com/user/jobclaw/internal/relay"
	"github.com/user/jobclaw/internal/types"
)

const maxTelegramMessage = 4096

// Adapter bridges Telegram to the relay.
type Adapter struct {
	bot        *tgbotapi.BotAPI
	relay      *relay.Relay
	sessions   types.SessionStore
	transcript types.TranscriptStore
	pending    types.PendingStore
}

// New creates a Telegram adapter.
func New(token string, r *relay.Relay, sessions types.SessionStore, transcript types.TranscriptStore, pending types.PendingStore) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{
		bot:        bot,
		relay:      r,
		sessions:   sessions,
		transcript: transcript,
		pending:    pending,
	}, nil
}

// Register installs this adapter as the delivery handler for "telegram:"
// session keys, so replies resolved after a restart still reach the chat.
func (a *Adapter) Register(reg *delivery.Registry) {
	reg.Register("telegram:", func(_ context.Context, sessionKey types.SessionKey, reply string) error {
		chatID, err := chatIDFromKey(sessionKey)
		if err != nil {
			return err
		}
		a.sendReply(chatID, reply)
		return nil
	})
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	inbound := &types.InboundMessage{
		Source:     "telegram",
		SessionKey: buildSessionKey(msg.From.ID, msg.Chat.ID),
		UserID:     strconv.FormatInt(msg.From.ID, 10),
		Text:       msg.Text,
	}

	progress := a.newProgress(chatID)
	_, err := a.relay.HandleInbound(ctx, inbound,
		relay.WithOnUpdate(progress.apply),
		relay.WithOnComplete(func(reply string) {
			progress.clear()
			a.sendReply(chatID, reply)
		}),
	)
	if err != nil {
		progress.clear()
		slog.Error("handle inbound failed", "chat_id", chatID, "error", err)
		a.sendReply(chatID, "Sorry, I could not submit your message. Please try again.")
	}
}

// editThrottle is the minimum interval between status-message edits.
// Telegram rejects edits delivered faster than about one per second.
const editThrottle = 1500 * time.Millisecond

// jobProgress mirrors one job's stream onto a single status message in the
// chat, edited in place as the job advances.
type jobProgress struct {
	adapter *Adapter
	chatID  int64

	mu       sync.Mutex
	msgID    int
	lastText string
	lastEdit time.Time
}

func (a *Adapter) newProgress(chatID int64) *jobProgress {
	return &jobProgress{adapter: a, chatID: chatID}
}

func (p *jobProgress) apply(u consumer.Update) {
	switch u := u.(type) {
	case consumer.StageUpdate:
		switch u.Info.Stage {
		case types.StageQueued:
			if u.Info.Position > 0 {
				p.show(fmt.Sprintf("Queued (%d of %d)…", u.Info.Position, u.Info.Size))
			} else {
				p.show("Queued…")
			}
		case types.StageProcessing:
			p.show("Thinking…")
		}

	case consumer.ToolRunsUpdate:
		for i := len(u.Runs) - 1; i >= 0; i-- {
			if u.Runs[i].Status == types.ToolRunning {
				p.show(fmt.Sprintf("Running %s…", u.Runs[i].Name))
				return
			}
		}
		p.show("Thinking…")

	case consumer.TextUpdate:
		p.show("Writing reply…")
	}
}

// show edits the status message to text, creating it on first use. Edits
// are throttled; a skipped edit is simply superseded by the next one.
func (p *jobProgress) show(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if text == p.lastText {
		return
	}
	if p.msgID == 0 {
		msg, err := p.adapter.bot.Send(tgbotapi.NewMessage(p.chatID, text))
		if err != nil {
			slog.Debug("status message send failed", "chat_id", p.chatID, "error", err)
			return
		}
		p.msgID = msg.MessageID
		p.lastText = text
		p.lastEdit = time.Now()
		return
	}
	if time.Since(p.lastEdit) < editThrottle {
		return
	}
	edit := tgbotapi.NewEditMessageText(p.chatID, p.msgID, text)
	if _, err := p.adapter.bot.Request(edit); err != nil {
		slog.Debug("status message edit failed", "chat_id", p.chatID, "error", err)
		return
	}
	p.lastText = text
	p.lastEdit = time.Now()
}

// clear removes the status message once the reply is ready.
func (p *jobProgress) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.msgID == 0 {
		return
	}
	del := tgbotapi.NewDeleteMessage(p.chatID, p.msgID)
	if _, err := p.adapter.bot.Request(del); err != nil {
		slog.Debug("status message delete failed", "chat_id", p.chatID, "error", err)
	}
	p.msgID = 0
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		a.sendReply(chatID, "Hello! Send me a message and I'll get you an answer.")

	case "status":
		key := buildSessionKey(msg.From.ID, msg.Chat.ID)
		sid, err := a.sessions.ResolveOrCreate(ctx, key)
		if err != nil {
			a.sendReply(chatID, "Error fetching status.")
			return
		}
		count, err := a.transcript.Count(ctx, sid)
		if err != nil {
			a.sendReply(chatID, "Error fetching status.")
			return
		}
		status := fmt.Sprintf("Session: %s\nMessages: %d", sid, count)
		if job, err := a.pending.Get(ctx, sid); err == nil && job != nil {
			status += fmt.Sprintf("\nIn flight: job %s", job.JobID)
		}
		a.sendReply(chatID, status)

	default:
		a.sendReply(chatID, "Unknown command. Available: /start, /status")
	}
}

func (a *Adapter) sendReply(chatID int64, text string) {
	rendered := delivery.RenderText(text)
	for _, part := range delivery.Chunk(rendered, maxTelegramMessage) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				slog.Error("send message failed", "chat_id", chatID, "error", err)
			}
		}
	}
}

func buildSessionKey(userID, chatID int64) types.SessionKey {
	return types.NewSessionKey("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}

// chatIDFromKey recovers the chat id from a "telegram:<user>:<chat>" key.
func chatIDFromKey(key types.SessionKey) (int64, error) {
	parts := strings.Split(string(key), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed telegram session key: %s", key)
	}
	chatID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed telegram chat id in key %s: %w", key, err)
	}
	return chatID, nil
}
