// Package discord implements platform.ChatPlatform over the Discord
// gateway using bwmarrin/discordgo, the one dependency in the module with
// no direct grounding in the teacher repo's channel layer — discordgo's
// session/event-handler shape is distinct enough from Telegram's
// long-polling loop that it's authored directly against its own docs
// (s.AddHandler, s.ChannelMessageSend/Edit/Delete), while reusing the same
// per-chat serialized task queue introduced in
// internal/platform/telegram for the ChatPlatform contract.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/branchpoint/claudegate/internal/platform"
)

// Config holds the Discord bot's credentials.
type Config struct {
	Token string
}

// Bot is a platform.ChatPlatform backed by a discordgo gateway session.
type Bot struct {
	session *discordgo.Session

	onMessage func(context.Context, platform.IncomingMessage)
	ctx       context.Context

	mu     sync.Mutex
	queues map[string]chan func()
}

var _ platform.ChatPlatform = (*Bot)(nil)

// New authenticates a discordgo session. The gateway connection itself is
// opened in Start.
func New(cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: failed to create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent | discordgo.IntentsDirectMessages

	return &Bot{
		session: session,
		queues:  make(map[string]chan func()),
	}, nil
}

func (b *Bot) OnMessage(fn func(context.Context, platform.IncomingMessage)) {
	b.onMessage = fn
}

func (b *Bot) Name() string { return "discord" }

// Start opens the gateway connection and begins dispatching
// MessageCreate events.
func (b *Bot) Start(ctx context.Context) error {
	b.ctx = ctx
	b.session.AddHandler(b.onMessageCreate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: failed to open gateway session: %w", err)
	}
	slog.Info("discord bot connected", "username", b.session.State.User.Username)
	return nil
}

func (b *Bot) Stop(ctx context.Context) error {
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("discord: failed to close session: %w", err)
	}
	return nil
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if b.onMessage == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if m.Content == "" {
		return
	}

	var replyTo string
	if m.MessageReference != nil && m.MessageReference.MessageID != "" {
		replyTo = m.MessageReference.MessageID
	} else if m.ReferencedMessage != nil {
		replyTo = m.ReferencedMessage.ID
	}

	b.onMessage(b.ctx, platform.IncomingMessage{
		Platform:         "discord",
		ChatID:           m.ChannelID,
		MessageID:        m.ID,
		ReplyToMessageID: replyTo,
		Text:             m.Content,
	})
}

// chatQueue returns (creating if needed) the serialized task queue for a
// channel, matching platform.ChatPlatform's per-(chat,message) ordering
// guarantee.
func (b *Bot) chatQueue(chatID string) chan func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[chatID]
	if ok {
		return q
	}

	q = make(chan func(), 64)
	b.queues[chatID] = q
	go func() {
		for task := range q {
			task()
		}
	}()
	return q
}

func (b *Bot) enqueue(chatID string, task func()) {
	b.chatQueue(chatID) <- task
}

func (b *Bot) QueueSendMessage(ctx context.Context, chatID, text string, opts platform.SendOptions) (string, error) {
	type result struct {
		id  string
		err error
	}
	resCh := make(chan result, 1)

	task := func() {
		send := &discordgo.MessageSend{Content: text}
		if opts.ReplyTo != "" {
			send.Reference = &discordgo.MessageReference{MessageID: opts.ReplyTo, ChannelID: chatID}
		}
		msg, err := b.session.ChannelMessageSendComplex(chatID, send)
		if err != nil {
			resCh <- result{"", fmt.Errorf("discord: send failed: %w", err)}
			return
		}
		resCh <- result{msg.ID, nil}
	}

	if opts.FireAndForget {
		b.enqueue(chatID, task)
		return "", nil
	}

	b.enqueue(chatID, task)
	select {
	case r := <-resCh:
		return r.id, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *Bot) QueueEditMessage(ctx context.Context, chatID, messageID, text string, opts platform.EditOptions) error {
	errCh := make(chan error, 1)
	task := func() {
		_, err := b.session.ChannelMessageEdit(chatID, messageID, text)
		errCh <- err
	}

	if opts.FireAndForget {
		b.enqueue(chatID, task)
		return nil
	}

	b.enqueue(chatID, task)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("discord: edit failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bot) QueueDeleteMessage(ctx context.Context, chatID, messageID string, fireAndForget bool) error {
	errCh := make(chan error, 1)
	task := func() {
		errCh <- b.session.ChannelMessageDelete(chatID, messageID)
	}

	if fireAndForget {
		b.enqueue(chatID, task)
		return nil
	}

	b.enqueue(chatID, task)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("discord: delete failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BatchDeleteSupported is true: Discord exposes bulk message deletion for
// channels (subject to the 2-14 day age limit the API itself enforces).
func (b *Bot) BatchDeleteSupported() bool { return true }

func (b *Bot) QueueDeleteMessages(ctx context.Context, chatID string, messageIDs []string, fireAndForget bool) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if len(messageIDs) == 1 {
		return b.QueueDeleteMessage(ctx, chatID, messageIDs[0], fireAndForget)
	}

	errCh := make(chan error, 1)
	task := func() {
		// The bulk-delete endpoint accepts at most 100 ids per call.
		for start := 0; start < len(messageIDs); start += 100 {
			end := min(start+100, len(messageIDs))
			if err := b.session.ChannelMessagesBulkDelete(chatID, messageIDs[start:end]); err != nil {
				errCh <- err
				return
			}
		}
		errCh <- nil
	}

	if fireAndForget {
		b.enqueue(chatID, task)
		return nil
	}

	b.enqueue(chatID, task)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("discord: bulk delete failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bot) FireAndForget(fn func()) {
	go fn()
}
