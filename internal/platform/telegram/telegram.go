// Package telegram implements platform.ChatPlatform over the Telegram Bot
// API, grounded on win30221-genesis/pkg/channels/telegram/telegram_channel.go
// for its long-polling update loop and forced-abort Stop() shape. The
// edit-in-place queueing this package adds (telegram_channel.go only ever
// sends fresh messages) is new: one worker goroutine per chat drains a
// per-chat task queue so sends/edits/deletes against the same message never
// race each other, matching platform.ChatPlatform's per-(chat,message)
// serialization guarantee.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/branchpoint/claudegate/internal/platform"
)

// Config holds the Telegram bot's credentials.
type Config struct {
	Token string
}

// Bot is a platform.ChatPlatform backed by long-polling against the
// Telegram Bot API.
type Bot struct {
	bot *tgbotapi.BotAPI

	onMessage func(context.Context, platform.IncomingMessage)

	stopCtx    context.Context
	stopCancel context.CancelFunc

	mu     sync.Mutex
	queues map[int64]chan func()
}

var _ platform.ChatPlatform = (*Bot)(nil)

// New authenticates against the Telegram Bot API.
func New(cfg Config) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: failed to authenticate: %w", err)
	}
	slog.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Bot{
		bot:    bot,
		queues: make(map[int64]chan func()),
	}, nil
}

// OnMessage registers the callback invoked for every incoming update that
// carries text. Must be called before Start.
func (b *Bot) OnMessage(fn func(context.Context, platform.IncomingMessage)) {
	b.onMessage = fn
}

func (b *Bot) Name() string { return "telegram" }

// Start begins the long-polling update loop in the background.
func (b *Bot) Start(ctx context.Context) error {
	b.stopCtx, b.stopCancel = context.WithCancel(ctx)

	go func() {
		offset := 0
		for {
			select {
			case <-b.stopCtx.Done():
				return
			default:
			}

			req := tgbotapi.NewUpdate(offset)
			req.Timeout = 60

			updates, err := b.bot.GetUpdates(req)
			if err != nil {
				select {
				case <-b.stopCtx.Done():
					return
				default:
					slog.Debug("telegram: failed to get updates", "error", err)
					time.Sleep(3 * time.Second)
					continue
				}
			}

			for _, update := range updates {
				if update.UpdateID >= offset {
					offset = update.UpdateID + 1
				}
				b.handleUpdate(update)
			}
		}
	}()

	return nil
}

func (b *Bot) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || b.onMessage == nil {
		return
	}
	msg := update.Message

	text := msg.Text
	if text == "" {
		return
	}

	var replyTo string
	if msg.ReplyToMessage != nil {
		replyTo = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}

	var threadID string
	if msg.MessageThreadID != 0 {
		threadID = strconv.Itoa(msg.MessageThreadID)
	}

	b.onMessage(b.stopCtx, platform.IncomingMessage{
		Platform:         "telegram",
		ChatID:           strconv.FormatInt(msg.Chat.ID, 10),
		MessageID:        strconv.Itoa(msg.MessageID),
		ReplyToMessageID: replyTo,
		MessageThreadID:  threadID,
		Text:             text,
	})
}

// Stop aborts the long-polling loop.
func (b *Bot) Stop(ctx context.Context) error {
	if b.stopCancel != nil {
		b.stopCancel()
	}
	return nil
}

// chatQueue returns (creating if needed) the serialized task queue for a
// chat, backed by a single worker goroutine that runs tasks in submission
// order.
func (b *Bot) chatQueue(chatID int64) chan func() {
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

func (b *Bot) enqueue(chatID int64, task func()) {
	b.chatQueue(chatID) <- task
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	return id, nil
}

func telegramParseMode(mode platform.ParseMode) string {
	switch mode {
	case "MarkdownV2":
		return tgbotapi.ModeMarkdownV2
	case "markdown":
		return tgbotapi.ModeMarkdown
	default:
		return ""
	}
}

func (b *Bot) QueueSendMessage(ctx context.Context, chatID, text string, opts platform.SendOptions) (string, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return "", err
	}

	type result struct {
		id  string
		err error
	}
	resCh := make(chan result, 1)

	task := func() {
		msg := tgbotapi.NewMessage(id, text)
		if mode := telegramParseMode(opts.ParseMode); mode != "" {
			msg.ParseMode = mode
		}
		if opts.ReplyTo != "" {
			if replyID, err := strconv.Atoi(opts.ReplyTo); err == nil {
				msg.ReplyToMessageID = replyID
			}
		}
		if opts.MessageThreadID != "" {
			if threadID, err := strconv.Atoi(opts.MessageThreadID); err == nil {
				msg.MessageThreadID = threadID
			}
		}

		sent, err := b.bot.Send(msg)
		if err != nil {
			resCh <- result{"", fmt.Errorf("telegram: send failed: %w", err)}
			return
		}
		resCh <- result{strconv.Itoa(sent.MessageID), nil}
	}

	if opts.FireAndForget {
		b.enqueue(id, task)
		return "", nil
	}

	b.enqueue(id, task)
	select {
	case r := <-resCh:
		return r.id, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *Bot) QueueEditMessage(ctx context.Context, chatID, messageID, text string, opts platform.EditOptions) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("telegram: invalid message id %q: %w", messageID, err)
	}

	errCh := make(chan error, 1)
	task := func() {
		edit := tgbotapi.NewEditMessageText(id, msgID, text)
		if mode := telegramParseMode(opts.ParseMode); mode != "" {
			edit.ParseMode = mode
		}
		_, err := b.bot.Send(edit)
		errCh <- err
	}

	if opts.FireAndForget {
		b.enqueue(id, task)
		return nil
	}

	b.enqueue(id, task)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("telegram: edit failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bot) QueueDeleteMessage(ctx context.Context, chatID, messageID string, fireAndForget bool) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("telegram: invalid message id %q: %w", messageID, err)
	}

	errCh := make(chan error, 1)
	task := func() {
		_, err := b.bot.Request(tgbotapi.NewDeleteMessage(id, msgID))
		errCh <- err
	}

	if fireAndForget {
		b.enqueue(id, task)
		return nil
	}

	b.enqueue(id, task)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("telegram: delete failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BatchDeleteSupported is false: the Bot API has no bulk-delete endpoint, so
// QueueDeleteMessages below loops QueueDeleteMessage.
func (b *Bot) BatchDeleteSupported() bool { return false }

func (b *Bot) QueueDeleteMessages(ctx context.Context, chatID string, messageIDs []string, fireAndForget bool) error {
	for _, id := range messageIDs {
		if err := b.QueueDeleteMessage(ctx, chatID, id, fireAndForget); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) FireAndForget(fn func()) {
	go fn()
}
