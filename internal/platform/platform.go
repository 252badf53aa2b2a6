// Package platform defines the ChatPlatform port of spec.md §6, modeled on
// win30221-genesis/pkg/gateway/types.go's Channel interface shape but
// specialized to the edit-in-place status message workflow the Handler
// drives (a Channel there speaks in one-shot Send/Stream; a ChatPlatform
// here must additionally queue_edit_message and queue_delete_message against
// a message already sent).
package platform

import "context"

// ParseMode selects the markdown flavor a platform expects for formatted
// text, or "" for none.
type ParseMode string

// ChatPlatform is implemented once per front-end (Telegram, Discord). Every
// edit/send/delete is expected to be serialized per (chat, message) by the
// implementation itself, per spec.md §5's "PlatformPort serializes edits per
// (chat_id, message_id)" ordering guarantee.
type ChatPlatform interface {
	// Name identifies the platform ("telegram", "discord", ...) and selects
	// the Handler's RenderCtx/ParseMode/char-limit trio at construction time.
	Name() string

	// QueueSendMessage sends text to chat, optionally as a reply, and
	// returns the new message's id. If fireAndForget, the call may return
	// before delivery is confirmed (empty id).
	QueueSendMessage(ctx context.Context, chatID, text string, opts SendOptions) (messageID string, err error)

	// QueueEditMessage replaces messageID's text in chat.
	QueueEditMessage(ctx context.Context, chatID, messageID, text string, opts EditOptions) error

	// QueueDeleteMessage removes one message.
	QueueDeleteMessage(ctx context.Context, chatID, messageID string, fireAndForget bool) error

	// QueueDeleteMessages removes many messages, using the backend's batch
	// delete when it has one; BatchDeleteSupported reports whether it does
	// (an implementation without one loops QueueDeleteMessage itself).
	QueueDeleteMessages(ctx context.Context, chatID string, messageIDs []string, fireAndForget bool) error
	BatchDeleteSupported() bool

	// FireAndForget runs fn without the caller waiting on it, matching the
	// Python original's fire_and_forget(coro) escape hatch for UI updates
	// that must not block the processing loop.
	FireAndForget(fn func())
}

// SendOptions configures QueueSendMessage.
type SendOptions struct {
	ReplyTo         string
	MessageThreadID string
	ParseMode       ParseMode
	FireAndForget   bool
}

// EditOptions configures QueueEditMessage.
type EditOptions struct {
	ParseMode     ParseMode
	FireAndForget bool
}

// IncomingMessage is the platform-agnostic shape the Handler consumes,
// mirroring original_source/messaging/models.py's IncomingMessage.
type IncomingMessage struct {
	Platform  string
	ChatID    string
	MessageID string

	ReplyToMessageID string
	MessageThreadID   string

	Text string

	// StatusMessageID lets a platform pre-send a status message (e.g. while
	// transcribing a voice note) for the Handler to take over via edit
	// instead of sending a fresh one.
	StatusMessageID string
}

// IsReply reports whether the message replies to another message.
func (m IncomingMessage) IsReply() bool { return m.ReplyToMessageID != "" }
