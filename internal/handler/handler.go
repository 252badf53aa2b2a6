// Package handler implements the messaging front-end's per-node request
// processor, grounded on original_source/messaging/handler.py: it owns the
// tree.QueueManager, dispatches incoming platform messages into new trees or
// replies, and drives a CLISession through to completion while progressively
// editing a single status message with the live transcript.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/branchpoint/claudegate/internal/clisession"
	"github.com/branchpoint/claudegate/internal/platform"
	"github.com/branchpoint/claudegate/internal/store"
	"github.com/branchpoint/claudegate/internal/tree"
)

// statusMessagePrefixes mirrors STATUS_MESSAGE_PREFIXES: an incoming message
// that starts with one of these emoji is one of our own status edits, never
// a reply target to re-process (guards against a platform's echo/copy of a
// bot message reappearing as "new" input).
var statusMessagePrefixes = []string{"⏳", "💭", "🔧", "✅", "❌", "🚀", "🤖", "📋", "📊", "🔄"}

func looksLikeStatusMessage(text string) bool {
	for _, p := range statusMessagePrefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}

// transcriptEventTypes are CLI event types that add to the rendered
// transcript body, as opposed to ones that only affect status/control flow.
var transcriptEventTypes = map[string]bool{
	"thinking_start": true, "thinking_delta": true, "thinking_chunk": true,
	"text_start": true, "text_delta": true, "text_chunk": true,
	"tool_use_start": true, "tool_use_delta": true, "tool_use": true,
	"tool_result": true,
}

// eventStatusMap gives the (emoji, label) status line to show while an event
// type is actively streaming, per handler.py's _EVENT_STATUS_MAP.
var eventStatusMap = map[string][2]string{
	"thinking_start": {"💭", "Thinking"},
	"thinking_delta": {"💭", "Thinking"},
	"thinking_chunk": {"💭", "Thinking"},
	"text_start":     {"🚀", "Responding"},
	"text_delta":     {"🚀", "Responding"},
	"text_chunk":     {"🚀", "Responding"},
	"tool_use_start": {"🔧", "Using tool"},
	"tool_use_delta": {"🔧", "Using tool"},
	"tool_use":       {"🔧", "Using tool"},
	"tool_result":    {"🔧", "Using tool"},
}

func statusForEvent(ev clisession.Event, formatStatus FormatStatusFunc) (string, bool) {
	pair, ok := eventStatusMap[ev.Type]
	if !ok {
		return "", false
	}
	label := pair[1]
	if ev.Type == "tool_use_start" || ev.Type == "tool_use" {
		if ev.Name != "" {
			label = label + ": " + ev.Name
		}
	}
	return formatStatus(pair[0], label), true
}

// uiEditThrottle is the minimum spacing between non-forced status edits.
const uiEditThrottle = 1 * time.Second

// discordCharLimit and telegramCharLimit bound how much transcript text is
// kept in a single edited message; Discord caps message bodies at 2000
// characters and Telegram at 4096, so each limit leaves some headroom.
const (
	discordCharLimit  = 1900
	telegramCharLimit = 3900
)

// Handler orchestrates one messaging front-end (Telegram or Discord): it
// owns the cross-chat QueueManager and drives nodes through CLISession.
type Handler struct {
	platform   platform.ChatPlatform
	cliManager clisession.Manager
	store      store.Store
	queue      *tree.QueueManager

	formatStatus FormatStatusFunc
	parseMode    platform.ParseMode
	renderCtx    RenderCtx
	limitChars   int

	showToolResults bool
}

// New constructs a Handler wired to p, selecting Discord's or Telegram's
// render primitives, status formatter, parse mode, and transcript character
// limit by p.Name(), per handler.py's __init__.
func New(p platform.ChatPlatform, cliManager clisession.Manager, st store.Store) *Handler {
	h := &Handler{
		platform:   p,
		cliManager: cliManager,
		store:      st,
	}

	switch p.Name() {
	case "discord":
		h.renderCtx = discordRenderCtx()
		h.formatStatus = formatStatusDiscord
		h.parseMode = "markdown"
		h.limitChars = discordCharLimit
	default: // telegram
		h.renderCtx = telegramRenderCtx()
		h.formatStatus = formatStatusTelegram
		h.parseMode = "MarkdownV2"
		h.limitChars = telegramCharLimit
	}

	h.queue = tree.NewQueueManager(h.processNode, tree.Callbacks{
		OnQueueChanged: h.updateQueuePositions,
		OnNodeStarted:  h.markNodeProcessing,
	})

	return h
}

// Queue exposes the QueueManager for commands.go and app wiring.
func (h *Handler) Queue() *tree.QueueManager { return h.queue }

// HandleMessage is the platform-agnostic entry point for an incoming user
// message: command dispatch, status-echo filtering, reply resolution, and
// tree creation/extension, per handler.py's handle_message.
func (h *Handler) HandleMessage(ctx context.Context, msg platform.IncomingMessage) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	switch {
	case text == "/stop" || strings.HasPrefix(text, "/stop "):
		h.handleStopCommand(ctx, msg)
		return
	case text == "/stats":
		h.handleStatsCommand(ctx, msg)
		return
	case text == "/clear":
		h.handleClearCommand(ctx, msg)
		return
	}

	if looksLikeStatusMessage(text) {
		return
	}

	if err := h.store.RecordMessageID(ctx, h.platform.Name(), msg.ChatID, msg.MessageID, "in", "content"); err != nil {
		slog.Warn("handler: failed to record inbound message id", "error", err)
	}

	var t *tree.Tree
	var n *tree.Node

	if msg.IsReply() {
		parentID := h.queue.ResolveParentNodeID(msg.ReplyToMessageID)
		if parentID == "" && msg.StatusMessageID != "" {
			parentID = h.queue.ResolveParentNodeID(msg.StatusMessageID)
		}
		if parentID != "" {
			t = h.queue.TreeForNode(parentID)
			n = &tree.Node{
				ID:              tree.NewNodeID(),
				ChatID:          msg.ChatID,
				UserMessageID:   msg.MessageID,
				MessageThreadID: msg.MessageThreadID,
				Prompt:          text,
				State:           tree.StatePending,
				CreatedAt:       nowFunc(),
			}
			var err error
			t, err = h.queue.AttachChild(parentID, n)
			if err != nil {
				slog.Warn("handler: failed to attach reply node, starting a new tree instead", "error", err)
				t = nil
			}
		}
	}

	if t == nil {
		n = &tree.Node{
			ID:              tree.NewNodeID(),
			ChatID:          msg.ChatID,
			UserMessageID:   msg.MessageID,
			MessageThreadID: msg.MessageThreadID,
			Prompt:          text,
			State:           tree.StatePending,
			CreatedAt:       nowFunc(),
		}
		t = h.queue.CreateTree(n)
	}

	if err := h.store.RegisterNode(ctx, n.ID, t.RootID); err != nil {
		slog.Warn("handler: failed to register node with store", "error", err)
	}

	h.sendInitialStatus(ctx, t, n)
	h.queue.Enqueue(ctx, t, n)
}

// sendInitialStatus posts the first status message for a freshly queued
// node (its position in the queue, or "Starting..." if it will run
// immediately), and records the resulting message id as the node's status
// message plus an alias so replies to it resolve back to n.
func (h *Handler) sendInitialStatus(ctx context.Context, t *tree.Tree, n *tree.Node) {
	text := h.formatStatus("📋", "Queued", h.queuePositionSuffix(t, n))
	if !h.queue.IsNodeTreeBusy(n.ID) && t.QueueLen() <= 1 {
		text = h.formatStatus("🚀", "Starting...")
	}

	msgID, err := h.platform.QueueSendMessage(ctx, n.ChatID, text, platform.SendOptions{
		ReplyTo:         n.UserMessageID,
		MessageThreadID: n.MessageThreadID,
		ParseMode:       h.parseMode,
	})
	if err != nil {
		slog.Error("handler: failed to send initial status message", "node", n.ID, "error", err)
		return
	}

	n.StatusMessageID = msgID
	h.queue.RegisterAlias(msgID, n.ID)
	if err := h.store.RecordMessageID(ctx, h.platform.Name(), n.ChatID, msgID, "out", "status"); err != nil {
		slog.Warn("handler: failed to record status message id", "error", err)
	}
}

func (h *Handler) queuePositionSuffix(t *tree.Tree, n *tree.Node) string {
	pos := 0
	for i, id := range t.QueueSnapshot() {
		if id == n.ID {
			pos = i + 1
			break
		}
	}
	if pos == 0 {
		return ""
	}
	return fmt.Sprintf("(position %d)", pos)
}

// updateQueuePositions re-renders every still-pending node's status line
// with its current queue position, called whenever the queue shape changes.
func (h *Handler) updateQueuePositions(t *tree.Tree) {
	ctx := context.Background()
	for i, id := range t.QueueSnapshot() {
		n := t.Node(id)
		if n == nil || n.StatusMessageID == "" {
			continue
		}
		text := h.formatStatus("📋", "Queued", fmt.Sprintf("(position %d)", i+1))
		h.platform.FireAndForget(func() {
			_ = h.platform.QueueEditMessage(ctx, n.ChatID, n.StatusMessageID, text, platform.EditOptions{ParseMode: h.parseMode})
		})
	}
}

// markNodeProcessing flips a dequeued node's status line to "Starting...".
func (h *Handler) markNodeProcessing(t *tree.Tree, n *tree.Node) {
	if n.StatusMessageID == "" {
		return
	}
	text := h.formatStatus("🚀", "Starting...")
	h.platform.FireAndForget(func() {
		_ = h.platform.QueueEditMessage(context.Background(), n.ChatID, n.StatusMessageID, text, platform.EditOptions{ParseMode: h.parseMode})
	})
}

// nowFunc is indirected so tests can pin node creation timestamps.
var nowFunc = time.Now

// processNode drives n's CLISession from acquisition through completion,
// progressively editing n's status message with the live transcript. This
// is the Go counterpart of _process_node_impl; ctx is cancelled by
// QueueManager.CancelNode/CancelBranch/CancelAll, which is how /stop and
// error propagation reach an in-flight task.
func (h *Handler) processNode(ctx context.Context, t *tree.Tree, n *tree.Node) {
	transcript := NewTranscriptBuffer(h.showToolResults)
	parentSessionID := t.GetParentSessionID(n.ID)

	var lastEdit time.Time
	var lastText string

	updateUI := func(status string, force bool) {
		now := time.Now()
		if !force && now.Sub(lastEdit) < uiEditThrottle {
			// Mirrors the original's throttle: a dropped update never
			// updates lastText either, so the next allowed edit still
			// diffs against the last edit actually sent.
			return
		}
		text := transcript.Render(h.renderCtx, h.limitChars, status)
		if text == lastText {
			return
		}
		lastText = text
		lastEdit = now
		if n.StatusMessageID == "" {
			return
		}
		if err := h.platform.QueueEditMessage(ctx, n.ChatID, n.StatusMessageID, text, platform.EditOptions{ParseMode: h.parseMode}); err != nil {
			slog.Warn("handler: status edit failed", "node", n.ID, "error", err)
		}
	}

	sess, sessionID, _, err := h.cliManager.GetOrCreateSession(ctx, "")
	if err != nil {
		h.failNode(ctx, n, fmt.Sprintf("Could not start session: %s", err.Error()))
		return
	}
	defer func() {
		if err := h.cliManager.RemoveSession(context.Background(), sessionID); err != nil {
			slog.Warn("handler: failed to release cli session slot", "session", sessionID, "error", err)
		}
	}()

	events, err := sess.StartTask(ctx, n.Prompt, parentSessionID, parentSessionID != "")
	if err != nil {
		h.failNode(ctx, n, fmt.Sprintf("Could not start task: %s", err.Error()))
		return
	}

	var streamErr error
	var cancelled bool
	var realSessionID string

loop:
	for {
		select {
		case <-ctx.Done():
			cancelled = true
			break loop

		case ev, ok := <-events:
			if !ok {
				break loop
			}

			switch ev.Type {
			case "session_info":
				realSessionID = ev.SessionID
				if realSessionID != "" {
					if err := h.cliManager.RegisterRealSessionID(ctx, sessionID, realSessionID); err != nil {
						slog.Warn("handler: failed to register real session id", "error", err)
					} else {
						sessionID = realSessionID
					}
				}
				continue

			case "error":
				transcript.Apply(ev)
				streamErr = errors.New(ev.Message)
				updateUI(h.formatStatus("❌", "Error", ev.Message), true)
				break loop

			case "complete":
				updateUI(h.formatStatus("✅", "Complete"), true)
				break loop
			}

			if transcriptEventTypes[ev.Type] {
				transcript.Apply(ev)
			}

			if status, ok := statusForEvent(ev, h.formatStatus); ok {
				force := ev.Type == "tool_use" || ev.Type == "tool_use_start" || strings.HasSuffix(ev.Type, "_stop")
				updateUI(status, force)
			}
		}
	}

	switch {
	case cancelled:
		reason := n.CancelReason
		label := "Cancelled"
		if reason == "stop" {
			label = "Stopped."
		}
		updateUI(h.formatStatus("❌", label), true)
		if err := t.UpdateState(n.ID, tree.StateError, realSessionID, label); err != nil {
			slog.Warn("handler: failed to mark cancelled node state", "error", err)
		}

	case streamErr != nil:
		if err := t.UpdateState(n.ID, tree.StateError, realSessionID, streamErr.Error()); err != nil {
			slog.Warn("handler: failed to mark errored node state", "error", err)
		}
		h.propagateErrorToChildren(n.ID, streamErr.Error())

	default:
		if err := t.UpdateState(n.ID, tree.StateCompleted, realSessionID, ""); err != nil {
			slog.Warn("handler: failed to mark completed node state", "error", err)
		}
	}

}

// failNode marks n as errored before a CLISession was ever acquired (no
// transcript was produced), editing its status message directly.
func (h *Handler) failNode(ctx context.Context, n *tree.Node, msg string) {
	text := h.formatStatus("❌", "Task Failed", msg)
	if n.StatusMessageID != "" {
		_ = h.platform.QueueEditMessage(ctx, n.ChatID, n.StatusMessageID, text, platform.EditOptions{ParseMode: h.parseMode})
	}
	t := h.queue.TreeForNode(n.ID)
	if t != nil {
		_ = t.UpdateState(n.ID, tree.StateError, "", msg)
	}
	h.propagateErrorToChildren(n.ID, msg)
}

// propagateErrorToChildren marks every pending descendant of nodeID as
// failed and edits each one's status message, mirroring
// _propagate_error_to_children. The node itself is not re-edited here: its
// own terminal status was already rendered by its caller.
func (h *Handler) propagateErrorToChildren(nodeID, parentErr string) {
	affected := h.queue.MarkNodeError(nodeID, parentErr, true)
	childText := h.formatStatus("❌", "Cancelled", "parent task failed")
	for _, child := range affected {
		if child.ID == nodeID || child.StatusMessageID == "" {
			continue
		}
		n := child
		h.platform.FireAndForget(func() {
			_ = h.platform.QueueEditMessage(context.Background(), n.ChatID, n.StatusMessageID, childText, platform.EditOptions{ParseMode: h.parseMode})
		})
	}
}
