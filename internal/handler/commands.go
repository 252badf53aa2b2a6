package handler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/branchpoint/claudegate/internal/platform"
	"github.com/branchpoint/claudegate/internal/tree"
)

// handleStopCommand implements /stop, grounded on commands.py's
// handle_stop_command: a reply to a status/user message cancels only that
// node (its descendants are left alone); a bare /stop cancels every tree's
// running and pending work.
func (h *Handler) handleStopCommand(ctx context.Context, msg platform.IncomingMessage) {
	if msg.IsReply() {
		nodeID := h.queue.ResolveParentNodeID(msg.ReplyToMessageID)
		if nodeID == "" && msg.StatusMessageID != "" {
			nodeID = h.queue.ResolveParentNodeID(msg.StatusMessageID)
		}
		if nodeID == "" {
			h.reply(ctx, msg, "Nothing to stop there.")
			return
		}

		t := h.queue.TreeForNode(nodeID)
		if t != nil {
			t.SetCancelReason(nodeID, "stop")
		}
		affected := h.queue.CancelNode(nodeID)
		h.reply(ctx, msg, fmt.Sprintf("Cancelled %d request(s).", len(affected)))
		return
	}

	affected := h.queue.CancelAll()
	h.reply(ctx, msg, fmt.Sprintf("Cancelled %d request(s).", len(affected)))
}

// handleStatsCommand implements /stats: active CLI sessions plus the number
// of live conversation trees, per commands.py's handle_stats_command.
func (h *Handler) handleStatsCommand(ctx context.Context, msg platform.IncomingMessage) {
	stats := h.cliManager.Stats()
	text := fmt.Sprintf("Active sessions: %d\nConversation trees: %d", stats.ActiveSessions, h.queue.TreeCount())
	h.reply(ctx, msg, text)
}

// handleClearCommand implements /clear. A reply clears just that branch
// (cancel then delete its messages); a bare /clear stops everything and
// wipes all persisted state, per commands.py's handle_clear_command.
func (h *Handler) handleClearCommand(ctx context.Context, msg platform.IncomingMessage) {
	if msg.IsReply() {
		nodeID := h.queue.ResolveParentNodeID(msg.ReplyToMessageID)
		if nodeID == "" && msg.StatusMessageID != "" {
			nodeID = h.queue.ResolveParentNodeID(msg.StatusMessageID)
		}
		if nodeID == "" {
			h.reply(ctx, msg, "Nothing to clear there.")
			return
		}
		h.clearBranch(ctx, msg, nodeID)
		return
	}
	h.clearAll(ctx, msg)
}

// clearBranch cancels nodeID's branch, deletes every message it produced,
// and removes it from the tree (and the store), mirroring
// _handle_clear_branch.
func (h *Handler) clearBranch(ctx context.Context, msg platform.IncomingMessage, nodeID string) {
	t := h.queue.TreeForNode(nodeID)
	if t != nil {
		t.SetCancelReason(nodeID, "stop")
	}
	h.queue.CancelBranch(nodeID)

	removed, rootID, removedEntireTree := h.queue.RemoveBranch(nodeID)
	ids := messageIDsForNodes(removed)

	if err := h.platform.QueueDeleteMessages(ctx, msg.ChatID, orderForDelete(ids), true); err != nil {
		slog.Warn("handler: batch delete failed during /clear branch", "error", err)
	}
	if err := h.store.RemoveNodeMappings(ctx, nodeIDsOf(removed)); err != nil {
		slog.Warn("handler: failed to remove node mappings from store", "error", err)
	}
	if removedEntireTree {
		if err := h.store.RemoveTree(ctx, rootID); err != nil {
			slog.Warn("handler: failed to remove tree from store", "error", err)
		}
	}

	h.reply(ctx, msg, "Cleared.")
}

// clearAll stops every task in every tree, deletes every recorded message in
// the chat, and wipes persisted state, mirroring handle_clear_command's
// global branch.
func (h *Handler) clearAll(ctx context.Context, msg platform.IncomingMessage) {
	h.queue.CancelAll()

	ids, err := h.store.MessageIDsForChat(ctx, h.platform.Name(), msg.ChatID)
	if err != nil {
		slog.Warn("handler: failed to load message ids for /clear", "error", err)
	}
	if err := h.platform.QueueDeleteMessages(ctx, msg.ChatID, orderForDelete(ids), true); err != nil {
		slog.Warn("handler: batch delete failed during global /clear", "error", err)
	}

	if err := h.store.ClearAll(ctx); err != nil {
		slog.Warn("handler: failed to clear store", "error", err)
	}
	h.queue.Reset()

	h.reply(ctx, msg, "Cleared everything.")
}

func (h *Handler) reply(ctx context.Context, msg platform.IncomingMessage, text string) {
	_, err := h.platform.QueueSendMessage(ctx, msg.ChatID, text, platform.SendOptions{
		ReplyTo:         msg.MessageID,
		MessageThreadID: msg.MessageThreadID,
		ParseMode:       h.parseMode,
	})
	if err != nil {
		slog.Warn("handler: failed to send command reply", "error", err)
	}
}

func messageIDsForNodes(nodes []*tree.Node) []string {
	var ids []string
	for _, n := range nodes {
		if n.UserMessageID != "" {
			ids = append(ids, n.UserMessageID)
		}
		if n.StatusMessageID != "" {
			ids = append(ids, n.StatusMessageID)
		}
	}
	return ids
}

func nodeIDsOf(nodes []*tree.Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

// orderForDelete sorts numeric message ids descending (newest first) ahead
// of any non-numeric ids, mirroring _delete_message_ids's ordering so a
// batch-delete call removes the most recent messages first if it has to
// stop partway through a rate limit.
func orderForDelete(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)

	numeric := func(s string) (int64, bool) {
		v, err := strconv.ParseInt(s, 10, 64)
		return v, err == nil
	}

	sort.SliceStable(out, func(i, j int) bool {
		vi, oki := numeric(out[i])
		vj, okj := numeric(out[j])
		switch {
		case oki && okj:
			return vi > vj
		case oki && !okj:
			return true
		case !oki && okj:
			return false
		default:
			return false
		}
	})
	return out
}
