package handler

import (
	"strings"

	"github.com/branchpoint/claudegate/internal/clisession"
)

// RenderCtx carries the platform-specific markdown primitives the Handler
// selects at construction time, per spec.md §9's "Per-platform rendering"
// design note: the core transcript logic depends only on this capability
// set, never on a specific markdown flavor.
type RenderCtx struct {
	Bold           func(string) string
	CodeInline     func(string) string
	EscapeCode     func(string) string
	EscapeText     func(string) string
	RenderMarkdown func(string) string
}

// FormatStatusFunc renders the "emoji label (suffix)" line used for both
// interim status updates and terminal outcomes ("Complete", "Stopped.",
// "Cancelled"). suffix is optional.
type FormatStatusFunc func(emoji, label string, suffix ...string) string

type toolCall struct {
	id, name, inputJSON string
}

// TranscriptBuffer accumulates one node's CLI event stream into a
// progressively rendered transcript: thinking text, response text, and tool
// invocations, in observed order. showToolResults mirrors
// TranscriptBuffer(show_tool_results=False) in the original — when false,
// tool_result events are dropped; when true, each result is appended to its
// tool call's line rather than rendered as a separate entry.
type TranscriptBuffer struct {
	showToolResults bool

	thinking strings.Builder
	response strings.Builder
	tools    []toolCall
	results  map[string]string
	errorMsg string
}

// NewTranscriptBuffer constructs an empty buffer.
func NewTranscriptBuffer(showToolResults bool) *TranscriptBuffer {
	return &TranscriptBuffer{
		showToolResults: showToolResults,
		results:         map[string]string{},
	}
}

// Apply folds one CLI event into the buffer. Unknown or structural event
// types (block_stop, *_stop, session_info, complete) are no-ops here; they
// are handled by the Handler's status-update logic instead.
func (t *TranscriptBuffer) Apply(ev clisession.Event) {
	switch ev.Type {
	case "thinking_start", "thinking_delta", "thinking_chunk":
		t.thinking.WriteString(ev.Text)
	case "text_start", "text_delta", "text_chunk":
		t.response.WriteString(ev.Text)
	case "tool_use_start":
		t.tools = append(t.tools, toolCall{id: ev.ToolUseID, name: ev.Name})
	case "tool_use_delta":
		if n := len(t.tools); n > 0 {
			t.tools[n-1].inputJSON += ev.PartialJSON
		}
	case "tool_use":
		t.tools = append(t.tools, toolCall{id: ev.ToolUseID, name: ev.Name, inputJSON: string(ev.Input)})
	case "tool_result":
		if t.showToolResults {
			t.results[ev.ToolUseID] = ev.Content
		}
	case "error":
		t.errorMsg = ev.Message
	}
}

// Render produces the full transcript text, markdown-escaped through ctx,
// with status appended as the final line (or, if force-rendering a terminal
// outcome, as the only status text shown). The result is truncated to the
// trailing limitChars runes so a long transcript keeps showing its most
// recent activity rather than overflowing the platform's edit limit.
func (t *TranscriptBuffer) Render(ctx RenderCtx, limitChars int, status string) string {
	var b strings.Builder

	if t.thinking.Len() > 0 {
		b.WriteString(ctx.Bold("Thinking"))
		b.WriteString("\n")
		b.WriteString(ctx.RenderMarkdown(t.thinking.String()))
		b.WriteString("\n\n")
	}

	if t.response.Len() > 0 {
		b.WriteString(ctx.RenderMarkdown(t.response.String()))
		b.WriteString("\n\n")
	}

	for _, tc := range t.tools {
		b.WriteString(ctx.CodeInline(tc.name))
		if tc.inputJSON != "" {
			b.WriteString(" ")
			b.WriteString(ctx.EscapeCode(tc.inputJSON))
		}
		if result, ok := t.results[tc.id]; ok {
			b.WriteString(" -> ")
			b.WriteString(ctx.EscapeCode(result))
		}
		b.WriteString("\n")
	}

	if t.errorMsg != "" {
		b.WriteString(ctx.Bold("Error"))
		b.WriteString(": ")
		b.WriteString(ctx.EscapeText(t.errorMsg))
		b.WriteString("\n")
	}

	if status != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(status)
	}

	out := b.String()
	runes := []rune(out)
	if limitChars > 0 && len(runes) > limitChars {
		out = string(runes[len(runes)-limitChars:])
	}
	return out
}
