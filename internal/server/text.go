package server

import (
	"strings"

	"github.com/branchpoint/claudegate/internal/anthropic"
)

// flattenRequestText concatenates every text-bearing block of a request's
// system prompt and messages, for BPE-based input token estimation — there
// is no cheaper way to approximate a chat request's token footprint than
// encoding the text that would actually be sent upstream.
func flattenRequestText(system *anthropic.SystemPrompt, messages []anthropic.Message, tools []anthropic.Tool) string {
	var b strings.Builder

	if system != nil {
		for _, block := range system.AsBlocks() {
			b.WriteString(block.Text)
			b.WriteByte('\n')
		}
	}

	for _, m := range messages {
		for _, block := range m.Content.AsBlocks() {
			switch block.Type {
			case "text":
				b.WriteString(block.Text)
			case "thinking":
				b.WriteString(block.Thinking)
			case "tool_result":
				b.WriteString(block.Content.PlainText())
			case "tool_use":
				b.WriteString(block.Name)
				b.Write(block.Input)
			}
			b.WriteByte('\n')
		}
	}

	for _, t := range tools {
		b.WriteString(t.Name)
		b.WriteString(t.Description)
		b.Write(t.InputSchema)
		b.WriteByte('\n')
	}

	return b.String()
}
