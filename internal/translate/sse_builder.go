package translate

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tiktoken-go/tokenizer"
)

var stopReasonMap = map[string]string{
	"stop":           "end_turn",
	"length":         "max_tokens",
	"tool_calls":     "tool_use",
	"content_filter": "end_turn",
}

// MapStopReason maps an OpenAI-shaped finish_reason to an Anthropic
// stop_reason, defaulting to "end_turn" for anything unrecognized or empty.
func MapStopReason(openAIReason string) string {
	if openAIReason == "" {
		return "end_turn"
	}
	if mapped, ok := stopReasonMap[openAIReason]; ok {
		return mapped
	}
	return "end_turn"
}

// ToolCallState tracks one streaming tool call's accumulated content.
type ToolCallState struct {
	BlockIndex     int // -1 until allocated
	ToolID         string
	Name           string
	Contents       []string
	Started        bool
	taskArgBuffer  string
	taskArgsEmitted bool
}

// ContentBlockManager allocates monotonic content-block indices and tracks
// which blocks are currently open, mirroring
// original_source/providers/common/sse_builder.py's ContentBlockManager.
type ContentBlockManager struct {
	NextIndex      int
	ThinkingIndex  int
	TextIndex      int
	ThinkingStarted bool
	TextStarted    bool
	ToolStates     map[int]*ToolCallState
	toolOrder      []int
}

func newContentBlockManager() *ContentBlockManager {
	return &ContentBlockManager{
		ThinkingIndex: -1,
		TextIndex:     -1,
		ToolStates:    map[int]*ToolCallState{},
	}
}

func (m *ContentBlockManager) allocateIndex() int {
	idx := m.NextIndex
	m.NextIndex++
	return idx
}

// RegisterToolName merges a streaming tool-name fragment into the slot at
// index, handling providers that stream the name incrementally and those
// that resend the full name on every chunk.
func (m *ContentBlockManager) RegisterToolName(index int, name string) {
	state, ok := m.ToolStates[index]
	if !ok {
		m.ToolStates[index] = &ToolCallState{BlockIndex: -1, Name: name}
		m.toolOrder = append(m.toolOrder, index)
		return
	}
	prev := state.Name
	switch {
	case prev == "" || hasPrefixFold(name, prev):
		state.Name = name
	case !hasPrefixFold(prev, name):
		state.Name = prev + name
	}
}

func hasPrefixFold(s, prefix string) bool {
	if len(prefix) > len(s) {
		return false
	}
	return s[:len(prefix)] == prefix
}

// BufferTaskArgs accumulates argument fragments for the Task tool and
// returns the parsed+patched args once the buffer forms valid JSON, or nil
// while still accumulating.
func (m *ContentBlockManager) BufferTaskArgs(index int, args string) map[string]any {
	state, ok := m.ToolStates[index]
	if !ok || state.taskArgsEmitted {
		return nil
	}
	state.taskArgBuffer += args
	var parsed map[string]any
	if err := json.Unmarshal([]byte(state.taskArgBuffer), &parsed); err != nil {
		return nil
	}
	if v, ok := parsed["run_in_background"]; !ok || v != false {
		parsed["run_in_background"] = false
	}
	state.taskArgsEmitted = true
	state.taskArgBuffer = ""
	return parsed
}

// FlushTaskArgBuffers force-flushes any remaining Task arg buffers at stream
// end, patching run_in_background and falling back to "{}" on unparseable
// JSON.
func (m *ContentBlockManager) FlushTaskArgBuffers() []struct {
	ToolIndex int
	JSON      string
} {
	var results []struct {
		ToolIndex int
		JSON      string
	}
	for _, idx := range m.toolOrder {
		state := m.ToolStates[idx]
		if state.taskArgBuffer == "" || state.taskArgsEmitted {
			continue
		}
		out := "{}"
		var parsed map[string]any
		if err := json.Unmarshal([]byte(state.taskArgBuffer), &parsed); err == nil {
			if v, ok := parsed["run_in_background"]; !ok || v != false {
				parsed["run_in_background"] = false
			}
			if b, merr := json.Marshal(parsed); merr == nil {
				out = string(b)
			}
		} else {
			prefix := state.taskArgBuffer
			if len(prefix) > 120 {
				prefix = prefix[:120]
			}
			slog.Warn("task args invalid JSON", "tool_id", state.ToolID, "len", len(state.taskArgBuffer), "prefix", prefix)
		}
		state.taskArgsEmitted = true
		state.taskArgBuffer = ""
		results = append(results, struct {
			ToolIndex int
			JSON      string
		}{idx, out})
	}
	return results
}

// SSEBuilder builds Anthropic SSE streaming events for one in-flight
// message, tracking accumulated content for output-token estimation.
type SSEBuilder struct {
	MessageID   string
	Model       string
	InputTokens int
	Blocks      *ContentBlockManager

	accumulatedText      []string
	accumulatedReasoning []string
	enc                  tokenizer.Codec
}

// NewSSEBuilder constructs a builder for a new streaming message.
func NewSSEBuilder(messageID, model string, inputTokens int) *SSEBuilder {
	enc, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		enc = nil
	}
	return &SSEBuilder{
		MessageID:   messageID,
		Model:       model,
		InputTokens: inputTokens,
		Blocks:      newContentBlockManager(),
		enc:         enc,
	}
}

func formatEvent(eventType string, data any) string {
	b, err := json.Marshal(data)
	if err != nil {
		b = []byte(`{}`)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, b)
}

// MessageStart emits the message_start event.
func (b *SSEBuilder) MessageStart() string {
	return formatEvent("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            b.MessageID,
			"type":          "message",
			"role":          "assistant",
			"content":       []any{},
			"model":         b.Model,
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": b.InputTokens, "output_tokens": 1},
		},
	})
}

// MessageDelta emits the message_delta event carrying the stop reason and
// final output token estimate.
func (b *SSEBuilder) MessageDelta(stopReason string, outputTokens int) string {
	return formatEvent("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason, "stop_sequence": nil},
		"usage": map[string]any{"input_tokens": b.InputTokens, "output_tokens": outputTokens},
	})
}

// MessageStop emits the message_stop event.
func (b *SSEBuilder) MessageStop() string {
	return formatEvent("message_stop", map[string]any{"type": "message_stop"})
}

func (b *SSEBuilder) contentBlockStart(index int, blockType string, fields map[string]any) string {
	block := map[string]any{"type": blockType}
	switch blockType {
	case "thinking":
		block["thinking"] = fields["thinking"]
	case "text":
		block["text"] = fields["text"]
	case "tool_use":
		block["id"] = fields["id"]
		block["name"] = fields["name"]
		block["input"] = fields["input"]
	}
	return formatEvent("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         index,
		"content_block": block,
	})
}

func (b *SSEBuilder) contentBlockDelta(index int, deltaType, content string) string {
	delta := map[string]any{"type": deltaType}
	switch deltaType {
	case "thinking_delta":
		delta["thinking"] = content
	case "text_delta":
		delta["text"] = content
	case "input_json_delta":
		delta["partial_json"] = content
	}
	return formatEvent("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": index,
		"delta": delta,
	})
}

func (b *SSEBuilder) contentBlockStop(index int) string {
	return formatEvent("content_block_stop", map[string]any{"type": "content_block_stop", "index": index})
}

// StartThinkingBlock allocates and opens a thinking block.
func (b *SSEBuilder) StartThinkingBlock() string {
	b.Blocks.ThinkingIndex = b.Blocks.allocateIndex()
	b.Blocks.ThinkingStarted = true
	return b.contentBlockStart(b.Blocks.ThinkingIndex, "thinking", map[string]any{"thinking": ""})
}

// EmitThinkingDelta emits a thinking_delta and accumulates content for token
// estimation.
func (b *SSEBuilder) EmitThinkingDelta(content string) string {
	b.accumulatedReasoning = append(b.accumulatedReasoning, content)
	return b.contentBlockDelta(b.Blocks.ThinkingIndex, "thinking_delta", content)
}

// StopThinkingBlock closes the open thinking block.
func (b *SSEBuilder) StopThinkingBlock() string {
	b.Blocks.ThinkingStarted = false
	return b.contentBlockStop(b.Blocks.ThinkingIndex)
}

// StartTextBlock allocates and opens a text block.
func (b *SSEBuilder) StartTextBlock() string {
	b.Blocks.TextIndex = b.Blocks.allocateIndex()
	b.Blocks.TextStarted = true
	return b.contentBlockStart(b.Blocks.TextIndex, "text", map[string]any{"text": ""})
}

// EmitTextDelta emits a text_delta and accumulates content for token
// estimation.
func (b *SSEBuilder) EmitTextDelta(content string) string {
	b.accumulatedText = append(b.accumulatedText, content)
	return b.contentBlockDelta(b.Blocks.TextIndex, "text_delta", content)
}

// StopTextBlock closes the open text block.
func (b *SSEBuilder) StopTextBlock() string {
	b.Blocks.TextStarted = false
	return b.contentBlockStop(b.Blocks.TextIndex)
}

// StartToolBlock allocates a content-block index for toolIndex (the
// upstream's tool-call slot) and opens a tool_use block.
func (b *SSEBuilder) StartToolBlock(toolIndex int, toolID, name string) string {
	blockIdx := b.Blocks.allocateIndex()
	if state, ok := b.Blocks.ToolStates[toolIndex]; ok {
		state.BlockIndex = blockIdx
		state.ToolID = toolID
		state.Started = true
	} else {
		b.Blocks.ToolStates[toolIndex] = &ToolCallState{BlockIndex: blockIdx, ToolID: toolID, Name: name, Started: true}
		b.Blocks.toolOrder = append(b.Blocks.toolOrder, toolIndex)
	}
	return b.contentBlockStart(blockIdx, "tool_use", map[string]any{"id": toolID, "name": name, "input": map[string]any{}})
}

// EmitToolDelta emits an input_json_delta for the tool at toolIndex.
func (b *SSEBuilder) EmitToolDelta(toolIndex int, partialJSON string) string {
	state := b.Blocks.ToolStates[toolIndex]
	state.Contents = append(state.Contents, partialJSON)
	return b.contentBlockDelta(state.BlockIndex, "input_json_delta", partialJSON)
}

// StopToolBlock closes the tool_use block at toolIndex.
func (b *SSEBuilder) StopToolBlock(toolIndex int) string {
	state := b.Blocks.ToolStates[toolIndex]
	return b.contentBlockStop(state.BlockIndex)
}

// EnsureThinkingBlock closes an open text block (if any) and opens a
// thinking block if one is not already open.
func (b *SSEBuilder) EnsureThinkingBlock() []string {
	var out []string
	if b.Blocks.TextStarted {
		out = append(out, b.StopTextBlock())
	}
	if !b.Blocks.ThinkingStarted {
		out = append(out, b.StartThinkingBlock())
	}
	return out
}

// EnsureTextBlock closes an open thinking block (if any) and opens a text
// block if one is not already open.
func (b *SSEBuilder) EnsureTextBlock() []string {
	var out []string
	if b.Blocks.ThinkingStarted {
		out = append(out, b.StopThinkingBlock())
	}
	if !b.Blocks.TextStarted {
		out = append(out, b.StartTextBlock())
	}
	return out
}

// CloseContentBlocks closes thinking and text blocks, used before emitting a
// tool call.
func (b *SSEBuilder) CloseContentBlocks() []string {
	var out []string
	if b.Blocks.ThinkingStarted {
		out = append(out, b.StopThinkingBlock())
	}
	if b.Blocks.TextStarted {
		out = append(out, b.StopTextBlock())
	}
	return out
}

// CloseAllBlocks closes thinking, text, and every started tool block.
func (b *SSEBuilder) CloseAllBlocks() []string {
	out := b.CloseContentBlocks()
	for _, idx := range b.Blocks.toolOrder {
		state := b.Blocks.ToolStates[idx]
		if state.Started {
			out = append(out, b.StopToolBlock(idx))
			state.Started = false
		}
	}
	return out
}

// EmitError emits an error message as a standalone text block
// (start+delta+stop), used when the stream must terminate abnormally but
// still produce a legal event sequence.
func (b *SSEBuilder) EmitError(message string) []string {
	idx := b.Blocks.allocateIndex()
	return []string{
		b.contentBlockStart(idx, "text", map[string]any{"text": ""}),
		b.contentBlockDelta(idx, "text_delta", message),
		b.contentBlockStop(idx),
	}
}

// AccumulatedText returns the concatenation of all emitted text deltas.
func (b *SSEBuilder) AccumulatedText() string {
	out := ""
	for _, s := range b.accumulatedText {
		out += s
	}
	return out
}

// AccumulatedReasoning returns the concatenation of all emitted thinking
// deltas.
func (b *SSEBuilder) AccumulatedReasoning() string {
	out := ""
	for _, s := range b.accumulatedReasoning {
		out += s
	}
	return out
}

// EstimateOutputTokens approximates output_tokens from accumulated content,
// per spec.md §4.6: BPE-encoded length plus per-block and per-tool overhead
// when a tokenizer is available, else a chars/4 approximation.
func (b *SSEBuilder) EstimateOutputTokens() int {
	text := b.AccumulatedText()
	reasoning := b.AccumulatedReasoning()

	if b.enc != nil {
		textTokens := encodedLen(b.enc, text)
		reasoningTokens := encodedLen(b.enc, reasoning)

		toolTokens := 0
		startedToolCount := 0
		for _, idx := range b.Blocks.toolOrder {
			state := b.Blocks.ToolStates[idx]
			toolTokens += encodedLen(b.enc, state.Name)
			joined := ""
			for _, c := range state.Contents {
				joined += c
			}
			toolTokens += encodedLen(b.enc, joined)
			toolTokens += 15
			if state.Started {
				startedToolCount++
			}
		}

		blockCount := startedToolCount
		if reasoning != "" {
			blockCount++
		}
		if text != "" {
			blockCount++
		}
		return textTokens + reasoningTokens + toolTokens + blockCount*4
	}

	textTokens := len(text) / 4
	reasoningTokens := len(reasoning) / 4
	toolTokens := 0
	for _, idx := range b.Blocks.toolOrder {
		if b.Blocks.ToolStates[idx].Started {
			toolTokens += 50
		}
	}
	return textTokens + reasoningTokens + toolTokens
}

func encodedLen(enc tokenizer.Codec, s string) int {
	if s == "" {
		return 0
	}
	ids, _, err := enc.Encode(s)
	if err != nil {
		return len(s) / 4
	}
	return len(ids)
}

// EstimateInputTokens approximates a request's input token count from its
// flattened text, for both the input_tokens field of message_start and the
// POST /v1/messages/count_tokens endpoint. Uses the same BPE-or-chars/4
// fallback as EstimateOutputTokens.
func EstimateInputTokens(text string) int {
	enc, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return len(text) / 4
	}
	return encodedLen(enc, text)
}
