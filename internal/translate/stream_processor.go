package translate

import (
	"encoding/json"
	"strings"

	"github.com/openai/openai-go/v3"
)

// StreamProcessorConfig controls behavior decided in DESIGN.md for points the
// upstream spec left open.
type StreamProcessorConfig struct {
	// BufferTaskArgs buffers the "Task" tool's streamed arguments until they
	// parse as complete JSON before emitting a single input_json_delta,
	// rather than streaming partial JSON fragments. Defaults to true.
	BufferTaskArgs bool
}

// DefaultStreamProcessorConfig matches the teacher's pattern of exposing a
// functional-options-free struct with a documented zero-value default,
// used directly as a struct literal at call sites.
func DefaultStreamProcessorConfig() StreamProcessorConfig {
	return StreamProcessorConfig{BufferTaskArgs: true}
}

// toolSlot accumulates per-index state for OpenAI-structured tool_calls
// streamed across multiple chunks, before a block has necessarily been
// opened in the SSEBuilder.
type toolSlot struct {
	id          string
	name        string
	blockOpened bool
}

// StreamProcessor drives an SSEBuilder from a sequence of upstream
// OpenAI-compatible streaming chunks, per spec.md §4.4.
type StreamProcessor struct {
	cfg     StreamProcessorConfig
	builder *SSEBuilder

	thinkTag  ThinkTagParser
	heuristic HeuristicToolParser

	toolSlots map[int64]*toolSlot
	slotOrder []int64

	finished bool
}

// NewStreamProcessor constructs a processor that emits onto builder.
func NewStreamProcessor(builder *SSEBuilder, cfg StreamProcessorConfig) *StreamProcessor {
	return &StreamProcessor{
		cfg:       cfg,
		builder:   builder,
		toolSlots: map[int64]*toolSlot{},
	}
}

// Feed processes one upstream streaming chunk and returns the SSE text to
// write to the client, in order.
func (p *StreamProcessor) Feed(chunk openai.ChatCompletionChunk) []string {
	if p.finished || len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]
	var out []string

	if reasoning := reasoningContent(chunk); reasoning != "" {
		out = append(out, p.builder.EnsureThinkingBlock()...)
		out = append(out, p.builder.EmitThinkingDelta(reasoning))
	}

	if choice.Delta.Content != "" {
		out = append(out, p.feedContent(choice.Delta.Content)...)
	}

	for _, tc := range choice.Delta.ToolCalls {
		out = append(out, p.feedToolCall(tc)...)
	}

	if choice.FinishReason != "" {
		out = append(out, p.finish(string(choice.FinishReason))...)
	}

	return out
}

// reasoningContent recovers provider-specific reasoning text that isn't part
// of the OpenAI wire schema proper (DeepSeek's reasoning_content, others'
// reasoning/thinking). openai-go's typed delta doesn't surface it, so the
// chunk's raw JSON is re-decoded into a permissive shape, top-level first
// then per-choice delta.
func reasoningContent(chunk openai.ChatCompletionChunk) string {
	var raw struct {
		Reasoning        string `json:"reasoning"`
		Thinking         string `json:"thinking"`
		ReasoningContent string `json:"reasoning_content"`
		Choices          []struct {
			Delta struct {
				ReasoningContent string `json:"reasoning_content"`
				Reasoning        string `json:"reasoning"`
				Thinking         string `json:"thinking"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(chunk.RawJSON()), &raw); err != nil {
		return ""
	}
	if raw.ReasoningContent != "" {
		return raw.ReasoningContent
	}
	if raw.Reasoning != "" {
		return raw.Reasoning
	}
	if raw.Thinking != "" {
		return raw.Thinking
	}
	if len(raw.Choices) == 0 {
		return ""
	}
	d := raw.Choices[0].Delta
	switch {
	case d.ReasoningContent != "":
		return d.ReasoningContent
	case d.Reasoning != "":
		return d.Reasoning
	default:
		return d.Thinking
	}
}

func (p *StreamProcessor) feedContent(content string) []string {
	var out []string
	for _, frag := range p.thinkTag.Feed(content) {
		out = append(out, p.routeClassifiedFragment(frag)...)
	}
	return out
}

func (p *StreamProcessor) routeClassifiedFragment(frag Fragment) []string {
	var out []string
	if frag.Kind == ChunkThinking {
		out = append(out, p.builder.EnsureThinkingBlock()...)
		out = append(out, p.builder.EmitThinkingDelta(frag.Text))
		return out
	}

	text, blocks := p.heuristic.Feed(frag.Text)
	if text != "" {
		out = append(out, p.builder.EnsureTextBlock()...)
		out = append(out, p.builder.EmitTextDelta(text))
	}
	out = append(out, p.emitHeuristicBlocks(blocks)...)
	return out
}

func (p *StreamProcessor) emitHeuristicBlocks(blocks []HeuristicToolParserBlock) []string {
	var out []string
	for _, b := range blocks {
		out = append(out, p.builder.CloseContentBlocks()...)
		slotIdx := int(p.nextHeuristicSlotIndex())
		p.builder.Blocks.RegisterToolName(slotIdx, b.Name)
		inputJSON := heuristicParamsToJSON(b.Params)
		out = append(out, p.builder.StartToolBlock(slotIdx, b.ID, b.Name))
		out = append(out, p.builder.EmitToolDelta(slotIdx, inputJSON))
		out = append(out, p.builder.StopToolBlock(slotIdx))
	}
	return out
}

// nextHeuristicSlotIndex allocates a synthetic negative slot key so
// heuristic-detected tool calls never collide with structured tool_calls
// indices, which are always >= 0.
func (p *StreamProcessor) nextHeuristicSlotIndex() int64 {
	idx := int64(-1) - int64(len(p.slotOrder))
	p.slotOrder = append(p.slotOrder, idx)
	return idx
}

func heuristicParamsToJSON(params map[string]string) string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for k, v := range params {
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(jsonQuote(k))
		b.WriteByte(':')
		b.WriteString(jsonQuote(v))
	}
	b.WriteByte('}')
	return b.String()
}

func jsonQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func (p *StreamProcessor) feedToolCall(tc openai.ChatCompletionChunkChoiceDeltaToolCall) []string {
	var out []string
	idx := tc.Index
	slot, ok := p.toolSlots[idx]
	if !ok {
		slot = &toolSlot{}
		p.toolSlots[idx] = slot
		p.slotOrder = append(p.slotOrder, idx)
	}

	if tc.ID != "" {
		slot.id = tc.ID
	}
	if tc.Function.Name != "" {
		p.builder.Blocks.RegisterToolName(int(idx), tc.Function.Name)
		slot.name = p.builder.Blocks.ToolStates[int(idx)].Name
	}

	args := tc.Function.Arguments
	if args == "" {
		return out
	}

	if !slot.blockOpened {
		out = append(out, p.builder.CloseContentBlocks()...)
		out = append(out, p.builder.StartToolBlock(int(idx), slot.id, slot.name))
		slot.blockOpened = true
	}

	if p.cfg.BufferTaskArgs && slot.name == "Task" {
		if parsed := p.builder.Blocks.BufferTaskArgs(int(idx), args); parsed != nil {
			if js, err := json.Marshal(parsed); err == nil {
				out = append(out, p.builder.EmitToolDelta(int(idx), string(js)))
			}
		}
		return out
	}

	out = append(out, p.builder.EmitToolDelta(int(idx), args))
	return out
}

func (p *StreamProcessor) finish(finishReason string) []string {
	var out []string
	for _, idx := range p.slotOrder {
		if idx < 0 {
			continue
		}
		slot := p.toolSlots[idx]
		if slot == nil || !slot.blockOpened {
			continue
		}
		if state, ok := p.builder.Blocks.ToolStates[int(idx)]; ok && state.taskArgBuffer != "" {
			for _, flushed := range p.builder.Blocks.FlushTaskArgBuffers() {
				if flushed.ToolIndex == int(idx) {
					out = append(out, p.builder.EmitToolDelta(int(idx), flushed.JSON))
				}
			}
		}
	}
	out = append(out, p.builder.CloseAllBlocks()...)

	stopReason := MapStopReason(finishReason)
	outputTokens := p.builder.EstimateOutputTokens()
	out = append(out, p.builder.MessageDelta(stopReason, outputTokens))
	out = append(out, p.builder.MessageStop())
	p.finished = true
	return out
}

// FeedError closes open blocks, emits message as a terminal text block, and
// completes the event sequence. Used when the upstream connection fails or
// an unrecoverable parse error occurs mid-stream; the client always receives
// a legally terminated SSE sequence.
func (p *StreamProcessor) FeedError(message string) []string {
	if p.finished {
		return nil
	}
	var out []string
	out = append(out, p.builder.CloseAllBlocks()...)
	out = append(out, p.builder.EmitError(message)...)
	out = append(out, p.builder.MessageDelta("end_turn", p.builder.EstimateOutputTokens()))
	out = append(out, p.builder.MessageStop())
	p.finished = true
	return out
}
