// Package anthropic holds the hand-rolled wire contract for the Anthropic
// Messages API surface this gateway serves. It intentionally does not reuse
// anthropic-sdk-go's request param types for decoding: those are built for an
// outbound client marshaling requests to the real API, not for a server
// unmarshaling arbitrary client input.
package anthropic

import "encoding/json"

// MessageRequest is the decoded body of POST /v1/messages.
type MessageRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	System        *SystemPrompt   `json:"system,omitempty"`
	MaxTokens     int             `json:"max_tokens"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	ExtraBody     json.RawMessage `json:"extra_body,omitempty"`
	Metadata      *Metadata       `json:"metadata,omitempty"`
}

// CountTokensRequest is the decoded body of POST /v1/messages/count_tokens.
// It shares every field relevant to payload construction with MessageRequest.
type CountTokensRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	System   *SystemPrompt `json:"system,omitempty"`
	Tools    []Tool        `json:"tools,omitempty"`
}

type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

type ThinkingConfig struct {
	Type         string `json:"type"` // "enabled" | "disabled"
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// SystemPrompt accepts either a bare string or a list of text blocks, matching
// the Anthropic API's permissive system field.
type SystemPrompt struct {
	Text   string
	Blocks []TextBlock
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.Text = str
		return nil
	}
	var blocks []TextBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	s.Blocks = blocks
	return nil
}

func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if s.Blocks != nil {
		return json.Marshal(s.Blocks)
	}
	return json.Marshal(s.Text)
}

// AsBlocks normalizes the system prompt into text blocks regardless of which
// wire shape the caller sent.
func (s *SystemPrompt) AsBlocks() []TextBlock {
	if s == nil {
		return nil
	}
	if s.Blocks != nil {
		return s.Blocks
	}
	if s.Text == "" {
		return nil
	}
	return []TextBlock{{Type: "text", Text: s.Text}}
}

type Message struct {
	Role    string  `json:"role"` // "user" | "assistant"
	Content Content `json:"content"`
}

// Content accepts either a bare string or a list of content blocks.
type Content struct {
	Text   string
	Blocks []ContentBlock
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		c.Text = str
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	blocks := make([]ContentBlock, 0, len(raw))
	for _, r := range raw {
		var b ContentBlock
		if err := json.Unmarshal(r, &b); err != nil {
			return err
		}
		blocks = append(blocks, b)
	}
	c.Blocks = blocks
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

// AsBlocks normalizes string content into a single text block.
func (c Content) AsBlocks() []ContentBlock {
	if c.Blocks != nil {
		return c.Blocks
	}
	if c.Text == "" {
		return nil
	}
	return []ContentBlock{{Type: "text", Text: c.Text}}
}

// ContentBlock is the discriminated union of Anthropic content block
// variants. Unknown fields for a given Type are simply left zero-valued.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   *ToolResultBody `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`
}

type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ImageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ToolResultBody mirrors tool_result's permissive content field: a string or
// a list of blocks (text/image).
type ToolResultBody struct {
	Text   string
	Blocks []ContentBlock
}

func (t *ToolResultBody) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		t.Text = str
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	t.Blocks = blocks
	return nil
}

func (t ToolResultBody) MarshalJSON() ([]byte, error) {
	if t.Blocks != nil {
		return json.Marshal(t.Blocks)
	}
	return json.Marshal(t.Text)
}

// PlainText flattens a tool result body into a single string, concatenating
// any text blocks and ignoring images (the converter handles those
// separately when present).
func (t *ToolResultBody) PlainText() string {
	if t == nil {
		return ""
	}
	if t.Blocks == nil {
		return t.Text
	}
	out := ""
	for _, b := range t.Blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type ToolChoice struct {
	Type string `json:"type"` // "auto" | "any" | "tool"
	Name string `json:"name,omitempty"`
}

// Usage mirrors the Anthropic usage object returned in responses and in
// message_start/message_delta SSE events.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MessageResponse is the non-streaming response shape for POST /v1/messages.
type MessageResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"` // "message"
	Role         string         `json:"role"` // "assistant"
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// CountTokensResponse is the response shape for POST /v1/messages/count_tokens.
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// ErrorBody is the JSON shape of an Anthropic-style error response.
type ErrorBody struct {
	Type  string `json:"type"` // "error"
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
