package anthropic

import (
	"encoding/json"
	"testing"
)

func TestContentUnmarshalString(t *testing.T) {
	var c Content
	if err := json.Unmarshal([]byte(`"hello"`), &c); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if c.Text != "hello" {
		t.Errorf("got %q", c.Text)
	}
	if got := c.AsBlocks(); len(got) != 1 || got[0].Text != "hello" {
		t.Errorf("AsBlocks() = %+v", got)
	}
}

func TestContentUnmarshalBlocks(t *testing.T) {
	var c Content
	raw := `[{"type":"text","text":"hi"},{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"city":"nyc"}}]`
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(c.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(c.Blocks))
	}
	if c.Blocks[1].Name != "get_weather" {
		t.Errorf("expected tool_use block name get_weather, got %q", c.Blocks[1].Name)
	}
}

func TestContentRoundTrip(t *testing.T) {
	c := Content{Text: "plain"}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `"plain"` {
		t.Errorf("got %s", data)
	}

	var back Content
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back.Text != "plain" {
		t.Errorf("got %q", back.Text)
	}
}

func TestSystemPromptAsBlocksBothShapes(t *testing.T) {
	var s SystemPrompt
	if err := json.Unmarshal([]byte(`"be terse"`), &s); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if blocks := s.AsBlocks(); len(blocks) != 1 || blocks[0].Text != "be terse" {
		t.Errorf("got %+v", blocks)
	}

	var s2 SystemPrompt
	if err := json.Unmarshal([]byte(`[{"type":"text","text":"a"},{"type":"text","text":"b"}]`), &s2); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if blocks := s2.AsBlocks(); len(blocks) != 2 {
		t.Errorf("expected 2 blocks, got %+v", blocks)
	}
}

func TestSystemPromptAsBlocksNilReceiver(t *testing.T) {
	var s *SystemPrompt
	if got := s.AsBlocks(); got != nil {
		t.Errorf("expected nil blocks for a nil *SystemPrompt, got %+v", got)
	}
}

func TestToolResultBodyPlainText(t *testing.T) {
	var tb ToolResultBody
	if err := json.Unmarshal([]byte(`"42"`), &tb); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got := tb.PlainText(); got != "42" {
		t.Errorf("got %q", got)
	}

	var tb2 ToolResultBody
	raw := `[{"type":"text","text":"a"},{"type":"image","source":{"type":"base64","media_type":"image/png","data":"xx"}},{"type":"text","text":"b"}]`
	if err := json.Unmarshal([]byte(raw), &tb2); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got := tb2.PlainText(); got != "ab" {
		t.Errorf("expected text blocks concatenated ignoring images, got %q", got)
	}
}

func TestToolResultBodyPlainTextNilReceiver(t *testing.T) {
	var tb *ToolResultBody
	if got := tb.PlainText(); got != "" {
		t.Errorf("expected empty string for a nil *ToolResultBody, got %q", got)
	}
}

func TestMessageRequestUnmarshalFull(t *testing.T) {
	raw := `{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 1024,
		"system": "be concise",
		"messages": [{"role":"user","content":"hi"}],
		"stream": true
	}`
	var req MessageRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if req.MaxTokens != 1024 || !req.Stream || len(req.Messages) != 1 {
		t.Errorf("got %+v", req)
	}
	if req.System == nil || req.System.Text != "be concise" {
		t.Errorf("expected system prompt text, got %+v", req.System)
	}
}
