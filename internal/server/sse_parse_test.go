package server

import "testing"

func TestParseSSEEventContentBlockDelta(t *testing.T) {
	raw := "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"hello\"}}\n\n"
	got := parseSSEEvent(raw)
	if got.eventType != "content_block_delta" {
		t.Errorf("got eventType %q", got.eventType)
	}
	if got.textDelta != "hello" {
		t.Errorf("got textDelta %q", got.textDelta)
	}
}

func TestParseSSEEventMessageDelta(t *testing.T) {
	raw := "event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":42}}\n\n"
	got := parseSSEEvent(raw)
	if got.stopReason != "end_turn" {
		t.Errorf("got stopReason %q", got.stopReason)
	}
	if got.outputTokens != 42 {
		t.Errorf("got outputTokens %d", got.outputTokens)
	}
}

func TestParseSSEEventUnknownTypeIsIgnored(t *testing.T) {
	raw := "event: ping\ndata: {}\n\n"
	got := parseSSEEvent(raw)
	if got.eventType != "ping" {
		t.Errorf("got eventType %q", got.eventType)
	}
	if got.textDelta != "" || got.stopReason != "" {
		t.Errorf("expected no parsed fields for an unrecognized event type, got %+v", got)
	}
}

func TestRandomIDIsUnique(t *testing.T) {
	a := randomID()
	b := randomID()
	if a == b {
		t.Errorf("expected two distinct random ids")
	}
	if len(a) == 0 {
		t.Errorf("expected a non-empty id")
	}
}
