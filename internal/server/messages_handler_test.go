package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/branchpoint/claudegate/internal/anthropic"
	"github.com/branchpoint/claudegate/internal/translate"
)

type fakeProviderSettings struct {
	haiku, sonnet, opus, model string
	kind                       translate.ProviderKind
	maxTokensCap               int
}

func (s fakeProviderSettings) HaikuModel() string         { return s.haiku }
func (s fakeProviderSettings) SonnetModel() string        { return s.sonnet }
func (s fakeProviderSettings) OpusModel() string          { return s.opus }
func (s fakeProviderSettings) ModelName() string          { return s.model }
func (s fakeProviderSettings) Kind() translate.ProviderKind { return s.kind }
func (s fakeProviderSettings) MaxTokensCap() int          { return s.maxTokensCap }

func TestMessagesHandlerRejectsInvalidJSON(t *testing.T) {
	h := &MessagesHandler{Settings: fakeProviderSettings{model: "m"}}
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader("not json"))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if resp.Error.Type != "invalid_request_error" {
		t.Errorf("got error type %q", resp.Error.Type)
	}
}

func TestMessagesHandlerRejectsUnsupportedRole(t *testing.T) {
	h := &MessagesHandler{Settings: fakeProviderSettings{model: "m"}}

	body, _ := json.Marshal(anthropic.MessageRequest{
		Model:    "claude-3-sonnet",
		Messages: []anthropic.Message{{Role: "narrator", Content: textContentForServer("hi")}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported role, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCountTokensHandlerReturnsEstimate(t *testing.T) {
	h := &CountTokensHandler{Settings: fakeProviderSettings{model: "m"}}

	body, _ := json.Marshal(anthropic.CountTokensRequest{
		Model:    "claude-3-sonnet",
		System:   &anthropic.SystemPrompt{Text: "be concise"},
		Messages: []anthropic.Message{{Role: "user", Content: textContentForServer("how's the weather today")}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp anthropic.CountTokensResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.InputTokens <= 0 {
		t.Errorf("expected a positive token estimate, got %d", resp.InputTokens)
	}
}

func TestCountTokensHandlerRejectsInvalidJSON(t *testing.T) {
	h := &CountTokensHandler{Settings: fakeProviderSettings{model: "m"}}
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader("{"))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
