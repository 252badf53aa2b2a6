package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/branchpoint/claudegate/internal/anthropic"
	"github.com/branchpoint/claudegate/internal/provider"
	"github.com/branchpoint/claudegate/internal/translate"
)

// ProviderSettings adapts one configured backend into translate.ModelSettings
// and the translate.ProviderKind it corresponds to, without internal/server
// importing internal/app (kept decoupled per the teacher's package layering).
type ProviderSettings interface {
	translate.ModelSettings
	Kind() translate.ProviderKind
	MaxTokensCap() int
}

// MessagesHandler serves POST /v1/messages (count_tokens is served by
// CountTokensHandler), grounded on the teacher's CreateChatCompletionsHandler
// (internal/proxy/chat_completions.go): decode, dispatch streaming-vs-buffered,
// map typed errors to a JSON response.
type MessagesHandler struct {
	Provider *provider.Provider
	Settings ProviderSettings

	DefaultMaxTokens int
	StreamProcessor  translate.StreamProcessorConfig
}

var _ http.Handler = (*MessagesHandler)(nil)

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req anthropic.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.ErrorContext(ctx, "failed to decode /v1/messages body", "error", err)
		writeJSONError(ctx, w, "invalid_request_error", "invalid request body", http.StatusBadRequest)
		return
	}

	model := translate.NormalizeModelName(req.Model, h.Settings)
	req.Model = model

	result, err := translate.Convert(&req, translate.ConvertOptions{
		Provider:         h.Settings.Kind(),
		DefaultMaxTokens: h.DefaultMaxTokens,
		MaxTokensCap:     h.Settings.MaxTokensCap(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to convert request", "error", err)
		writeJSONError(ctx, w, "invalid_request_error", err.Error(), http.StatusBadRequest)
		return
	}

	inputTokens := translate.EstimateInputTokens(flattenRequestText(req.System, req.Messages, req.Tools))
	messageID := "msg_" + randomID()

	if req.Stream {
		h.streamResponse(ctx, w, result, messageID, model, inputTokens)
		return
	}
	h.bufferedResponse(ctx, w, result, messageID, model, inputTokens)
}

func (h *MessagesHandler) streamResponse(ctx context.Context, w http.ResponseWriter, result translate.ConvertResult, messageID, model string, inputTokens int) {
	sse, err := NewSSEWriter(w)
	if err != nil {
		slog.ErrorContext(ctx, "SSE not supported", "error", err)
		writeJSONError(ctx, w, "api_error", http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	for evt := range h.Provider.Stream(ctx, result, messageID, model, inputTokens, h.StreamProcessor) {
		if ctx.Err() != nil {
			slog.DebugContext(ctx, "client disconnected mid-stream")
			return
		}
		if err := sse.WriteEvent(evt); err != nil {
			slog.ErrorContext(ctx, "failed to write SSE event", "error", err)
			return
		}
	}
}

// bufferedResponse drains the same SSE event channel the streaming path
// uses and folds it into a single MessageResponse, rather than maintaining
// a separate non-streaming call path into the provider — the upstream
// OpenAI-compatible backends are always consumed as a stream internally.
func (h *MessagesHandler) bufferedResponse(ctx context.Context, w http.ResponseWriter, result translate.ConvertResult, messageID, model string, inputTokens int) {
	var text, stopReason string
	var contentBlocks []anthropic.ContentBlock
	outputTokens := 0

	for evt := range h.Provider.Stream(ctx, result, messageID, model, inputTokens, h.StreamProcessor) {
		parsed := parseSSEEvent(evt)
		switch parsed.eventType {
		case "content_block_delta":
			if parsed.textDelta != "" {
				text += parsed.textDelta
			}
		case "message_delta":
			if parsed.stopReason != "" {
				stopReason = parsed.stopReason
			}
			outputTokens = parsed.outputTokens
		}
	}

	if text != "" {
		contentBlocks = append(contentBlocks, anthropic.ContentBlock{Type: "text", Text: text})
	}
	if stopReason == "" {
		stopReason = "end_turn"
	}

	writeJSON(ctx, w, anthropic.MessageResponse{
		ID:         messageID,
		Type:       "message",
		Role:       "assistant",
		Content:    contentBlocks,
		Model:      model,
		StopReason: &stopReason,
		Usage:      anthropic.Usage{InputTokens: inputTokens, OutputTokens: outputTokens},
	}, http.StatusOK)
}

// CountTokensHandler serves POST /v1/messages/count_tokens.
type CountTokensHandler struct {
	Settings ProviderSettings
}

var _ http.Handler = (*CountTokensHandler)(nil)

func (h *CountTokensHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req anthropic.CountTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(ctx, w, "invalid_request_error", "invalid request body", http.StatusBadRequest)
		return
	}

	model := translate.NormalizeModelName(req.Model, h.Settings)
	_ = model
	tokens := translate.EstimateInputTokens(flattenRequestText(req.System, req.Messages, req.Tools))
	writeJSON(ctx, w, anthropic.CountTokensResponse{InputTokens: tokens}, http.StatusOK)
}
