package translate

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"

	"github.com/branchpoint/claudegate/internal/anthropic"
)

// ProviderKind selects the provider-specific extra-body injection applied by
// Convert, per spec.md §4.3.
type ProviderKind int

const (
	ProviderNIM ProviderKind = iota
	ProviderOpenRouter
	ProviderLMStudio
)

// ConvertOptions parametrizes one conversion with the target backend's
// identity and limits.
type ConvertOptions struct {
	Provider        ProviderKind
	DefaultMaxTokens int
	MaxTokensCap    int // 0 means uncapped
	ReasoningEffort string
}

// ConvertResult is the translated request body plus any provider-specific
// top-level fields that don't have a typed home in
// openai.ChatCompletionNewParams (NIM's reasoning_split, thinking, top_k and
// reasoning_effort; OpenRouter's reasoning object). No chat_template_kwargs,
// min_p or penalty fields are produced. The caller applies Extra via
// option.WithJSONSet when issuing the request.
type ConvertResult struct {
	Params openai.ChatCompletionNewParams
	Extra  map[string]any
}

// Convert translates an Anthropic MessageRequest into an OpenAI-compatible
// chat-completion request body, per spec.md §4.3.
func Convert(req *anthropic.MessageRequest, opts ConvertOptions) (ConvertResult, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(req.Model),
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if blocks := req.System.AsBlocks(); len(blocks) > 0 {
		messages = append(messages, systemMessage(joinTextBlocks(blocks)))
	}

	for _, m := range req.Messages {
		converted, err := convertMessage(m)
		if err != nil {
			return ConvertResult{}, err
		}
		messages = append(messages, converted...)
	}
	params.Messages = messages

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, convertTool(t))
		}
		params.Tools = tools
	}

	if req.ToolChoice != nil {
		params.ToolChoice = convertToolChoice(*req.ToolChoice)
	}

	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if len(req.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.StopSequences}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = opts.DefaultMaxTokens
	}
	if opts.MaxTokensCap > 0 && maxTokens > opts.MaxTokensCap {
		maxTokens = opts.MaxTokensCap
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	return ConvertResult{Params: params, Extra: providerExtras(req, opts)}, nil
}

// providerExtras computes the provider-specific top-level JSON fields
// spec.md §4.3 calls "extra_body" (mirroring the Python originals' use of
// the OpenAI client's extra_body kwarg, which the SDK merges at the top
// level of the outgoing request rather than nesting it).
func providerExtras(req *anthropic.MessageRequest, opts ConvertOptions) map[string]any {
	thinkingEnabled := req.Thinking != nil && req.Thinking.Type == "enabled"

	switch opts.Provider {
	case ProviderNIM:
		extra := map[string]any{
			"reasoning_split": true,
		}
		if thinkingEnabled {
			extra["thinking"] = map[string]any{"type": "enabled"}
		}
		if req.TopK != nil {
			extra["top_k"] = *req.TopK
		}
		if opts.ReasoningEffort != "" {
			extra["reasoning_effort"] = opts.ReasoningEffort
		}
		return extra
	case ProviderOpenRouter:
		if thinkingEnabled {
			return map[string]any{"reasoning": map[string]any{"enabled": true}}
		}
		return nil
	default: // ProviderLMStudio: plain passthrough, no extras.
		return nil
	}
}

func systemMessage(text string) openai.ChatCompletionMessageParamUnion {
	return openai.ChatCompletionMessageParamUnion{
		OfSystem: &openai.ChatCompletionSystemMessageParam{
			Content: openai.ChatCompletionSystemMessageParamContentUnion{OfString: openai.String(text)},
		},
	}
}

// convertMessage expands one Anthropic message into zero or more
// OpenAI-shaped messages, splitting tool_result blocks out into their own
// "tool" role messages per spec.md §4.3.
func convertMessage(m anthropic.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	blocks := m.Content.AsBlocks()

	switch m.Role {
	case "user":
		return convertUserMessage(blocks)
	case "assistant":
		return convertAssistantMessage(blocks)
	default:
		return nil, fmt.Errorf("translate: unsupported message role %q", m.Role)
	}
}

func convertUserMessage(blocks []anthropic.ContentBlock) ([]openai.ChatCompletionMessageParamUnion, error) {
	var out []openai.ChatCompletionMessageParamUnion
	var textParts []anthropic.ContentBlock

	for _, b := range blocks {
		if b.Type != "tool_result" {
			textParts = append(textParts, b)
			continue
		}
		content, err := json.Marshal(b.Content.PlainText())
		if err != nil {
			return nil, err
		}
		var contentStr string
		_ = json.Unmarshal(content, &contentStr)
		out = append(out, openai.ChatCompletionMessageParamUnion{
			OfTool: &openai.ChatCompletionToolMessageParam{
				ToolCallID: b.ToolUseID,
				Content:    openai.ChatCompletionToolMessageParamContentUnion{OfString: openai.String(contentStr)},
			},
		})
	}

	if len(textParts) == 0 {
		return out, nil
	}

	if hasImages(textParts) {
		out = append(out, openai.ChatCompletionMessageParamUnion{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: convertUserParts(textParts),
				},
			},
		})
		return out, nil
	}

	out = append(out, openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{OfString: openai.String(joinTextBlocks(textBlocksFrom(textParts)))},
		},
	})
	return out, nil
}

func convertAssistantMessage(blocks []anthropic.ContentBlock) ([]openai.ChatCompletionMessageParamUnion, error) {
	var text string
	var toolCalls []openai.ChatCompletionMessageToolCallUnionParam

	for _, b := range blocks {
		switch b.Type {
		case "text":
			text += b.Text
		case "thinking":
			// Not re-sent upstream.
		case "tool_use":
			args := "{}"
			if len(b.Input) > 0 {
				args = string(b.Input)
			}
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: b.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      b.Name,
						Arguments: args,
					},
				},
			})
		}
	}

	msg := &openai.ChatCompletionAssistantMessageParam{}
	if text != "" {
		msg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
	}
	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
	}

	return []openai.ChatCompletionMessageParamUnion{{OfAssistant: msg}}, nil
}

func hasImages(blocks []anthropic.ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == "image" {
			return true
		}
	}
	return false
}

func convertUserParts(blocks []anthropic.ContentBlock) []openai.ChatCompletionContentPartUnionParam {
	var parts []openai.ChatCompletionContentPartUnionParam
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, openai.ChatCompletionContentPartUnionParam{
				OfText: &openai.ChatCompletionContentPartTextParam{Text: b.Text},
			})
		case "image":
			if b.Source == nil {
				continue
			}
			url := fmt.Sprintf("data:%s;base64,%s", b.Source.MediaType, encodeIfNeeded(b.Source))
			parts = append(parts, openai.ChatCompletionContentPartUnionParam{
				OfImageURL: &openai.ChatCompletionContentPartImageParam{
					ImageURL: openai.ChatCompletionContentPartImageImageURLParam{URL: url},
				},
			})
		}
	}
	return parts
}

// encodeIfNeeded returns the image payload for the data URL. Anthropic's
// base64 image source is already base64-encoded on the wire, so the bytes
// are passed through; a non-base64 source type would need encoding here,
// but the API surface this gateway serves only accepts "base64".
func encodeIfNeeded(src *anthropic.ImageSource) string {
	if src.Type == "base64" {
		return src.Data
	}
	return base64.StdEncoding.EncodeToString([]byte(src.Data))
}

func textBlocksFrom(blocks []anthropic.ContentBlock) []anthropic.TextBlock {
	out := make([]anthropic.TextBlock, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" {
			out = append(out, anthropic.TextBlock{Type: "text", Text: b.Text})
		}
	}
	return out
}

func joinTextBlocks(blocks []anthropic.TextBlock) string {
	out := ""
	for _, b := range blocks {
		out += b.Text
	}
	return out
}

func convertTool(t anthropic.Tool) openai.ChatCompletionToolUnionParam {
	var params map[string]any
	_ = json.Unmarshal(t.InputSchema, &params)
	return openai.ChatCompletionToolUnionParam{
		OfFunction: &openai.ChatCompletionFunctionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  params,
			},
		},
	}
}

func convertToolChoice(tc anthropic.ToolChoice) openai.ChatCompletionToolChoiceOptionUnionParam {
	switch tc.Type {
	case "any":
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}
	case "tool":
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: tc.Name},
			},
		}
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}
	}
}
