package translate

import "strings"

var providerPrefixes = []string{"anthropic/", "openai/", "gemini/"}

var claudeIdentifiers = []string{"haiku", "sonnet", "opus", "claude"}

// ModelSettings supplies the configured target model names consulted during
// normalization.
type ModelSettings interface {
	HaikuModel() string
	SonnetModel() string
	OpusModel() string
	ModelName() string
}

// StripProviderPrefixes removes a single leading "anthropic/", "openai/" or
// "gemini/" prefix, if present.
func StripProviderPrefixes(model string) string {
	for _, prefix := range providerPrefixes {
		if strings.HasPrefix(model, prefix) {
			return strings.TrimPrefix(model, prefix)
		}
	}
	return model
}

// IsClaudeModel reports whether model (case-insensitively) names a Claude
// model family.
func IsClaudeModel(model string) bool {
	lower := strings.ToLower(model)
	for _, id := range claudeIdentifiers {
		if strings.Contains(lower, id) {
			return true
		}
	}
	return false
}

// NormalizeModelName maps a client-supplied model string onto the operator's
// configured backend model, per spec.md §4.5. Non-Claude models pass through
// unchanged, including any provider prefix — normalization only rewrites
// Claude-family identifiers.
func NormalizeModelName(model string, settings ModelSettings) string {
	clean := StripProviderPrefixes(model)
	if !IsClaudeModel(clean) {
		return model
	}

	lower := strings.ToLower(clean)
	switch {
	case strings.Contains(lower, "haiku") && settings.HaikuModel() != "":
		return settings.HaikuModel()
	case strings.Contains(lower, "sonnet") && settings.SonnetModel() != "":
		return settings.SonnetModel()
	case strings.Contains(lower, "opus") && settings.OpusModel() != "":
		return settings.OpusModel()
	default:
		return settings.ModelName()
	}
}

// OriginalModel is an identity passthrough kept for call-site symmetry with
// NormalizeModelName, documenting that the caller should capture this value
// before normalizing for audit logging.
func OriginalModel(model string) string {
	return model
}
