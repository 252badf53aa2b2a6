package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
)

// AuthenticationError indicates a missing or rejected API key. Never retried.
type AuthenticationError struct {
	Message  string
	RawError string
}

func (e *AuthenticationError) Error() string { return e.Message }

// RateLimitError indicates an upstream 429. The caller is expected to also
// set the global rate-limiter cooldown.
type RateLimitError struct {
	Message  string
	RawError string
}

func (e *RateLimitError) Error() string { return e.Message }

// InvalidRequestError indicates an upstream 400 or schema mismatch.
type InvalidRequestError struct {
	Message  string
	RawError string
}

func (e *InvalidRequestError) Error() string { return e.Message }

// OverloadedError indicates an upstream 5xx reporting capacity exhaustion.
// Retryable with backoff.
type OverloadedError struct {
	Message  string
	RawError string
}

func (e *OverloadedError) Error() string { return e.Message }

// APIError is any other upstream failure carrying a status code.
type APIError struct {
	Message    string
	StatusCode int
	RawError   string
}

func (e *APIError) Error() string { return e.Message }

// TimeoutError indicates a connect/read/write timeout.
type TimeoutError struct {
	Message string
}

func (e *TimeoutError) Error() string { return e.Message }

// ProviderError is the generic fallback for unrecognized upstream failures.
type ProviderError struct {
	Message  string
	RawError string
}

func (e *ProviderError) Error() string { return e.Message }

// NewTimeoutError builds a TimeoutError with the configured duration baked
// into its message, as spec.md §7 requires.
func NewTimeoutError(seconds float64) *TimeoutError {
	if seconds > 0 {
		return &TimeoutError{Message: fmt.Sprintf("Provider request timed out after %gs.", seconds)}
	}
	return &TimeoutError{Message: "Request timed out."}
}

// MapError translates an error returned by the openai-go client into the
// domain taxonomy above, mirroring
// original_source/providers/common/error_mapping.py's map_error. onRateLimit
// is invoked (to set the global cooldown) when a 429 is observed; pass nil
// to skip that side effect.
func MapError(err error, onRateLimit func()) error {
	if err == nil {
		return nil
	}

	message := UserFacingMessage(err, 0)

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return &AuthenticationError{Message: message, RawError: err.Error()}
		case 429:
			if onRateLimit != nil {
				onRateLimit()
			}
			return &RateLimitError{Message: message, RawError: err.Error()}
		case 400, 422:
			return &InvalidRequestError{Message: message, RawError: err.Error()}
		}
		if apiErr.StatusCode >= 500 {
			raw := strings.ToLower(err.Error())
			if strings.Contains(raw, "overloaded") || strings.Contains(raw, "capacity") {
				return &OverloadedError{Message: message, RawError: err.Error()}
			}
			return &APIError{Message: message, StatusCode: apiErr.StatusCode, RawError: err.Error()}
		}
		return &APIError{Message: message, StatusCode: apiErr.StatusCode, RawError: err.Error()}
	}

	if isTimeoutErr(err) {
		return NewTimeoutError(0)
	}

	return &ProviderError{Message: message, RawError: err.Error()}
}

func isTimeoutErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "timeout")
}

// UserFacingMessage returns a readable, non-empty error string, per
// spec.md §7's "all error messages are non-empty" invariant. readTimeoutS,
// when nonzero, is folded into the timeout-specific message.
func UserFacingMessage(err error, readTimeoutS float64) string {
	if err == nil {
		return "Provider request failed."
	}
	var te *TimeoutError
	if errors.As(err, &te) && readTimeoutS > 0 {
		return fmt.Sprintf("Provider request timed out after %gs.", readTimeoutS)
	}
	message := strings.TrimSpace(err.Error())
	if message != "" {
		return message
	}

	if isTimeoutErr(err) {
		if readTimeoutS > 0 {
			return fmt.Sprintf("Provider request timed out after %gs.", readTimeoutS)
		}
		return "Provider request timed out."
	}

	var rle *RateLimitError
	if errors.As(err, &rle) {
		return "Provider rate limit reached. Please retry shortly."
	}
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return "Provider authentication failed. Check API key."
	}
	var ire *InvalidRequestError
	if errors.As(err, &ire) {
		return "Invalid request sent to provider."
	}
	var oe *OverloadedError
	if errors.As(err, &oe) {
		return "Provider is currently overloaded. Please retry."
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 502 || apiErr.StatusCode == 503 || apiErr.StatusCode == 504 {
			return "Provider is temporarily unavailable. Please retry."
		}
		return "Provider API request failed."
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return "Provider request failed."
	}

	return "Provider request failed unexpectedly."
}

// AppendRequestID appends a "(request_id=...)" suffix when requestID is
// non-empty, falling back to the default unexpected-failure message when
// message is blank.
func AppendRequestID(message, requestID string) string {
	base := strings.TrimSpace(message)
	if base == "" {
		base = "Provider request failed unexpectedly."
	}
	if requestID == "" {
		return base
	}
	return fmt.Sprintf("%s (request_id=%s)", base, requestID)
}

// IsRetryable reports whether err is a transient failure spec.md §7 allows
// Provider.stream to retry: connect/read timeouts, overloaded upstreams and
// 502/503/504.
func IsRetryable(err error) bool {
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	var oe *OverloadedError
	if errors.As(err, &oe) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 502 || apiErr.StatusCode == 503 || apiErr.StatusCode == 504
	}
	return false
}
