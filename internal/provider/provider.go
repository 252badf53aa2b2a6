// Package provider wraps one OpenAI-compatible backend (NVIDIA NIM,
// OpenRouter, or LM Studio) behind a single Stream method, composing rate
// limiting, retry, and error-taxonomy mapping per spec.md §4.7.
package provider

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/branchpoint/claudegate/internal/translate"
)

// Config identifies and bounds one backend instance.
type Config struct {
	Name    string // "nim" | "openrouter" | "lmstudio", also used for logging
	BaseURL string
	APIKey  string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	RateLimiter RateLimiterConfig

	MaxRetries int
}

// Provider is one backend's singleton client, held for the process lifetime
// and acquired under a settings-derived key per spec.md §5.
type Provider struct {
	cfg     Config
	client  openai.Client
	limiter *RateLimiter
}

// New constructs a Provider for cfg.
func New(cfg Config) *Provider {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.ReadTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.ReadTimeout))
	}
	return &Provider{
		cfg:     cfg,
		client:  openai.NewClient(opts...),
		limiter: NewRateLimiter(cfg.RateLimiter),
	}
}

// Stream issues result.Params against the backend, retrying transient
// failures with bounded exponential backoff, and returns a channel of SSE
// event strings already translated through a StreamProcessor built around
// messageID/model/inputTokens. The channel is closed when the stream
// completes or a terminal error has been folded into an error event.
func (p *Provider) Stream(ctx context.Context, result translate.ConvertResult, messageID, model string, inputTokens int, procCfg translate.StreamProcessorConfig) <-chan string {
	out := make(chan string, 16)

	go func() {
		defer close(out)

		builder := translate.NewSSEBuilder(messageID, model, inputTokens)
		proc := translate.NewStreamProcessor(builder, procCfg)

		out <- builder.MessageStart()

		err := p.streamWithRetry(ctx, result, func(chunk openai.ChatCompletionChunk) {
			for _, evt := range proc.Feed(chunk) {
				out <- evt
			}
		})
		if err != nil {
			mapped := MapError(err, func() { p.limiter.Block(0) })
			slog.Warn("provider stream failed", "provider", p.cfg.Name, "error", mapped)
			for _, evt := range proc.FeedError(UserFacingMessage(mapped, p.cfg.ReadTimeout.Seconds())) {
				out <- evt
			}
			return
		}
	}()

	return out
}

func (p *Provider) streamWithRetry(ctx context.Context, result translate.ConvertResult, onChunk func(openai.ChatCompletionChunk)) error {
	var lastErr error

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if !IsRetryable(lastErr) {
				return lastErr
			}
			if err := p.sleepBackoff(ctx, attempt); err != nil {
				return err
			}
		}

		release, err := p.limiter.Acquire(ctx)
		if err != nil {
			return err
		}

		err = p.doStream(ctx, result, onChunk)
		release()
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return lastErr
}

func (p *Provider) doStream(ctx context.Context, result translate.ConvertResult, onChunk func(openai.ChatCompletionChunk)) error {
	reqOpts := make([]option.RequestOption, 0, len(result.Extra))
	for k, v := range result.Extra {
		reqOpts = append(reqOpts, option.WithJSONSet(k, v))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, result.Params, reqOpts...)
	for stream.Next() {
		onChunk(stream.Current())
	}
	return stream.Err()
}

func (p *Provider) sleepBackoff(ctx context.Context, attempt int) error {
	base := time.Duration(math.Pow(2, float64(attempt))) * 200 * time.Millisecond
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	wait := base + jitter
	if wait > 10*time.Second {
		wait = 10 * time.Second
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
