package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/branchpoint/claudegate/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// TokenStorageType represents the different storage backends supported for a
// provider's API key.
type TokenStorageType string

const (
	TokenStorageTypeFile    TokenStorageType = "file"
	TokenStorageTypeEnv     TokenStorageType = "env"
	TokenStorageTypeKeyring TokenStorageType = "keyring"
)

// ProviderName identifies one of the three supported OpenAI-compatible
// backends.
type ProviderName string

const (
	ProviderNIM        ProviderName = "nim"
	ProviderOpenRouter ProviderName = "openrouter"
	ProviderLMStudio   ProviderName = "lmstudio"
)

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigServerHost      = "127.0.0.1"
	DefaultConfigServerPort      = 4000
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigAuthStorage     = TokenStorageTypeEnv
	DefaultMaxConcurrentSessions = 16
)

// APIKeyConfig describes where one provider's API key is read from, reusing
// the teacher's tokenstore abstraction for a static credential instead of an
// OAuth-refreshed one.
type APIKeyConfig struct {
	Storage     TokenStorageType `json:"storage" validate:"required,oneof=file env keyring"`
	File        string           `json:"file,omitempty"`
	EnvKey      string           `json:"env_key,omitempty"`
	KeyringUser string           `json:"keyring_user,omitempty"`
}

// NewTokenStore builds the tokenstore.TokenStore this key config describes.
func (a *APIKeyConfig) NewTokenStore(serviceName string) (tokenstore.TokenStore, error) {
	switch a.Storage {
	case TokenStorageTypeFile:
		return tokenstore.NewFileStore(a.File)
	case TokenStorageTypeEnv:
		return tokenstore.NewEnvStore(a.EnvKey)
	case TokenStorageTypeKeyring:
		return tokenstore.NewKeyringStore(serviceName, a.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"`
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	Timeout time.Duration `json:"timeout"`
}

// ProviderConfig identifies and bounds one OpenAI-compatible backend, per
// spec.md §6's ProviderConfig shape.
type ProviderConfig struct {
	Name    ProviderName `json:"name" validate:"required,oneof=nim openrouter lmstudio"`
	BaseURL string       `json:"base_url" validate:"required,url"`
	APIKey  APIKeyConfig `json:"api_key"`

	Haiku  string `json:"haiku_model,omitempty"`
	Sonnet string `json:"sonnet_model,omitempty"`
	Opus   string `json:"opus_model,omitempty"`
	Model  string `json:"model_name" validate:"required"`

	MaxTokensCap int `json:"max_tokens_cap,omitempty"`

	ConnectTimeout time.Duration `json:"connect_timeout,omitempty"`
	ReadTimeout    time.Duration `json:"read_timeout,omitempty"`
	WriteTimeout   time.Duration `json:"write_timeout,omitempty"`

	RateLimit RateLimitConfig `json:"rate_limit"`
	MaxRetries int            `json:"max_retries,omitempty"`
}

// RateLimitConfig mirrors provider.RateLimiterConfig for config-layer
// decoding (kept separate so internal/provider has no koanf/validator
// dependency of its own).
type RateLimitConfig struct {
	MaxConcurrent int           `json:"max_concurrent,omitempty"`
	WindowSize    int           `json:"window_size,omitempty"`
	Window        time.Duration `json:"window,omitempty"`
}

// HaikuModel, SonnetModel, OpusModel, and ModelName satisfy
// translate.ModelSettings so a ProviderConfig can be passed straight into
// NormalizeModelName.
func (p *ProviderConfig) HaikuModel() string  { return p.Haiku }
func (p *ProviderConfig) SonnetModel() string { return p.Sonnet }
func (p *ProviderConfig) OpusModel() string   { return p.Opus }
func (p *ProviderConfig) ModelName() string   { return p.Model }

// TelegramConfig holds the Telegram bot front-end's settings.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty" validate:"required_if=Enabled true"`
}

// DiscordConfig holds the Discord bot front-end's settings.
type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty" validate:"required_if=Enabled true"`
}

// CLIConfig configures the subprocess-backed CLISession implementation.
type CLIConfig struct {
	Command               string   `json:"command"`
	Args                  []string `json:"args,omitempty"`
	MaxConcurrentSessions int      `json:"max_concurrent_sessions,omitempty"`
}

// StoreConfig points at the conversation-tree persistence file.
type StoreConfig struct {
	Path string `json:"path"`
}

// Config holds the application's configuration.
type Config struct {
	LogLevel  slog.Level   `json:"log_level"`
	LogFormat LogFormat    `json:"log_format" validate:"oneof=text json"`
	Server    ServerConfig `json:"server"`
	Shutdown  ShutdownConfig `json:"shutdown"`

	Providers []ProviderConfig `json:"providers" validate:"dive"`
	Default   ProviderName     `json:"default_provider"`

	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	CLI      CLIConfig      `json:"cli"`
	Store    StoreConfig    `json:"store"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.CLI.MaxConcurrentSessions == 0 {
		c.CLI.MaxConcurrentSessions = DefaultMaxConcurrentSessions
	}
	if c.Store.Path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("store.path required (auto-detect failed: %w)", err)
		}
		c.Store.Path = filepath.Join(configDir, "claudegate", "store.json")
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		if p.APIKey.Storage == "" {
			p.APIKey.Storage = DefaultConfigAuthStorage
		}
		if p.APIKey.Storage == TokenStorageTypeEnv && p.APIKey.EnvKey == "" {
			p.APIKey.EnvKey = fmt.Sprintf("CLAUDEGATE_%s_API_KEY", upperName(p.Name))
		}
	}
	if c.Default == "" && len(c.Providers) > 0 {
		c.Default = c.Providers[0].Name
	}

	return nil
}

func upperName(n ProviderName) string {
	out := make([]byte, len(n))
	for i := 0; i < len(n); i++ {
		b := n[i]
		if b >= 'a' && b <= 'z' {
			b -= 'a' - 'A'
		}
		out[i] = b
	}
	return string(out)
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if len(c.Providers) == 0 {
		return errors.New("at least one provider must be configured")
	}
	found := false
	for _, p := range c.Providers {
		if p.Name == c.Default {
			found = true
		}
		if p.APIKey.Storage == TokenStorageTypeFile && p.APIKey.File == "" {
			return fmt.Errorf("provider %s: file path required for file storage", p.Name)
		}
		if p.APIKey.Storage == TokenStorageTypeEnv && p.APIKey.EnvKey == "" {
			return fmt.Errorf("provider %s: env_key required for env storage", p.Name)
		}
		if p.APIKey.Storage == TokenStorageTypeKeyring && p.APIKey.KeyringUser == "" {
			return fmt.Errorf("provider %s: keyring_user required for keyring storage", p.Name)
		}
	}
	if !found {
		return fmt.Errorf("default_provider %q does not match any configured provider", c.Default)
	}
	if !c.Telegram.Enabled && !c.Discord.Enabled {
		return nil
	}
	if c.CLI.Command == "" {
		return errors.New("cli.command is required when a messaging front-end is enabled")
	}
	if c.Store.Path == "" {
		return errors.New("store.path is required when a messaging front-end is enabled")
	}
	return nil
}
