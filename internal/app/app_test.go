package app

import "testing"

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := &Config{}
	if _, err := New(cfg); err == nil {
		t.Error("expected New to reject a config with no providers configured")
	}
}

func TestNewRejectsMissingAPIKey(t *testing.T) {
	p := validProviderConfig()
	p.APIKey = APIKeyConfig{Storage: TokenStorageTypeEnv, EnvKey: "CLAUDEGATE_TEST_DEFINITELY_UNSET"}
	cfg := &Config{
		LogFormat: LogFormatText,
		Server:    ServerConfig{Host: "127.0.0.1", Port: 4000},
		Providers: []ProviderConfig{p},
		Default:   ProviderNIM,
	}
	if _, err := New(cfg); err == nil {
		t.Error("expected New to fail when the configured api key environment variable is unset")
	}
}

func TestNewBuildsAppForWellFormedConfig(t *testing.T) {
	t.Setenv("CLAUDEGATE_NIM_API_KEY", "sk-test")

	cfg := &Config{
		LogFormat: LogFormatText,
		Server:    ServerConfig{Host: "127.0.0.1", Port: 4000},
		Providers: []ProviderConfig{validProviderConfig()},
		Default:   ProviderNIM,
	}

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.httpServer == nil {
		t.Error("expected an HTTP server to be wired")
	}
	if len(a.frontends) != 0 {
		t.Errorf("expected no messaging front-ends when neither telegram nor discord is enabled, got %d", len(a.frontends))
	}
}

func TestNewRejectsUnconfiguredDefaultProviderAfterValidate(t *testing.T) {
	// Validate() itself rejects this shape (see config_test.go), so this
	// double-checks New surfaces that same failure to the caller.
	t.Setenv("CLAUDEGATE_NIM_API_KEY", "sk-test")
	cfg := &Config{
		LogFormat: LogFormatText,
		Server:    ServerConfig{Host: "127.0.0.1", Port: 4000},
		Providers: []ProviderConfig{validProviderConfig()},
		Default:   ProviderLMStudio,
	}
	if _, err := New(cfg); err == nil {
		t.Error("expected New to reject a default provider that isn't configured")
	}
}
