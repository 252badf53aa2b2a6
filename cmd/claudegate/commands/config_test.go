package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v3"
)

func TestExtractAndTransformFlagsOnlyIncludesSetFlags(t *testing.T) {
	var got map[string]any
	cmd := &cli.Command{
		Name: "test",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server--host", Value: "127.0.0.1"},
			&cli.IntFlag{Name: "server--port", Value: 4000},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			got = extractAndTransformFlags(cmd)
			return nil
		},
	}

	if err := cmd.Run(context.Background(), []string{"test", "--server--host", "0.0.0.0"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got["server.host"] != "0.0.0.0" {
		t.Errorf("expected server.host to carry the explicitly passed flag value, got %v", got["server.host"])
	}
	if _, ok := got["server.port"]; ok {
		t.Errorf("expected an unset flag to be excluded so it doesn't override earlier config sources, got %v", got)
	}
	if _, ok := got["log_level"]; ok {
		t.Errorf("expected the unset log-level flag to be excluded, got %v", got)
	}
}

func TestLoadConfigFailsValidationWithoutProviders(t *testing.T) {
	_, err := loadConfig("", nil, func() []string { return nil })
	if err == nil {
		t.Error("expected an error when no providers are configured anywhere")
	}
}

func TestLoadConfigFromFileSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	toml := `
log_format = "text"
default_provider = "nim"

[server]
host = "127.0.0.1"
port = 4000

[[providers]]
name = "nim"
base_url = "https://integrate.api.nvidia.com/v1"
model_name = "meta/llama-3.1-70b-instruct"

[providers.api_key]
storage = "env"
env_key = "CLAUDEGATE_NIM_API_KEY"
`
	if err := os.WriteFile(path, []byte(toml), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := loadConfig(path, nil, func() []string { return nil })
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Name != "nim" {
		t.Errorf("got providers %+v", cfg.Providers)
	}
	if cfg.Default != "nim" {
		t.Errorf("got default provider %q", cfg.Default)
	}
}

func TestLoadConfigEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	toml := `
default_provider = "nim"

[server]
host = "127.0.0.1"
port = 4000

[[providers]]
name = "nim"
base_url = "https://integrate.api.nvidia.com/v1"
model_name = "meta/llama-3.1-70b-instruct"

[providers.api_key]
storage = "env"
env_key = "CLAUDEGATE_NIM_API_KEY"
`
	if err := os.WriteFile(path, []byte(toml), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	environ := func() []string { return []string{"CLAUDEGATE_SERVER__PORT=9000"} }
	cfg, err := loadConfig(path, nil, environ)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected the environment variable to override the file's port, got %d", cfg.Server.Port)
	}
}
