package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/branchpoint/claudegate/internal/clisession"
	"github.com/branchpoint/claudegate/internal/handler"
	"github.com/branchpoint/claudegate/internal/platform/discord"
	"github.com/branchpoint/claudegate/internal/platform/telegram"
	"github.com/branchpoint/claudegate/internal/provider"
	"github.com/branchpoint/claudegate/internal/server"
	"github.com/branchpoint/claudegate/internal/store"
	"github.com/branchpoint/claudegate/internal/translate"
)

// App orchestrates the lifecycle of the gateway HTTP server and, when
// configured, the messaging front-end(s). Grounded on the teacher's
// internal/app/app.go almost verbatim in structure (errgroup.WithContext,
// reverse-order shutdown funcs) — generalized to start more than one
// service.
type App struct {
	cfg *Config

	httpServer *server.Server
	frontends  []frontend
}

type frontend struct {
	name  string
	start func(context.Context) error
	stop  func(context.Context) error
}

// New builds an App from cfg: one Provider per configured backend, the
// default backend wired into the HTTP server, and — when Telegram or
// Discord is enabled — the handler.Handler, CLISession manager, and
// SessionStore wired into that platform's bot lifecycle.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	providers := map[ProviderName]*provider.Provider{}
	settings := map[ProviderName]providerConfigSettings{}
	for i := range cfg.Providers {
		pc := &cfg.Providers[i]
		apiKey, err := readAPIKey(pc)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		providers[pc.Name] = provider.New(provider.Config{
			Name:           string(pc.Name),
			BaseURL:        pc.BaseURL,
			APIKey:         apiKey,
			ConnectTimeout: pc.ConnectTimeout,
			ReadTimeout:    pc.ReadTimeout,
			WriteTimeout:   pc.WriteTimeout,
			MaxRetries:     pc.MaxRetries,
			RateLimiter: provider.RateLimiterConfig{
				WindowSize:          pc.RateLimit.WindowSize,
				Window:              pc.RateLimit.Window,
				MaxConcurrency:      pc.RateLimit.MaxConcurrent,
				CooldownOnRateLimit: 60 * time.Second,
			},
		})
		settings[pc.Name] = providerConfigSettings{cfg: pc}
	}

	defaultProvider, ok := providers[cfg.Default]
	if !ok {
		return nil, fmt.Errorf("default provider %q is not configured", cfg.Default)
	}
	defaultSettings := settings[cfg.Default]

	httpServer := server.New(
		&server.MessagesHandler{
			Provider:         defaultProvider,
			Settings:         defaultSettings,
			DefaultMaxTokens: 4096,
			StreamProcessor:  translate.DefaultStreamProcessorConfig(),
		},
		&server.CountTokensHandler{Settings: defaultSettings},
		slog.Default(),
	)

	a := &App{cfg: cfg, httpServer: httpServer}

	if cfg.Telegram.Enabled || cfg.Discord.Enabled {
		st, err := store.NewFileStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		cliManager := clisession.NewProcessManager(clisession.Config{
			BinaryPath:  cfg.CLI.Command,
			ExtraArgs:   cfg.CLI.Args,
			MaxSessions: cfg.CLI.MaxConcurrentSessions,
		})

		if cfg.Telegram.Enabled {
			bot, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token})
			if err != nil {
				return nil, fmt.Errorf("failed to create telegram bot: %w", err)
			}
			h := handler.New(bot, cliManager, st)
			bot.OnMessage(h.HandleMessage)
			a.frontends = append(a.frontends, frontend{name: "telegram", start: bot.Start, stop: bot.Stop})
		}

		if cfg.Discord.Enabled {
			bot, err := discord.New(discord.Config{Token: cfg.Discord.Token})
			if err != nil {
				return nil, fmt.Errorf("failed to create discord bot: %w", err)
			}
			h := handler.New(bot, cliManager, st)
			bot.OnMessage(h.HandleMessage)
			a.frontends = append(a.frontends, frontend{name: "discord", start: bot.Start, stop: bot.Stop})
		}
	}

	return a, nil
}

// Start starts all services and blocks until shutdown is triggered.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	slog.InfoContext(gCtx, "starting gateway server", "address", address)
	serverErrCh, err := a.httpServer.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.httpServer.Shutdown)

	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	for _, fe := range a.frontends {
		fe := fe
		slog.InfoContext(gCtx, "starting messaging front-end", "platform", fe.name)
		if err := fe.start(gCtx); err != nil {
			return fmt.Errorf("%s startup failed: %w", fe.name, err)
		}
		shutdownFuncs = append(shutdownFuncs, fe.stop)
	}

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// readAPIKey resolves one provider's API key via its configured tokenstore,
// reusing the teacher's tokenstore abstraction for a static credential
// instead of an OAuth-refreshed one.
func readAPIKey(pc *ProviderConfig) (string, error) {
	ts, err := pc.APIKey.NewTokenStore("claudegate-" + string(pc.Name))
	if err != nil {
		return "", fmt.Errorf("failed to create token store: %w", err)
	}
	key, err := ts.Read(context.Background())
	if err != nil {
		return "", fmt.Errorf("failed to read api key: %w", err)
	}
	return key, nil
}
