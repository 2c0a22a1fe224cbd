package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/prodscribe/internal/config"
	"github.com/kalambet/prodscribe/internal/describe"
	"github.com/kalambet/prodscribe/internal/identity"
	"github.com/kalambet/prodscribe/internal/payload"
	"github.com/kalambet/prodscribe/internal/poller"
	"github.com/kalambet/prodscribe/internal/prompt"
	"github.com/kalambet/prodscribe/internal/storage"
	"github.com/kalambet/prodscribe/internal/upstream"
)

// app is the process-wide wiring shared by serve, describe and mcp.
type app struct {
	cfg      config.Config
	client   *upstream.Client
	resolver *identity.Resolver
	service  *describe.Service
	fixtures payload.Input
	store    *storage.Store // nil when history is disabled
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// newApp builds the generation service from cfg. withHistory opens the
// generation store when cfg enables it.
func newApp(cfg config.Config, withHistory bool) (*app, error) {
	fixtures, err := payload.LoadFixtures(cfg.Payload.FixturesFile)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, fixtures: fixtures}

	if withHistory && cfg.Storage.HistoryEnabled {
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		a.store = store
	}

	a.client = upstream.NewClientWithBaseURL(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	a.resolver = identity.NewResolver(
		a.client,
		config.NewEnvFile(cfg.Assistant.EnvFile),
		assistantParams(cfg),
		cfg.Assistant.ID,
	)

	completer := upstream.NewCompleter(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, upstream.CompletionParams{
		Model:       cfg.OpenAI.Model,
		Temperature: float32(cfg.OpenAI.Temperature),
		MaxTokens:   cfg.OpenAI.MaxTokens,
	})

	deps := describe.Deps{
		Assistant: a.client,
		Identity:  a.resolver,
		Poller: poller.New(poller.Options{
			Timeout:       cfg.Run.Timeout,
			Interval:      cfg.Run.PollInterval,
			RetryInterval: cfg.Run.RetryInterval,
			Success:       cfg.Run.Success(),
			Failure:       cfg.Run.Failure(),
		}),
		Completer: completer,
		Model:     cfg.OpenAI.Model,
	}
	if a.store != nil {
		deps.Recorder = a.store
	}
	a.service = describe.New(deps)

	return a, nil
}

func assistantParams(cfg config.Config) upstream.AssistantParams {
	return upstream.AssistantParams{
		Name:         cfg.Assistant.Name,
		Description:  prompt.AssistantDescription,
		Instructions: prompt.Instructions(),
		Model:        cfg.OpenAI.Model,
	}
}

func (a *app) Close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
}
