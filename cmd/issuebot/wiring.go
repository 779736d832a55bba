package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/anthropics/issuebot/internal/codegen"
	"github.com/anthropics/issuebot/internal/config"
	"github.com/anthropics/issuebot/internal/eventlog"
	"github.com/anthropics/issuebot/internal/iteration"
	"github.com/anthropics/issuebot/internal/lock"
	"github.com/anthropics/issuebot/internal/logsan"
	"github.com/anthropics/issuebot/internal/model"
	"github.com/anthropics/issuebot/internal/providers"
	"github.com/anthropics/issuebot/internal/reviewer"
	"github.com/anthropics/issuebot/internal/sandbox"
	"github.com/anthropics/issuebot/internal/store"
	"github.com/anthropics/issuebot/internal/store/postgres"
	"github.com/anthropics/issuebot/internal/workflow"
)

// setupLogger builds a zap logger that writes JSON lines to stdout and,
// if logFilePath is non-empty, tees them to a file too. Every core is
// wrapped in logsan so credential-shaped substrings never reach either
// sink.
func setupLogger(logFilePath string, verbose bool) (*zap.Logger, func(), error) {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	cores := []zapcore.Core{logsan.Wrap(zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))}
	cleanup := func() {}

	if logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to create log directory %s: %v, logging to stdout only\n", filepath.Dir(logFilePath), err)
		} else {
			file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to open log file %s: %v, logging to stdout only\n", logFilePath, err)
			} else {
				cores = append(cores, logsan.Wrap(zapcore.NewCore(encoder, zapcore.AddSync(file), level)))
				cleanup = func() { file.Close() }
			}
		}
	}

	logger := zap.New(zapcore.NewTee(cores...))
	return logger, cleanup, nil
}

func createProvider(cfg *config.Config, log *zap.Logger) (providers.Provider, error) {
	var p providers.Provider
	switch cfg.Provider {
	case "gitea":
		p = providers.NewGiteaProviderWithRetry(cfg.Gitea.URL, cfg.Gitea.Token, cfg.Retry)
	case "github":
		p = providers.NewGitHubProviderWithRetry(cfg.GitHub.Token, cfg.Retry)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	return providers.NewResilientProvider(p, log), nil
}

// app bundles the wiring shared by every subcommand that touches the
// workflow engine.
type app struct {
	cfg        *config.Config
	store      store.Store
	provider   providers.Provider
	engine     *workflow.Engine
	iterations *iteration.Manager
	events     *eventlog.Log
	log        *zap.Logger
	cleanup    func()
}

func newApp(ctx context.Context, logger *zap.Logger) (*app, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	pgStore, err := postgres.Open(cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := store.Migrate(pgStore.DB().DB, cfg.Database.MigrationsTable); err != nil {
		pgStore.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	provider, err := createProvider(cfg, logger)
	if err != nil {
		pgStore.Close()
		return nil, nil, err
	}

	var sink eventlog.Sink
	if cfg.Slack.WebhookURL != "" {
		sink = eventlog.NewSlackSink(cfg.Slack.WebhookURL, cfg.Slack.Channel)
	}
	events := eventlog.New(pgStore.Events(), sink, logger)

	locker := lock.New()
	sandboxes := sandbox.NewManager(cfg.WorkDir)
	iterations := iteration.New(pgStore.Issues(), provider, events, logger)
	codegenTool := codegen.New(cfg.Codegen.Command, cfg.Codegen.Timeout)
	reviewerTool := reviewer.New(cfg.Reviewer.Command, cfg.Reviewer.Timeout)

	engine := workflow.New(pgStore, provider, codegenTool, reviewerTool, iterations, events, locker, sandboxes,
		cfg.Retry, cfg.Concurrency.MaxPerRepo, cfg.Concurrency.MaxTotal, logger)

	a := &app{
		cfg:        cfg,
		store:      pgStore,
		provider:   provider,
		engine:     engine,
		iterations: iterations,
		events:     events,
		log:        logger,
	}
	cleanup := func() { pgStore.Close() }
	return a, cleanup, nil
}

// seedRepos upserts every configured repo into the store, keyed by
// owner/name, leaving any already-persisted row's mutable runtime state
// (current iteration counts, cooldowns, etc. live on TrackedIssue, not
// here) untouched on repeated restarts.
func (a *app) seedRepos(ctx context.Context) ([]*model.WatchedRepo, error) {
	var seeded []*model.WatchedRepo
	for _, rc := range a.cfg.Repos {
		existing, err := a.store.Repos().FindByFullName(ctx, rc.Owner, rc.Name)
		if err != nil && err != store.ErrNotFound {
			return nil, fmt.Errorf("look up repo %s: %w", rc.FullName(), err)
		}
		repo := rc.ToWatchedRepo()
		if existing != nil {
			repo.ID = existing.ID
			repo.CreatedAt = existing.CreatedAt
		}
		if err := a.store.Repos().Save(ctx, &repo); err != nil {
			return nil, fmt.Errorf("save repo %s: %w", rc.FullName(), err)
		}
		seeded = append(seeded, &repo)
	}
	return seeded, nil
}
