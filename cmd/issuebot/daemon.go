package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anthropics/issuebot/internal/polling"
)

// sweepInterval sets how often AWAITING_APPROVAL issues are rescanned
// for a human "/approve" or rejection comment. It runs independently of
// the main poll interval since approval waits are typically much longer
// than the window for new issues to appear.
const sweepInterval = 2 * time.Minute

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run as a daemon, polling every configured repo for issues to process",
		Long: `Run issuebot as a daemon that continuously polls every repository
listed in the config file for issues carrying the trigger label,
dispatches them into the workflow engine, and periodically rescans
AWAITING_APPROVAL issues for a human response.

Example:
  issuebot daemon --config config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
	return cmd
}

func runDaemon() error {
	logFilePath := logFile
	logger, cleanupLog, err := setupLogger(logFilePath, verbose)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer cleanupLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, cleanup, err := newApp(ctx, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := a.seedRepos(ctx); err != nil {
		return fmt.Errorf("seed repos: %w", err)
	}

	svc := polling.New(a.store.Repos(), a.store.Issues(), a.provider, a.engine, a.events,
		a.cfg.TriggerLabel, a.cfg.NeedsHumanLabel, a.cfg.PollInterval, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	go runApprovalSweep(ctx, a, logger)

	logger.Info("issuebot daemon starting", zap.Duration("poll_interval", a.cfg.PollInterval))
	if err := svc.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runApprovalSweep(ctx context.Context, a *app, logger *zap.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.engine.SweepApprovals(ctx); err != nil {
				logger.Warn("approval sweep failed", zap.Error(err))
			}
		}
	}
}
