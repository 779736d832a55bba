package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anthropics/issuebot/internal/model"
	"github.com/anthropics/issuebot/internal/store"
)

// pollInterval is how often run waits between checking whether the
// dispatched issue has left IN_PROGRESS, since Engine.Dispatch itself
// only submits the work and returns.
const runPollInterval = 2 * time.Second

func runCmd() *cobra.Command {
	var repo string
	var issueNum int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a single issue and wait for it to leave IN_PROGRESS",
		Long: `Dispatch a single issue into the workflow engine and block until it
reaches COMPLETED, FAILED, COOLDOWN, or AWAITING_APPROVAL.

Example:
  issuebot run --repo owner/repo --issue 123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if repo == "" {
				return fmt.Errorf("--repo is required")
			}
			if issueNum == 0 {
				return fmt.Errorf("--issue is required")
			}
			return runSingle(repo, issueNum)
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Repository (owner/repo)")
	cmd.Flags().IntVar(&issueNum, "issue", 0, "Issue number")
	cmd.MarkFlagRequired("repo")
	cmd.MarkFlagRequired("issue")

	return cmd
}

func runSingle(repoFullName string, issueNum int) error {
	logger, cleanupLog, err := setupLogger(logFile, verbose)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer cleanupLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	a, cleanup, err := newApp(ctx, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	owner, name, err := splitFullName(repoFullName)
	if err != nil {
		return err
	}

	repo, err := a.store.Repos().FindByFullName(ctx, owner, name)
	if err == store.ErrNotFound {
		return fmt.Errorf("repo %s is not configured (add it under config.yaml's repos list and restart)", repoFullName)
	} else if err != nil {
		return fmt.Errorf("look up repo: %w", err)
	}

	upstream, err := a.provider.GetIssue(ctx, repoFullName, issueNum)
	if err != nil {
		return fmt.Errorf("fetch issue: %w", err)
	}

	issue, err := a.store.Issues().FindByKey(ctx, repo.ID, issueNum)
	if err == store.ErrNotFound {
		issue = &model.TrackedIssue{
			RepoID:      repo.ID,
			IssueNumber: issueNum,
			IssueTitle:  upstream.Title,
			Status:      model.StatusQueued,
		}
		if err := a.store.Issues().Save(ctx, issue); err != nil {
			return fmt.Errorf("create tracked issue: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("look up tracked issue: %w", err)
	}

	if err := a.engine.Dispatch(ctx, repo, issue); err != nil {
		return fmt.Errorf("dispatch issue: %w", err)
	}

	fmt.Printf("Dispatched issue #%d, waiting for it to leave IN_PROGRESS...\n", issueNum)
	return waitForTerminalStatus(ctx, a, issue.ID)
}

func waitForTerminalStatus(ctx context.Context, a *app, issueID int64) error {
	ticker := time.NewTicker(runPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			current, err := a.store.Issues().FindByID(ctx, issueID)
			if err != nil {
				return fmt.Errorf("poll issue status: %w", err)
			}
			switch current.Status {
			case model.StatusInProgress, model.StatusQueued, model.StatusBlocked, model.StatusPending:
				continue
			default:
				fmt.Printf("Issue #%d is now %s\n", current.IssueNumber, current.Status)
				return nil
			}
		}
	}
}

func splitFullName(fullName string) (owner, name string, err error) {
	for i := 0; i < len(fullName); i++ {
		if fullName[i] == '/' {
			return fullName[:i], fullName[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid repository %q, expected owner/name", fullName)
}
