package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anthropics/issuebot/internal/model"
	"github.com/anthropics/issuebot/internal/store"
)

func abortCmd() *cobra.Command {
	var repo string
	var issueNum int

	cmd := &cobra.Command{
		Use:   "abort",
		Short: "Abort processing of a tracked issue",
		Long: `Abort processing of an issue: marks it FAILED, posts a comment on the
upstream issue, and moves it into cooldown so the poller won't
immediately re-queue it.

Example:
  issuebot abort --repo owner/repo --issue 123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if repo == "" {
				return fmt.Errorf("--repo is required")
			}
			if issueNum == 0 {
				return fmt.Errorf("--issue is required")
			}
			return abortIssue(repo, issueNum)
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Repository (owner/repo)")
	cmd.Flags().IntVar(&issueNum, "issue", 0, "Issue number")
	cmd.MarkFlagRequired("repo")
	cmd.MarkFlagRequired("issue")

	return cmd
}

func abortIssue(repoFullName string, issueNum int) error {
	logger, cleanupLog, err := setupLogger("", verbose)
	if err != nil {
		return err
	}
	defer cleanupLog()

	ctx := context.Background()
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
	if err != nil {
		return fmt.Errorf("look up repo: %w", err)
	}

	issue, err := a.store.Issues().FindByKey(ctx, repo.ID, issueNum)
	if err == store.ErrNotFound {
		return fmt.Errorf("issue #%d is not tracked for %s", issueNum, repoFullName)
	} else if err != nil {
		return fmt.Errorf("look up issue: %w", err)
	}

	if _, err := a.provider.CreateComment(ctx, repoFullName, issueNum, "**Processing aborted** via CLI command."); err != nil {
		fmt.Printf("warning: failed to post abort comment: %v\n", err)
	}
	if err := a.provider.AddLabel(ctx, repoFullName, issueNum, a.cfg.NeedsHumanLabel); err != nil {
		fmt.Printf("warning: failed to add %s label: %v\n", a.cfg.NeedsHumanLabel, err)
	}
	if err := a.provider.RemoveLabel(ctx, repoFullName, issueNum, a.cfg.TriggerLabel); err != nil {
		fmt.Printf("warning: failed to remove trigger label: %v\n", err)
	}

	issue.Status = model.StatusFailed
	issue.CurrentPhase = "aborted"
	if err := a.store.Issues().Save(ctx, issue); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	if err := a.iterations.EnterCooldown(ctx, issue); err != nil {
		return fmt.Errorf("enter cooldown: %w", err)
	}

	fmt.Printf("Aborted processing of issue #%d\n", issueNum)
	return nil
}
