package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/anthropics/issuebot/internal/model"
	"github.com/anthropics/issuebot/internal/store"
)

func statusCmd() *cobra.Command {
	var repo string
	var issueNum int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the status of issues tracked for a repository",
		Long: `Check the current workflow state of issues tracked by issuebot.

If --issue is specified, shows detailed status for that issue.
Otherwise, lists every tracked issue for the repository.

Example:
  issuebot status --repo owner/repo
  issuebot status --repo owner/repo --issue 123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if repo == "" {
				return fmt.Errorf("--repo is required")
			}
			if issueNum > 0 {
				return showIssueStatus(repo, issueNum)
			}
			return listIssues(repo)
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Repository (owner/repo)")
	cmd.Flags().IntVar(&issueNum, "issue", 0, "Specific issue number (optional)")
	cmd.MarkFlagRequired("repo")

	return cmd
}

func listIssues(repoFullName string) error {
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

	allStatuses := []model.IssueStatus{
		model.StatusPending, model.StatusQueued, model.StatusBlocked, model.StatusInProgress,
		model.StatusAwaitingApproval, model.StatusCompleted, model.StatusFailed, model.StatusCooldown,
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ISSUE\tTITLE\tSTATUS\tITERATION\tREVIEW ITER\tBRANCH")
	fmt.Fprintln(w, "-----\t-----\t------\t---------\t-----------\t------")

	found := 0
	for _, status := range allStatuses {
		issues, err := a.store.Issues().ListByStatus(ctx, repo.ID, status)
		if err != nil {
			return fmt.Errorf("list issues in status %s: %w", status, err)
		}
		for _, issue := range issues {
			title := issue.IssueTitle
			if len(title) > 50 {
				title = title[:47] + "..."
			}
			fmt.Fprintf(w, "#%d\t%s\t%s\t%d\t%d\t%s\n",
				issue.IssueNumber, title, issue.Status, issue.CurrentIteration, issue.CurrentReviewIteration, issue.BranchName)
			found++
		}
	}
	w.Flush()

	if found == 0 {
		fmt.Printf("No tracked issues found for %s\n", repoFullName)
	}
	return nil
}

func showIssueStatus(repoFullName string, issueNum int) error {
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
		fmt.Printf("Issue #%d is not tracked\n", issueNum)
		return nil
	} else if err != nil {
		return fmt.Errorf("look up issue: %w", err)
	}

	fmt.Printf("Issue #%d: %s\n", issue.IssueNumber, issue.IssueTitle)
	fmt.Printf("Status: %s\n", issue.Status)
	fmt.Printf("Phase: %s\n", issue.CurrentPhase)
	fmt.Printf("Iteration: %d\n", issue.CurrentIteration)
	fmt.Printf("Review iteration: %d\n", issue.CurrentReviewIteration)
	if issue.BranchName != "" {
		fmt.Printf("Branch: %s\n", issue.BranchName)
	}
	if len(issue.BlockedByList()) > 0 {
		fmt.Printf("Blocked by: %v\n", issue.BlockedByList())
	}
	if issue.CooldownUntil != nil {
		fmt.Printf("Cooldown until: %s\n", issue.CooldownUntil.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Last updated: %s\n", issue.UpdatedAt.Format("2006-01-02 15:04:05"))

	iterations, err := a.store.Iterations().ListByTrackedIssue(ctx, issue.ID)
	if err != nil {
		return fmt.Errorf("list iterations: %w", err)
	}
	if len(iterations) > 0 {
		fmt.Println("\nIterations:")
		for _, it := range iterations {
			fmt.Printf("  #%d  CI=%s  review_passed=%v\n", it.IterationNum, it.CIResult, it.ReviewPassed)
		}
	}
	return nil
}
