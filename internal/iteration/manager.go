// Package iteration tracks per-issue implementation/review budgets,
// cooldown bookkeeping, and the escalation procedure that fires when a
// budget is exhausted.
package iteration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/anthropics/issuebot/internal/eventlog"
	"github.com/anthropics/issuebot/internal/model"
	"github.com/anthropics/issuebot/internal/providers"
	"github.com/anthropics/issuebot/internal/store"
)

const (
	cooldownDuration = 24 * time.Hour

	needsHumanLabel = "needs-human"

	truncatedFieldLimit   = 500
	truncatedFindingLimit = 1000
)

// Manager enforces iteration/review-iteration budgets and runs the
// escalation procedure. One Manager is shared across all watched repos;
// every method takes the owning WatchedRepo explicitly so budgets are
// never hard-coded.
type Manager struct {
	issues   store.TrackedIssueStore
	provider providers.Provider
	events   *eventlog.Log
	log      *zap.Logger
}

// New builds a Manager.
func New(issues store.TrackedIssueStore, provider providers.Provider, events *eventlog.Log, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{issues: issues, provider: provider, events: events, log: log}
}

// CanIterate reports whether issue has implementation budget remaining.
func (m *Manager) CanIterate(issue *model.TrackedIssue, repo *model.WatchedRepo) bool {
	return issue.CurrentIteration < repo.MaxIterations
}

// CanReviewIterate reports whether issue has review budget remaining.
func (m *Manager) CanReviewIterate(issue *model.TrackedIssue, repo *model.WatchedRepo) bool {
	return issue.CurrentReviewIteration < repo.MaxReviewIterations
}

// EnterCooldown transitions issue into a 24-hour quiet period and
// persists the change.
func (m *Manager) EnterCooldown(ctx context.Context, issue *model.TrackedIssue) error {
	until := time.Now().Add(cooldownDuration)
	issue.Status = model.StatusCooldown
	issue.CooldownUntil = &until
	return m.issues.Save(ctx, issue)
}

// IsCooldownExpired reports whether issue is eligible to leave cooldown:
// it isn't in COOLDOWN at all, has no cooldownUntil set, or that
// deadline has already passed.
func IsCooldownExpired(issue *model.TrackedIssue) bool {
	if issue.Status != model.StatusCooldown {
		return true
	}
	if issue.CooldownUntil == nil {
		return true
	}
	return time.Now().After(*issue.CooldownUntil)
}

// escalationKind distinguishes which budget exhaustion triggered
// HandleMaxIterationsReached's shared procedure.
type escalationKind int

const (
	kindImplementation escalationKind = iota
	kindReview
)

// HandleMaxIterationsReached runs the escalation procedure for an
// exhausted implementation budget: mark the issue FAILED, label it for
// human attention, post a summary comment, and enter cooldown. latest
// is the most recent Iteration row, used to summarize the failure in
// the escalation comment; it may be nil if no iteration ever completed.
func (m *Manager) HandleMaxIterationsReached(ctx context.Context, repo string, issue *model.TrackedIssue, latest *model.Iteration) error {
	return m.escalate(ctx, repo, issue, kindImplementation, latest)
}

// HandleMaxReviewIterationsReached runs the same escalation procedure
// for an exhausted review budget.
func (m *Manager) HandleMaxReviewIterationsReached(ctx context.Context, repo string, issue *model.TrackedIssue, latest *model.Iteration) error {
	return m.escalate(ctx, repo, issue, kindReview, latest)
}

func (m *Manager) escalate(ctx context.Context, repo string, issue *model.TrackedIssue, kind escalationKind, latest *model.Iteration) error {
	eventType := "MAX_ITERATIONS_REACHED"
	if kind == kindReview {
		eventType = "MAX_REVIEW_ITERATIONS_REACHED"
	}

	// Step 1: warning event, logged before any state mutation so the
	// audit trail survives even if the rest of escalation fails.
	m.logEvent(ctx, "ESCALATION_STARTED", issue, fmt.Sprintf("escalating %s/issue#%d: %s", repo, issue.IssueNumber, eventType))

	// Step 2: terminal state, persisted before the best-effort upstream
	// calls so a crash mid-escalation still leaves the issue FAILED
	// rather than silently stuck IN_PROGRESS.
	issue.Status = model.StatusFailed
	issue.CurrentPhase = ""
	if err := m.issues.Save(ctx, issue); err != nil {
		return fmt.Errorf("persist FAILED status: %w", err)
	}

	// Step 3: best-effort label.
	if err := m.provider.AddLabel(ctx, repo, issue.IssueNumber, needsHumanLabel); err != nil {
		m.log.Warn("failed to add needs-human label during escalation",
			zap.String("repo", repo), zap.Int("issue", issue.IssueNumber), zap.Error(err))
	}

	// Step 4: best-effort comment.
	comment := escalationComment(kind, issue, latest)
	if _, err := m.provider.CreateComment(ctx, repo, issue.IssueNumber, comment); err != nil {
		m.log.Warn("failed to post escalation comment",
			zap.String("repo", repo), zap.Int("issue", issue.IssueNumber), zap.Error(err))
	}

	// Step 5: cooldown.
	if err := m.EnterCooldown(ctx, issue); err != nil {
		return fmt.Errorf("enter cooldown: %w", err)
	}

	// Steps 6-7: WARN notification + durable escalation event.
	issueID := issue.ID
	msg := fmt.Sprintf("%s/issue#%d escalated to human review after exhausting its budget", repo, issue.IssueNumber)
	if m.events != nil {
		if err := m.events.Warn(ctx, eventType, nil, &issueID, msg); err != nil {
			m.log.Warn("failed to append escalation event", zap.Error(err))
		}
	}

	return nil
}

func escalationComment(kind escalationKind, issue *model.TrackedIssue, latest *model.Iteration) string {
	var b strings.Builder
	if kind == kindImplementation {
		fmt.Fprintf(&b, "## Max Iterations Reached\n\nFailed after %d iterations.\n", issue.CurrentIteration)
		if latest != nil {
			fmt.Fprintf(&b, "\n**Self-assessment (last attempt):**\n\n%s\n", truncate(latest.SelfAssessment, truncatedFieldLimit))
			fmt.Fprintf(&b, "\n**CI result:** %s\n", latest.CIResult)
		}
	} else {
		fmt.Fprintf(&b, "## Max Review Iterations Reached\n\nReview did not pass after %d attempts.\n", issue.CurrentReviewIteration)
		if latest != nil {
			fmt.Fprintf(&b, "\n**Last review findings:**\n\n%s\n", truncate(latest.ReviewJSON, truncatedFindingLimit))
		}
	}
	return b.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

// HandleHumanRejection records a HUMAN_REJECTION event and resets issue
// to IN_PROGRESS so the workflow engine re-enters with feedback threaded
// into the next implementation prompt.
func (m *Manager) HandleHumanRejection(ctx context.Context, issue *model.TrackedIssue, feedback string) error {
	issueID := issue.ID
	if m.events != nil {
		if err := m.events.Info(ctx, "HUMAN_REJECTION", nil, &issueID, feedback); err != nil {
			m.log.Warn("failed to append human rejection event", zap.Error(err))
		}
	}

	issue.Status = model.StatusInProgress
	return m.issues.Save(ctx, issue)
}

func (m *Manager) logEvent(ctx context.Context, eventType string, issue *model.TrackedIssue, message string) {
	if m.events == nil {
		return
	}
	issueID := issue.ID
	if err := m.events.Warn(ctx, eventType, nil, &issueID, message); err != nil {
		m.log.Warn("failed to append event", zap.String("event_type", eventType), zap.Error(err))
	}
}
