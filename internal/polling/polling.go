// Package polling implements a fixed-cadence scan of each watched
// repository for agent-ready issues, the qualification rule that
// decides whether a TrackedIssue is picked up this cycle, and the
// topologically-ordered dispatch of QUEUED issues into the workflow
// engine.
package polling

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/anthropics/issuebot/internal/dependency"
	"github.com/anthropics/issuebot/internal/eventlog"
	"github.com/anthropics/issuebot/internal/model"
	"github.com/anthropics/issuebot/internal/providers"
	"github.com/anthropics/issuebot/internal/store"
)

// Dispatcher hands a qualifying, dependency-ready TrackedIssue to the
// Workflow Engine. Implemented by internal/workflow.Engine; kept as an
// interface here so polling never imports workflow.
type Dispatcher interface {
	Dispatch(ctx context.Context, repo *model.WatchedRepo, issue *model.TrackedIssue) error
}

// Service runs the fixed-cadence polling loop across every watched
// repository.
type Service struct {
	repos        store.WatchedRepoStore
	issues       store.TrackedIssueStore
	provider     providers.Provider
	dispatcher   Dispatcher
	events       *eventlog.Log
	triggerLabel string
	needsHuman   string
	interval     time.Duration
	log          *zap.Logger
}

// New builds a Service. events may be nil, in which case DEPENDENCY_CYCLE
// detections are logged but not appended to the durable event log.
func New(repos store.WatchedRepoStore, issues store.TrackedIssueStore, provider providers.Provider, dispatcher Dispatcher, events *eventlog.Log, triggerLabel, needsHumanLabel string, interval time.Duration, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repos:        repos,
		issues:       issues,
		provider:     provider,
		dispatcher:   dispatcher,
		events:       events,
		triggerLabel: triggerLabel,
		needsHuman:   needsHumanLabel,
		interval:     interval,
		log:          log,
	}
}

// Run drives the ticker loop until ctx is cancelled. Each tick: poll
// every watched repo, then dispatch the combined QUEUED set in
// topological order.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Tick(ctx); err != nil {
		s.log.Warn("poll tick failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.log.Warn("poll tick failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one full polling cycle across every watched repo.
func (s *Service) Tick(ctx context.Context) error {
	repos, err := s.repos.ListAll(ctx)
	if err != nil {
		return err
	}

	for _, repo := range repos {
		if err := s.pollRepo(ctx, repo); err != nil {
			s.log.Warn("poll repo failed", zap.String("repo", repo.FullName()), zap.Error(err))
		}
	}
	for _, repo := range repos {
		if err := s.reEvaluateBlocked(ctx, repo); err != nil {
			s.log.Warn("re-evaluate blocked failed", zap.String("repo", repo.FullName()), zap.Error(err))
		}
	}

	return s.dispatchQueued(ctx, repos)
}

// pollRepo runs one discovery pass for a single watched repo: discover
// candidates, qualify them, resolve dependencies, and mark BLOCKED or
// QUEUED.
func (s *Service) pollRepo(ctx context.Context, repo *model.WatchedRepo) error {
	candidates, err := s.provider.ListIssuesWithLabel(ctx, repo.FullName(), s.triggerLabel)
	if err != nil {
		return err
	}

	for _, candidate := range candidates {
		if hasLabel(candidate.Labels, s.needsHuman) {
			continue
		}

		issue, err := s.issues.FindByKey(ctx, repo.ID, candidate.Number)
		if err != nil && err != store.ErrNotFound {
			s.log.Warn("find tracked issue failed", zap.Int("issue", candidate.Number), zap.Error(err))
			continue
		}

		qualifies, tracked := s.qualifies(ctx, repo, candidate, issue)
		if !qualifies {
			continue
		}

		if err := s.resolveAndQueue(ctx, repo, candidate, tracked); err != nil {
			s.log.Warn("resolve dependencies failed", zap.Int("issue", candidate.Number), zap.Error(err))
		}
	}

	return nil
}

// qualifies decides whether a candidate issue should be picked up this
// cycle. tracked is the (possibly nil) existing TrackedIssue, normalized
// to a usable record for the caller: new issues get a zero-value record
// with PENDING status; COOLDOWN/FAILED issues that qualify are reset in
// place (the reset is persisted here, and qualifies returns false so
// the issue is picked up fresh on the next cycle).
func (s *Service) qualifies(ctx context.Context, repo *model.WatchedRepo, candidate *providers.Issue, tracked *model.TrackedIssue) (bool, *model.TrackedIssue) {
	if tracked == nil {
		return true, &model.TrackedIssue{
			RepoID:      repo.ID,
			IssueNumber: candidate.Number,
			IssueTitle:  candidate.Title,
			Status:      model.StatusPending,
		}
	}

	switch tracked.Status {
	case model.StatusPending:
		return true, tracked
	case model.StatusCooldown:
		if !iterationCooldownExpired(tracked) {
			return false, tracked
		}
		fallthrough
	case model.StatusFailed:
		tracked.Status = model.StatusPending
		tracked.CurrentIteration = 0
		if err := s.issues.Save(ctx, tracked); err != nil {
			s.log.Warn("reset issue to PENDING failed", zap.Int("issue", candidate.Number), zap.Error(err))
		}
		return false, tracked
	default:
		return false, tracked
	}
}

func iterationCooldownExpired(issue *model.TrackedIssue) bool {
	if issue.Status != model.StatusCooldown {
		return true
	}
	if issue.CooldownUntil == nil {
		return true
	}
	return time.Now().After(*issue.CooldownUntil)
}

// resolveAndQueue runs dependency resolution for a qualifying
// candidate and persists the resulting BLOCKED or QUEUED state. A
// detected cycle doesn't change that outcome (the candidate still ends
// up BLOCKED on whatever of its blockers remain open) but is escalated
// as a DEPENDENCY_CYCLE event so an operator can break the cycle by hand.
func (s *Service) resolveAndQueue(ctx context.Context, repo *model.WatchedRepo, candidate *providers.Issue, tracked *model.TrackedIssue) error {
	lookup := &storeLookup{provider: s.provider, issues: s.issues, repoID: repo.ID}
	warn := func(format string, args ...any) {
		s.log.Warn("dependency resolution warning", zap.String("detail", fmt.Sprintf(format, args...)))
	}

	resolution := dependency.Resolve(ctx, lookup, repo.FullName(), candidate.Number, warn)

	if len(resolution.UnresolvedBlockers) > 0 {
		tracked.Status = model.StatusBlocked
		tracked.BlockedByIssues = model.FormatCSVInts(resolution.UnresolvedBlockers)
	} else {
		tracked.Status = model.StatusQueued
		tracked.BlockedByIssues = ""
	}
	tracked.IssueTitle = candidate.Title

	if err := s.issues.Save(ctx, tracked); err != nil {
		return err
	}

	if resolution.HasCycle {
		s.log.Warn("dependency cycle detected", zap.Int("issue", candidate.Number), zap.String("chain", resolution.Chain))
		if s.events != nil {
			repoID := repo.ID
			issueID := tracked.ID
			msg := fmt.Sprintf("issue #%d: %s", candidate.Number, resolution.Chain)
			if err := s.events.Warn(ctx, "DEPENDENCY_CYCLE", &repoID, &issueID, msg); err != nil {
				s.log.Warn("append dependency cycle event failed", zap.Int("issue", candidate.Number), zap.Error(err))
			}
		}
	}

	return nil
}

// reEvaluateBlocked rechecks every BLOCKED issue's blockers and moves it
// to QUEUED once they've all resolved.
func (s *Service) reEvaluateBlocked(ctx context.Context, repo *model.WatchedRepo) error {
	blocked, err := s.issues.ListByStatus(ctx, repo.ID, model.StatusBlocked)
	if err != nil {
		return err
	}

	lookup := &storeLookup{provider: s.provider, issues: s.issues, repoID: repo.ID}
	warn := func(format string, args ...any) {}

	for _, issue := range blocked {
		if dependency.AllBlockersResolved(ctx, lookup, repo.FullName(), issue.BlockedByIssues, warn) {
			issue.Status = model.StatusQueued
			issue.BlockedByIssues = ""
			if err := s.issues.Save(ctx, issue); err != nil {
				s.log.Warn("unblock issue failed", zap.Int("issue", issue.IssueNumber), zap.Error(err))
			}
		}
	}
	return nil
}

// dispatchQueued gathers every QUEUED issue across all repos,
// topologically sorts by blocker edges (scoped per repo, so two repos
// with same-numbered issues never cross-link), and dispatches one at a
// time in order.
func (s *Service) dispatchQueued(ctx context.Context, repos []*model.WatchedRepo) error {
	reposByID := make(map[int64]*model.WatchedRepo, len(repos))
	var queued []*model.TrackedIssue
	for _, repo := range repos {
		reposByID[repo.ID] = repo
		issues, err := s.issues.ListByStatus(ctx, repo.ID, model.StatusQueued)
		if err != nil {
			s.log.Warn("list queued issues failed", zap.String("repo", repo.FullName()), zap.Error(err))
			continue
		}
		queued = append(queued, issues...)
	}
	if len(queued) == 0 {
		return nil
	}

	// TopologicalSort operates on bare ints; synthesize a dense id per
	// (repoID, issueNumber) pair so two watched repos that each have an
	// issue #N don't collide in the same sort.
	type issueKey struct {
		repoID int64
		number int
	}
	idOf := make(map[issueKey]int, len(queued))
	byID := make(map[int]*model.TrackedIssue, len(queued))
	for i, issue := range queued {
		idOf[issueKey{issue.RepoID, issue.IssueNumber}] = i
		byID[i] = issue
	}

	ids := make([]int, 0, len(queued))
	blockers := make(map[int][]int, len(queued))
	for i, issue := range queued {
		ids = append(ids, i)
		var bids []int
		for _, b := range issue.BlockedByList() {
			if id, ok := idOf[issueKey{issue.RepoID, b}]; ok {
				bids = append(bids, id)
			}
		}
		blockers[i] = bids
	}

	order := dependency.TopologicalSort(ids, blockers)

	for _, id := range order {
		issue := byID[id]
		repo := reposByID[issue.RepoID]
		if repo == nil {
			continue
		}

		issue.Status = model.StatusInProgress
		if err := s.issues.Save(ctx, issue); err != nil {
			s.log.Warn("mark issue IN_PROGRESS failed", zap.String("repo", repo.FullName()), zap.Int("issue", issue.IssueNumber), zap.Error(err))
			continue
		}

		if err := s.dispatcher.Dispatch(ctx, repo, issue); err != nil {
			s.log.Warn("dispatch failed, restoring QUEUED", zap.String("repo", repo.FullName()), zap.Int("issue", issue.IssueNumber), zap.Error(err))
			issue.Status = model.StatusQueued
			if saveErr := s.issues.Save(ctx, issue); saveErr != nil {
				s.log.Warn("restore QUEUED failed", zap.String("repo", repo.FullName()), zap.Int("issue", issue.IssueNumber), zap.Error(saveErr))
			}
		}
	}
	return nil
}

func hasLabel(labels []string, label string) bool {
	if label == "" {
		return false
	}
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
