package workflow

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anthropics/issuebot/internal/codegen"
	"github.com/anthropics/issuebot/internal/config"
	"github.com/anthropics/issuebot/internal/eventlog"
	"github.com/anthropics/issuebot/internal/iteration"
	"github.com/anthropics/issuebot/internal/lock"
	"github.com/anthropics/issuebot/internal/model"
	"github.com/anthropics/issuebot/internal/providers"
	"github.com/anthropics/issuebot/internal/retry"
	"github.com/anthropics/issuebot/internal/reviewer"
	"github.com/anthropics/issuebot/internal/sandbox"
	"github.com/anthropics/issuebot/internal/security"
	"github.com/anthropics/issuebot/internal/store"
)

// costPerInputToken and costPerOutputToken give EstimatedCost a concrete
// unit; no pricing source is authoritative, so these stand in as a flat
// per-token rate applied uniformly to every tool invocation.
const (
	costPerInputToken  = 0.000003
	costPerOutputToken = 0.000015
)

// reviewPassScoreFloor is the minimum per-dimension review score the
// verdict requires for a pass.
const reviewPassScoreFloor = 0.7

// Engine drives a TrackedIssue through IN_PROGRESS: branch setup, code
// generation, CI, optional independent review, and the approval gate,
// at most one workflow per issue at a time.
type Engine struct {
	store      store.Store
	provider   providers.Provider
	codegen    *codegen.Tool
	reviewer   *reviewer.Tool
	iterations *iteration.Manager
	events     *eventlog.Log
	locker     *lock.IssueLocker
	sandboxes  *sandbox.Manager
	pool       *pool
	ci         *ciMonitor
	retryOpts  retry.Options
	log        *zap.Logger
}

// New builds an Engine.
func New(st store.Store, provider providers.Provider, codegenTool *codegen.Tool, reviewerTool *reviewer.Tool, iterations *iteration.Manager, events *eventlog.Log, locker *lock.IssueLocker, sandboxes *sandbox.Manager, retryCfg config.RetryConfig, maxPerRepo, maxTotal int, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	opts := retry.DefaultOptions(retryCfg)
	opts.Classifier = codegen.Classify
	return &Engine{
		store:      st,
		provider:   provider,
		codegen:    codegenTool,
		reviewer:   reviewerTool,
		iterations: iterations,
		events:     events,
		locker:     locker,
		sandboxes:  sandboxes,
		pool:       newPool(maxPerRepo, maxTotal),
		ci:         newCIMonitor(provider),
		retryOpts:  opts,
		log:        log,
	}
}

// Dispatch implements polling.Dispatcher. The caller has already marked
// issue IN_PROGRESS; Dispatch only needs to acquire the per-issue lock
// and a worker-pool slot. Both failures are returned so the caller can
// restore QUEUED and retry on a later tick.
func (e *Engine) Dispatch(ctx context.Context, repo *model.WatchedRepo, issue *model.TrackedIssue) error {
	return e.dispatch(repo, issue, "")
}

func (e *Engine) dispatch(repo *model.WatchedRepo, issue *model.TrackedIssue, rejectionFeedback string) error {
	key := lock.Key{RepoID: repo.ID, IssueNumber: issue.IssueNumber}
	release, ok := e.locker.TryLock(key)
	if !ok {
		return fmt.Errorf("workflow already in flight for issue #%d", issue.IssueNumber)
	}

	submitted := e.pool.trySubmit(context.Background(), repo.ID, job{run: func(bgCtx context.Context) {
		defer release()
		e.runWorkflow(bgCtx, repo, issue, rejectionFeedback)
	}})
	if !submitted {
		release()
		return fmt.Errorf("worker pool saturated for repo %s", repo.FullName())
	}
	return nil
}

// iterationOutcome tells runWorkflow what kind of pass runIteration just
// completed, so it knows which budget (if any) to advance next time
// around: a fresh implementation attempt against a new diff, or a
// review-only retry against the diff already open.
type iterationOutcome int

const (
	outcomeTerminal iterationOutcome = iota
	outcomeRetryImplementation
	outcomeRetryReview
)

// runWorkflow repeats the per-iteration procedure until issue reaches
// AWAITING_APPROVAL, COMPLETED, or FAILED, persisting state after every
// step so a crash mid-run leaves a resumable record.
func (e *Engine) runWorkflow(ctx context.Context, repo *model.WatchedRepo, issue *model.TrackedIssue, rejectionFeedback string) {
	for {
		if !e.iterations.CanIterate(issue, repo) {
			latest, _ := e.store.Iterations().Latest(ctx, issue.ID)
			if err := e.iterations.HandleMaxIterationsReached(ctx, repo.FullName(), issue, latest); err != nil {
				e.log.Error("escalation failed", zap.Int("issue", issue.IssueNumber), zap.Error(err))
			}
			return
		}

		// A fresh implementation iteration produces a new diff, so the
		// review budget for that diff starts over.
		issue.CurrentIteration++
		issue.CurrentReviewIteration = 0
		issue.CurrentPhase = "implementation"
		if err := e.store.Issues().Save(ctx, issue); err != nil {
			e.log.Error("persist iteration increment failed", zap.Int("issue", issue.IssueNumber), zap.Error(err))
			return
		}

		outcome, err := e.runIteration(ctx, repo, issue, rejectionFeedback)
		rejectionFeedback = ""
		for outcome == outcomeRetryReview && err == nil {
			// Review rejected this diff but the review budget allows another
			// pass; re-run without touching CurrentIteration.
			outcome, err = e.runIteration(ctx, repo, issue, "")
		}
		if err != nil {
			e.log.Error("iteration procedure failed", zap.Int("issue", issue.IssueNumber), zap.Error(err))
			if failErr := e.failIssue(ctx, repo, issue, err); failErr != nil {
				e.log.Error("failing issue after fatal error also failed", zap.Error(failErr))
			}
			return
		}
		if outcome == outcomeTerminal {
			return
		}
	}
}

// failIssue runs the shared escalation procedure for a fatal,
// non-recoverable error (e.g. repository gone, unsafe branch refused).
func (e *Engine) failIssue(ctx context.Context, repo *model.WatchedRepo, issue *model.TrackedIssue, cause error) error {
	latest, _ := e.store.Iterations().Latest(ctx, issue.ID)
	if latest == nil {
		latest = &model.Iteration{SelfAssessment: cause.Error()}
	}
	return e.iterations.HandleMaxIterationsReached(ctx, repo.FullName(), issue, latest)
}

// runIteration runs one pass of the per-iteration procedure and reports
// which budget, if any, the caller should advance before looping back:
// outcomeRetryImplementation for a fresh code-gen attempt, outcomeRetryReview
// for another pass against the diff already open, or outcomeTerminal once
// the issue has reached a terminal/awaiting state for this dispatch.
func (e *Engine) runIteration(ctx context.Context, repo *model.WatchedRepo, issue *model.TrackedIssue, rejectionFeedback string) (outcome iterationOutcome, err error) {
	upstreamIssue, err := e.provider.GetIssue(ctx, repo.FullName(), issue.IssueNumber)
	if err != nil {
		return outcomeTerminal, fmt.Errorf("fetch issue: %w", err)
	}

	defaultBranch, err := e.ensureDefaultBranch(ctx, repo)
	if err != nil {
		return outcomeTerminal, err
	}

	sbx, err := e.sandboxes.GetOrCreate(repo.FullName(), strconv.FormatInt(issue.ID, 10))
	if err != nil {
		return outcomeTerminal, fmt.Errorf("acquire sandbox: %w", err)
	}
	if !sbx.Exists() {
		if err := e.provider.Clone(ctx, repo.FullName(), sbx.RepoDir); err != nil {
			return outcomeTerminal, fmt.Errorf("clone: %w", err)
		}
	}

	// Step 1: ensure the working branch (safe-branch invariant enforced
	// inside CreateBranch/Push).
	branch := issue.BranchName
	if branch == "" {
		branch = sandbox.BranchNameForIssue(issue.IssueNumber, issue.IssueTitle)
		issue.BranchName = branch
	}
	if err := sbx.CreateBranch(ctx, branch, defaultBranch); err != nil {
		return outcomeTerminal, fmt.Errorf("ensure branch: %w", err)
	}

	record := &model.Iteration{
		ID:             uuid.NewString(),
		TrackedIssueID: issue.ID,
		IterationNum:   issue.CurrentIteration,
		StartedAt:      time.Now(),
	}

	history, err := e.recentHistory(ctx, issue.ID)
	if err != nil {
		e.log.Warn("load iteration history failed", zap.Int("issue", issue.IssueNumber), zap.Error(err))
	}

	promptFile := sbx.RepoPath(".issuebot-prompt.md")
	if err := writeImplementationPrompt(promptFile, upstreamIssue, repo, history, rejectionFeedback); err != nil {
		return outcomeTerminal, fmt.Errorf("write implementation prompt: %w", err)
	}

	// Step 2-3: invoke the code-generation tool and parse its streamed
	// result line.
	result, genErr := retry.DoWithResult(ctx, e.retryOpts, func() (*codegen.Result, error) {
		return e.codegen.Run(ctx, codegen.Request{PromptFile: promptFile, WorkDir: sbx.RepoDir, AllowedPaths: repo.AllowedPaths})
	})
	if genErr != nil {
		if genErr == codegen.ErrNoResultLine {
			record.SelfAssessment = "code-generation tool produced no result line"
			e.finishIteration(ctx, issue, record)
			return outcomeRetryImplementation, nil
		}
		if codegen.Classify(genErr) == retry.Permanent {
			return outcomeTerminal, fmt.Errorf("code generation: %w", genErr)
		}
		record.SelfAssessment = fmt.Sprintf("code generation failed after retries: %v", genErr)
		e.finishIteration(ctx, issue, record)
		return outcomeRetryImplementation, nil
	}

	record.CodegenOutput = result.Output
	record.SelfAssessment = result.Output
	e.recordCost(ctx, issue, record.IterationNum, result.Usage, result.Model, model.PhaseImplementation)

	// Step 4: commit and push.
	if err := sbx.Commit(ctx, fmt.Sprintf("issuebot: implement #%d", issue.IssueNumber)); err != nil {
		return outcomeTerminal, fmt.Errorf("commit: %w", err)
	}
	hasChanges, err := sbx.HasChanges(ctx)
	if err != nil {
		e.log.Warn("check for changes failed", zap.Error(err))
	}
	if !hasChanges {
		diff, files, _ := sbx.DiffAgainst(ctx, defaultBranch)
		if diff == "" && len(files) == 0 {
			record.SelfAssessment += "\n\nNo changes were produced against the default branch."
			e.finishIteration(ctx, issue, record)
			return outcomeRetryImplementation, nil
		}
	}
	if err := sbx.Push(ctx, defaultBranch); err != nil {
		return outcomeTerminal, fmt.Errorf("push: %w", err)
	}

	diff, changedFiles, diffErr := sbx.DiffAgainst(ctx, defaultBranch)
	if diffErr != nil {
		e.log.Warn("diff against default branch failed", zap.Error(diffErr))
	}
	record.Diff = diff

	// Step 5: CI.
	ciResult := model.CIPassed
	if repo.CIEnabled {
		timeout := time.Duration(repo.CITimeoutMinutes) * time.Minute
		if timeout <= 0 {
			timeout = 15 * time.Minute
		}
		ciResult, err = e.ci.wait(ctx, repo.FullName(), branch, timeout)
		if err != nil {
			return outcomeTerminal, fmt.Errorf("ci poll: %w", err)
		}
	}
	record.CIResult = ciResult

	if ciResult != model.CIPassed {
		e.finishIteration(ctx, issue, record)
		return outcomeRetryImplementation, nil
	}

	// Step 6: independent review, only once CI has passed.
	reviewPassed := true
	if repo.SecurityReviewEnabled {
		verdict, err := e.runReview(ctx, sbx, upstreamIssue, changedFiles, diff, record)
		if err != nil {
			return outcomeTerminal, fmt.Errorf("review: %w", err)
		}
		reviewPassed = verdict.Passed
	}

	e.finishIteration(ctx, issue, record)

	if !reviewPassed {
		if !e.iterations.CanReviewIterate(issue, repo) {
			latest, _ := e.store.Iterations().Latest(ctx, issue.ID)
			if err := e.iterations.HandleMaxReviewIterationsReached(ctx, repo.FullName(), issue, latest); err != nil {
				return outcomeTerminal, fmt.Errorf("review escalation: %w", err)
			}
			return outcomeTerminal, nil
		}
		issue.CurrentReviewIteration++
		if err := e.store.Issues().Save(ctx, issue); err != nil {
			return outcomeTerminal, fmt.Errorf("persist review iteration: %w", err)
		}
		return outcomeRetryReview, nil
	}

	return outcomeTerminal, e.finalizeSuccess(ctx, repo, issue, upstreamIssue, branch, record)
}

// runReview invokes the reviewer tool and folds its verdict into record.
func (e *Engine) runReview(ctx context.Context, sbx *sandbox.Sandbox, issue *providers.Issue, changedFiles []string, diff string, record *model.Iteration) (*reviewer.Verdict, error) {
	promptFile := sbx.RepoPath(".issuebot-review-prompt.md")
	if err := writeReviewerPrompt(promptFile, issue, changedFiles, diff); err != nil {
		return nil, fmt.Errorf("write reviewer prompt: %w", err)
	}

	verdict, err := e.reviewer.Run(ctx, reviewer.Request{PromptFile: promptFile, WorkDir: sbx.RepoDir})
	if err != nil {
		return nil, err
	}

	passed := verdictPassed(verdict)
	verdict.Passed = passed

	verdictJSON := fmt.Sprintf("passed=%v summary=%q advice=%q findings=%d", passed, verdict.Summary, verdict.Advice, len(verdict.Findings))
	record.ReviewJSON = verdictJSON
	record.ReviewPassed = passed
	return verdict, nil
}

// verdictPassed re-derives the pass/fail decision rather than trusting
// the subprocess's own "passed" field: every per-dimension score must
// clear the floor, and a high-severity security finding forces failure
// regardless of the reported scores.
func verdictPassed(v *reviewer.Verdict) bool {
	scores := []float64{
		v.SpecComplianceScore, v.CorrectnessScore, v.CodeQualityScore,
		v.TestCoverageScore, v.ArchitectureFitScore, v.RegressionsScore, v.SecurityScore,
	}
	for _, s := range scores {
		if s < reviewPassScoreFloor {
			return false
		}
	}
	for _, f := range v.Findings {
		if f.Severity == reviewer.SeverityHigh && f.Category == reviewer.CategorySecurity {
			return false
		}
	}
	return true
}

// finalizeSuccess runs the terminal action once implementation, CI, and
// (if enabled) review have all passed: either merge directly, or open
// the PR and wait for human approval.
func (e *Engine) finalizeSuccess(ctx context.Context, repo *model.WatchedRepo, issue *model.TrackedIssue, upstreamIssue *providers.Issue, branch string, record *model.Iteration) error {
	pr, err := e.provider.CreateOrUpdatePR(ctx, repo.FullName(), providers.PRCreate{
		Title:   fmt.Sprintf("Fix #%d: %s", issue.IssueNumber, upstreamIssue.Title),
		Body:    buildPRBody(upstreamIssue, record.CodegenOutput),
		Head:    branch,
		Base:    repo.DefaultBranch,
		IssueID: issue.IssueNumber,
	})
	if err != nil {
		return fmt.Errorf("create/update PR: %w", err)
	}

	if repo.AutoMerge {
		mergeable, err := e.provider.IsMergeable(ctx, repo.FullName(), pr.Number)
		if err != nil {
			return fmt.Errorf("check mergeable: %w", err)
		}
		if mergeable {
			if err := e.provider.MergePR(ctx, repo.FullName(), pr.Number); err != nil {
				return fmt.Errorf("merge PR: %w", err)
			}
			issue.Status = model.StatusCompleted
			issue.CurrentPhase = ""
			issueID := issue.ID
			if e.events != nil {
				_ = e.events.Info(ctx, "WORKFLOW_COMPLETED", nil, &issueID, fmt.Sprintf("issue #%d merged via %s", issue.IssueNumber, pr.HTMLURL))
			}
			return e.store.Issues().Save(ctx, issue)
		}
	}

	notice := addBotMarker(fmt.Sprintf("Opened %s and awaiting approval. Reply `/approve` to merge, or leave feedback to request changes.", pr.HTMLURL))
	if _, err := e.provider.CreateComment(ctx, repo.FullName(), issue.IssueNumber, notice); err != nil {
		e.log.Warn("post awaiting-approval notice failed", zap.Int("issue", issue.IssueNumber), zap.Error(err))
	}

	issue.Status = model.StatusAwaitingApproval
	issue.CurrentPhase = "awaiting_approval"
	return e.store.Issues().Save(ctx, issue)
}

// finishIteration persists the completed Iteration row and resets the
// issue's working phase; best-effort, logged rather than propagated so
// the caller's own control flow decision isn't disrupted by a
// persistence hiccup on a record that is secondary to issue state.
func (e *Engine) finishIteration(ctx context.Context, issue *model.TrackedIssue, record *model.Iteration) {
	now := time.Now()
	record.CompletedAt = &now
	if err := e.store.Iterations().Save(ctx, record); err != nil {
		e.log.Warn("persist iteration record failed", zap.Int("issue", issue.IssueNumber), zap.Error(err))
	}
}

func (e *Engine) recordCost(ctx context.Context, issue *model.TrackedIssue, iterationNum int, usage codegen.Usage, modelUsed string, phase model.CostPhase) {
	cost := &model.CostTracking{
		ID:             uuid.NewString(),
		TrackedIssueID: issue.ID,
		IterationNum:   iterationNum,
		InputTokens:    usage.InputTokens,
		OutputTokens:   usage.OutputTokens,
		EstimatedCost:  float64(usage.InputTokens)*costPerInputToken + float64(usage.OutputTokens)*costPerOutputToken,
		ModelUsed:      modelUsed,
		Phase:          phase,
	}
	if err := e.store.Costs().Save(ctx, cost); err != nil {
		e.log.Warn("persist cost record failed", zap.Int("issue", issue.IssueNumber), zap.Error(err))
	}
}

// recentHistory loads an issue's prior iterations ordered latest-first
// for prompt construction.
func (e *Engine) recentHistory(ctx context.Context, trackedIssueID int64) ([]*model.Iteration, error) {
	history, err := e.store.Iterations().ListByTrackedIssue(ctx, trackedIssueID)
	if err != nil {
		return nil, err
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].StartedAt.After(history[j].StartedAt)
	})
	return history, nil
}

// ensureDefaultBranch resolves and persists repo's default branch if it
// was never configured.
func (e *Engine) ensureDefaultBranch(ctx context.Context, repo *model.WatchedRepo) (string, error) {
	if repo.DefaultBranch != "" {
		return repo.DefaultBranch, nil
	}
	branch, err := e.provider.GetDefaultBranch(ctx, repo.FullName())
	if err != nil {
		return "", fmt.Errorf("resolve default branch: %w", err)
	}
	repo.DefaultBranch = branch
	if err := e.store.Repos().Save(ctx, repo); err != nil {
		e.log.Warn("persist resolved default branch failed", zap.String("repo", repo.FullName()), zap.Error(err))
	}
	return branch, nil
}

// reviewCommentOutcome tags what a human's comment on an
// AWAITING_APPROVAL issue asked for.
type reviewCommentOutcome int

const (
	outcomeNone reviewCommentOutcome = iota
	outcomeApproved
	outcomeRejected
)

// SweepApprovals scans every AWAITING_APPROVAL issue across repos for a
// human response: approval merges the PR and completes the issue,
// rejection threads the feedback back into another implementation pass.
func (e *Engine) SweepApprovals(ctx context.Context) error {
	repos, err := e.store.Repos().ListAll(ctx)
	if err != nil {
		return err
	}

	for _, repo := range repos {
		pending, err := e.store.Issues().ListByStatus(ctx, repo.ID, model.StatusAwaitingApproval)
		if err != nil {
			e.log.Warn("list awaiting-approval issues failed", zap.String("repo", repo.FullName()), zap.Error(err))
			continue
		}
		for _, issue := range pending {
			if err := e.sweepOne(ctx, repo, issue); err != nil {
				e.log.Warn("sweep approval failed", zap.Int("issue", issue.IssueNumber), zap.Error(err))
			}
		}
	}
	return nil
}

func (e *Engine) sweepOne(ctx context.Context, repo *model.WatchedRepo, issue *model.TrackedIssue) error {
	comments, err := e.provider.GetComments(ctx, repo.FullName(), issue.IssueNumber)
	if err != nil {
		return fmt.Errorf("fetch comments: %w", err)
	}

	authorized := make([]*providers.Comment, 0, len(comments))
	for _, c := range comments {
		ok, err := security.IsAuthorized(ctx, e.provider, repo.FullName(), c.Author, e.log)
		if err != nil {
			return fmt.Errorf("check comment authorization: %w", err)
		}
		if ok {
			authorized = append(authorized, c)
		}
	}

	outcome, feedback := classifyLatestHumanComment(authorized)
	switch outcome {
	case outcomeApproved:
		pr, err := e.provider.GetPRByBranch(ctx, repo.FullName(), issue.BranchName)
		if err != nil {
			return fmt.Errorf("find PR for approval: %w", err)
		}
		if pr == nil {
			return fmt.Errorf("no open PR found for branch %s", issue.BranchName)
		}
		if err := e.provider.MergePR(ctx, repo.FullName(), pr.Number); err != nil {
			return fmt.Errorf("merge approved PR: %w", err)
		}
		issue.Status = model.StatusCompleted
		issue.CurrentPhase = ""
		issueID := issue.ID
		if e.events != nil {
			_ = e.events.Info(ctx, "WORKFLOW_COMPLETED", nil, &issueID, fmt.Sprintf("issue #%d approved and merged", issue.IssueNumber))
		}
		return e.store.Issues().Save(ctx, issue)

	case outcomeRejected:
		if err := e.iterations.HandleHumanRejection(ctx, issue, feedback); err != nil {
			return fmt.Errorf("record rejection: %w", err)
		}
		return e.dispatch(repo, issue, feedback)

	default:
		return nil
	}
}

// classifyLatestHumanComment scans comments (oldest first, as returned
// by providers.Provider.GetComments) for the most recent human
// response: an explicit "/approve", or any other non-bot comment, which
// is treated as rejection feedback to act on.
func classifyLatestHumanComment(comments []*providers.Comment) (reviewCommentOutcome, string) {
	outcome := outcomeNone
	feedback := ""
	for _, c := range comments {
		if isBotComment(c.Body) {
			continue
		}
		switch {
		case IsApproval(c.Body):
			outcome = outcomeApproved
			feedback = ""
		case IsAbort(c.Body):
			outcome = outcomeRejected
			feedback = ""
		default:
			outcome = outcomeRejected
			feedback = ExtractFeedback(c.Body)
		}
	}
	return outcome, feedback
}
