package providers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/anthropics/issuebot/internal/config"
	"github.com/anthropics/issuebot/internal/retry"
)

// GitHubProvider implements Provider against the real GitHub REST API
// via google/go-github, using a typed client so rate-limit/HTTP-status
// handling is precise.
type GitHubProvider struct {
	gh        *github.Client
	retryOpts *retry.Options
}

// githubHTTPClient builds the oauth2-authenticated http.Client go-github
// expects: every request carries the token as a bearer credential via
// oauth2.StaticTokenSource, rather than hand-rolling an Authorization
// header.
func githubHTTPClient(token string) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return oauth2.NewClient(context.Background(), src)
}

// NewGitHubProvider creates a GitHub provider authenticated with token.
func NewGitHubProvider(token string) *GitHubProvider {
	return &GitHubProvider{gh: github.NewClient(githubHTTPClient(token))}
}

// NewGitHubProviderWithRetry creates a GitHub provider whose every call
// is retried per cfg: 429 uses the rate-limit backoff, other 5xx use
// jittered exponential backoff up to MaxAttempts, and non-429 4xx
// propagate immediately.
func NewGitHubProviderWithRetry(token string, cfg config.RetryConfig) *GitHubProvider {
	opts := retry.DefaultOptions(cfg)
	opts.Classifier = classifyGitHubError
	return &GitHubProvider{
		gh:        github.NewClient(githubHTTPClient(token)),
		retryOpts: &opts,
	}
}

func (g *GitHubProvider) Name() string { return "github" }

// classifyGitHubError maps a go-github error onto retry.ErrorType by
// inspecting the wrapped *github.ErrorResponse status code.
func classifyGitHubError(err error) retry.ErrorType {
	if err == nil {
		return retry.Permanent
	}
	var ghErr *github.ErrorResponse
	if ok := asGitHubError(err, &ghErr); ok && ghErr.Response != nil {
		return retry.ClassifyHTTP(ghErr.Response.StatusCode)
	}
	return retry.ClassifyHTTPError(err)
}

func asGitHubError(err error, target **github.ErrorResponse) bool {
	for err != nil {
		if e, ok := err.(*github.ErrorResponse); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (g *GitHubProvider) withRetry(ctx context.Context, fn func() error) error {
	if g.retryOpts == nil {
		return fn()
	}
	return retry.Do(ctx, *g.retryOpts, fn)
}

func splitRepo(repo string) (owner, name string) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 {
		return repo, ""
	}
	return parts[0], parts[1]
}

func (g *GitHubProvider) GetIssue(ctx context.Context, repo string, number int) (*Issue, error) {
	owner, name := splitRepo(repo)
	var gi *github.Issue
	err := g.withRetry(ctx, func() error {
		var err error
		gi, _, err = g.gh.Issues.Get(ctx, owner, name, number)
		return err
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s#%d", ErrNotFound, repo, number)
	}
	if err != nil {
		return nil, err
	}
	return convertIssue(gi), nil
}

func (g *GitHubProvider) ListIssuesWithLabel(ctx context.Context, repo string, label string) ([]*Issue, error) {
	owner, name := splitRepo(repo)

	var result []*Issue
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		Labels:      []string{label},
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		var page []*github.Issue
		var resp *github.Response
		err := g.withRetry(ctx, func() error {
			var err error
			page, resp, err = g.gh.Issues.ListByRepo(ctx, owner, name, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, gi := range page {
			if gi.IsPullRequest() {
				continue
			}
			result = append(result, convertIssue(gi))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return result, nil
}

func (g *GitHubProvider) GetComments(ctx context.Context, repo string, number int) ([]*Comment, error) {
	owner, name := splitRepo(repo)

	var result []*Comment
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		var page []*github.IssueComment
		var resp *github.Response
		err := g.withRetry(ctx, func() error {
			var err error
			page, resp, err = g.gh.Issues.ListComments(ctx, owner, name, number, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, c := range page {
			result = append(result, &Comment{
				ID:        c.GetID(),
				Body:      c.GetBody(),
				Author:    c.GetUser().GetLogin(),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return result, nil
}

func (g *GitHubProvider) CreateComment(ctx context.Context, repo string, number int, body string) (int64, error) {
	owner, name := splitRepo(repo)
	var c *github.IssueComment
	err := g.withRetry(ctx, func() error {
		var err error
		c, _, err = g.gh.Issues.CreateComment(ctx, owner, name, number, &github.IssueComment{Body: github.Ptr(body)})
		return err
	})
	if err != nil {
		return 0, err
	}
	return c.GetID(), nil
}

func (g *GitHubProvider) UpdateComment(ctx context.Context, repo string, commentID int64, body string) error {
	owner, name := splitRepo(repo)
	return g.withRetry(ctx, func() error {
		_, _, err := g.gh.Issues.EditComment(ctx, owner, name, commentID, &github.IssueComment{Body: github.Ptr(body)})
		return err
	})
}

func (g *GitHubProvider) UpdateIssueBody(ctx context.Context, repo string, number int, body string) error {
	owner, name := splitRepo(repo)
	return g.withRetry(ctx, func() error {
		_, _, err := g.gh.Issues.Edit(ctx, owner, name, number, &github.IssueRequest{Body: github.Ptr(body)})
		return err
	})
}

func (g *GitHubProvider) AddLabel(ctx context.Context, repo string, number int, label string) error {
	owner, name := splitRepo(repo)
	return g.withRetry(ctx, func() error {
		_, _, err := g.gh.Issues.AddLabelsToIssue(ctx, owner, name, number, []string{label})
		return err
	})
}

func (g *GitHubProvider) RemoveLabel(ctx context.Context, repo string, number int, label string) error {
	owner, name := splitRepo(repo)
	return g.withRetry(ctx, func() error {
		_, err := g.gh.Issues.RemoveLabelForIssue(ctx, owner, name, number, label)
		if isNotFound(err) {
			return nil // label already absent, best-effort removal
		}
		return err
	})
}

func (g *GitHubProvider) CreateOrUpdatePR(ctx context.Context, repo string, pr PRCreate) (*PR, error) {
	existing, err := g.GetPRByBranch(ctx, repo, pr.Head)
	if err != nil {
		return nil, err
	}
	owner, name := splitRepo(repo)

	if existing != nil {
		var gp *github.PullRequest
		err := g.withRetry(ctx, func() error {
			var err error
			gp, _, err = g.gh.PullRequests.Edit(ctx, owner, name, existing.Number, &github.PullRequest{
				Title: github.Ptr(pr.Title),
				Body:  github.Ptr(pr.Body),
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		return convertPR(gp), nil
	}

	var gp *github.PullRequest
	err = g.withRetry(ctx, func() error {
		var err error
		gp, _, err = g.gh.PullRequests.Create(ctx, owner, name, &github.NewPullRequest{
			Title: github.Ptr(pr.Title),
			Body:  github.Ptr(pr.Body),
			Head:  github.Ptr(pr.Head),
			Base:  github.Ptr(pr.Base),
			Draft: github.Ptr(pr.Draft),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return convertPR(gp), nil
}

func (g *GitHubProvider) GetPR(ctx context.Context, repo string, number int) (*PR, error) {
	owner, name := splitRepo(repo)
	var gp *github.PullRequest
	err := g.withRetry(ctx, func() error {
		var err error
		gp, _, err = g.gh.PullRequests.Get(ctx, owner, name, number)
		return err
	})
	if err != nil {
		return nil, err
	}
	return convertPR(gp), nil
}

func (g *GitHubProvider) GetPRByBranch(ctx context.Context, repo string, branch string) (*PR, error) {
	owner, name := splitRepo(repo)
	var prs []*github.PullRequest
	err := g.withRetry(ctx, func() error {
		var err error
		prs, _, err = g.gh.PullRequests.List(ctx, owner, name, &github.PullRequestListOptions{
			Head:        owner + ":" + branch,
			State:       "open",
			ListOptions: github.ListOptions{PerPage: 1},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return convertPR(prs[0]), nil
}

func (g *GitHubProvider) MergePR(ctx context.Context, repo string, number int) error {
	owner, name := splitRepo(repo)
	return g.withRetry(ctx, func() error {
		_, _, err := g.gh.PullRequests.Merge(ctx, owner, name, number, "", &github.PullRequestOptions{MergeMethod: "merge"})
		if err != nil {
			var ghErr *github.ErrorResponse
			if asGitHubError(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == 405 {
				return fmt.Errorf("%w: %v", ErrMergeNotAllowed, err)
			}
		}
		return err
	})
}

func (g *GitHubProvider) IsMergeable(ctx context.Context, repo string, number int) (bool, error) {
	pr, err := g.GetPR(ctx, repo, number)
	if err != nil {
		return false, err
	}
	return pr.Mergeable, nil
}

func (g *GitHubProvider) Clone(ctx context.Context, repo string, dest string) error {
	cloneURL := fmt.Sprintf("https://github.com/%s.git", repo)
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cloneURL = fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", token, repo)
	}
	cmd := exec.CommandContext(ctx, "git", "clone", cloneURL, dest)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to clone repository: %w: %s", err, string(output))
	}
	return nil
}

func (g *GitHubProvider) GetDefaultBranch(ctx context.Context, repo string) (string, error) {
	owner, name := splitRepo(repo)
	var r *github.Repository
	err := g.withRetry(ctx, func() error {
		var err error
		r, _, err = g.gh.Repositories.Get(ctx, owner, name)
		return err
	})
	if isNotFound(err) {
		return "", fmt.Errorf("%w: %s", ErrRepoGone, repo)
	}
	if err != nil {
		return "", err
	}
	if r.GetDefaultBranch() == "" {
		return "main", nil
	}
	return r.GetDefaultBranch(), nil
}

func (g *GitHubProvider) IsCollaborator(ctx context.Context, repo, username string) (bool, error) {
	owner, name := splitRepo(repo)
	var perm *github.RepositoryPermissionLevel
	err := g.withRetry(ctx, func() error {
		var err error
		perm, _, err = g.gh.Repositories.GetPermissionLevel(ctx, owner, name, username)
		return err
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch perm.GetPermission() {
	case "admin", "maintain", "write", "triage":
		return true, nil
	default:
		return false, nil
	}
}

func (g *GitHubProvider) GetCIStatus(ctx context.Context, repo string, ref string) (CIStatus, error) {
	owner, name := splitRepo(repo)
	var combined *github.CombinedStatus
	err := g.withRetry(ctx, func() error {
		var err error
		combined, _, err = g.gh.Repositories.GetCombinedStatus(ctx, owner, name, ref, nil)
		return err
	})
	if isNotFound(err) {
		return CINotApplicable, nil
	}
	if err != nil {
		return "", err
	}

	checkRuns, err := g.getCheckRuns(ctx, owner, name, ref)
	if err != nil {
		return "", err
	}

	return combineStatuses(combined.GetState(), checkRuns), nil
}

func (g *GitHubProvider) getCheckRuns(ctx context.Context, owner, name, ref string) ([]*github.CheckRun, error) {
	var result *github.ListCheckRunsResults
	err := g.withRetry(ctx, func() error {
		var err error
		result, _, err = g.gh.Checks.ListCheckRunsForRef(ctx, owner, name, ref, nil)
		return err
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.CheckRuns, nil
}

// combineStatuses folds the legacy commit-status state plus GitHub
// Actions check runs into a single CIStatus.
func combineStatuses(statusState string, checkRuns []*github.CheckRun) CIStatus {
	if len(checkRuns) == 0 && statusState == "" {
		return CINotApplicable
	}

	hasPending := statusState == "pending"
	hasFailure := statusState == "failure" || statusState == "error"

	for _, cr := range checkRuns {
		switch cr.GetStatus() {
		case "queued", "in_progress":
			hasPending = true
			continue
		}
		switch cr.GetConclusion() {
		case "success", "neutral", "skipped":
			// non-blocking
		case "timed_out":
			return CITimedOut
		case "failure", "cancelled", "action_required":
			hasFailure = true
		default:
			hasPending = true
		}
	}

	switch {
	case hasFailure:
		return CIFailure
	case hasPending:
		return CIPending
	default:
		return CISuccess
	}
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	return asGitHubError(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == 404
}

func convertIssue(gi *github.Issue) *Issue {
	labels := make([]string, len(gi.Labels))
	for i, l := range gi.Labels {
		labels[i] = l.GetName()
	}
	return &Issue{
		Number:    gi.GetNumber(),
		Title:     gi.GetTitle(),
		Body:      gi.GetBody(),
		Labels:    labels,
		State:     gi.GetState(),
		Author:    gi.GetUser().GetLogin(),
		CreatedAt: gi.GetCreatedAt().Time,
		UpdatedAt: gi.GetUpdatedAt().Time,
	}
}

func convertPR(gp *github.PullRequest) *PR {
	return &PR{
		Number:    gp.GetNumber(),
		Title:     gp.GetTitle(),
		Body:      gp.GetBody(),
		State:     gp.GetState(),
		Mergeable: gp.GetMergeable(),
		HTMLURL:   gp.GetHTMLURL(),
		HeadRef:   gp.GetHead().GetRef(),
		BaseRef:   gp.GetBase().GetRef(),
	}
}
