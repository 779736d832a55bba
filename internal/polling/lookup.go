package polling

import (
	"context"
	"strings"

	"github.com/anthropics/issuebot/internal/dependency"
	"github.com/anthropics/issuebot/internal/model"
	"github.com/anthropics/issuebot/internal/providers"
	"github.com/anthropics/issuebot/internal/store"
)

// storeLookup implements dependency.IssueLookup over the repository-
// service adapter and the local persistence store.
type storeLookup struct {
	provider providers.Provider
	issues   store.TrackedIssueStore
	repoID   int64
}

var _ dependency.IssueLookup = (*storeLookup)(nil)

func (l *storeLookup) IsClosedUpstream(ctx context.Context, repo string, issueNumber int) (bool, error) {
	issue, err := l.provider.GetIssue(ctx, repo, issueNumber)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(issue.State, "closed"), nil
}

func (l *storeLookup) IsCompletedLocally(ctx context.Context, repo string, issueNumber int) (bool, error) {
	tracked, err := l.issues.FindByKey(ctx, l.repoID, issueNumber)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return tracked.Status == model.StatusCompleted, nil
}

func (l *storeLookup) BlockersOf(ctx context.Context, repo string, issueNumber int) ([]int, error) {
	if tracked, err := l.issues.FindByKey(ctx, l.repoID, issueNumber); err == nil && tracked != nil {
		return tracked.BlockedByList(), nil
	}

	issue, err := l.provider.GetIssue(ctx, repo, issueNumber)
	if err != nil {
		return nil, err
	}
	return dependency.ParseBlockedBy(issue.Body), nil
}
