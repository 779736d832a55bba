// Package store defines the repository abstraction that sits between
// the engine and a relational database: every entity is saved and
// fetched through a narrow interface, never through ad-hoc SQL
// scattered across the workflow engine.
package store

import (
	"context"
	"errors"

	"github.com/anthropics/issuebot/internal/model"
)

// ErrNotFound is returned by FindByID/FindByKey when no row matches.
var ErrNotFound = errors.New("store: not found")

// WatchedRepoStore persists the set of repositories the engine polls.
type WatchedRepoStore interface {
	Save(ctx context.Context, repo *model.WatchedRepo) error
	FindByID(ctx context.Context, id int64) (*model.WatchedRepo, error)
	FindByFullName(ctx context.Context, owner, name string) (*model.WatchedRepo, error)
	ListAll(ctx context.Context) ([]*model.WatchedRepo, error)
}

// TrackedIssueStore persists per-issue workflow state.
type TrackedIssueStore interface {
	Save(ctx context.Context, issue *model.TrackedIssue) error
	FindByID(ctx context.Context, id int64) (*model.TrackedIssue, error)
	FindByKey(ctx context.Context, repoID int64, issueNumber int) (*model.TrackedIssue, error)
	ListByStatus(ctx context.Context, repoID int64, status model.IssueStatus) ([]*model.TrackedIssue, error)
	ListQueuedOrBlocked(ctx context.Context, repoID int64) ([]*model.TrackedIssue, error)
	ListCooldownExpired(ctx context.Context) ([]*model.TrackedIssue, error)
}

// IterationStore persists append-only iteration attempts.
type IterationStore interface {
	Save(ctx context.Context, it *model.Iteration) error
	FindByID(ctx context.Context, id string) (*model.Iteration, error)
	ListByTrackedIssue(ctx context.Context, trackedIssueID int64) ([]*model.Iteration, error)
	Latest(ctx context.Context, trackedIssueID int64) (*model.Iteration, error)
}

// CostTrackingStore persists append-only token-usage records.
type CostTrackingStore interface {
	Save(ctx context.Context, c *model.CostTracking) error
	ListByTrackedIssue(ctx context.Context, trackedIssueID int64) ([]*model.CostTracking, error)
	TotalCost(ctx context.Context, trackedIssueID int64) (float64, error)
}

// EventStore persists the append-only audit/notification log.
type EventStore interface {
	Save(ctx context.Context, e *model.Event) error
	ListByIssue(ctx context.Context, issueID int64, limit int) ([]*model.Event, error)
	ListSince(ctx context.Context, sinceID string, limit int) ([]*model.Event, error)
}

// Store bundles every repository the engine needs behind one handle.
type Store interface {
	Repos() WatchedRepoStore
	Issues() TrackedIssueStore
	Iterations() IterationStore
	Costs() CostTrackingStore
	Events() EventStore
	Close() error
}
