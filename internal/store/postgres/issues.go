package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/anthropics/issuebot/internal/model"
	"github.com/anthropics/issuebot/internal/store"
)

type issueStore struct {
	db *sqlx.DB
}

type issueRow struct {
	ID                     int64          `db:"id"`
	RepoID                 int64          `db:"repo_id"`
	IssueNumber            int            `db:"issue_number"`
	IssueTitle             string         `db:"issue_title"`
	Status                 string         `db:"status"`
	CurrentIteration       int            `db:"current_iteration"`
	CurrentReviewIteration int            `db:"current_review_iteration"`
	BranchName             string         `db:"branch_name"`
	CurrentPhase           string         `db:"current_phase"`
	CooldownUntil          sql.NullTime   `db:"cooldown_until"`
	BlockedByIssues        string         `db:"blocked_by_issues"`
	CreatedAt              sql.NullTime   `db:"created_at"`
	UpdatedAt              sql.NullTime   `db:"updated_at"`
}

func (r issueRow) toModel() *model.TrackedIssue {
	issue := &model.TrackedIssue{
		ID:                     r.ID,
		RepoID:                 r.RepoID,
		IssueNumber:            r.IssueNumber,
		IssueTitle:             r.IssueTitle,
		Status:                 model.IssueStatus(r.Status),
		CurrentIteration:       r.CurrentIteration,
		CurrentReviewIteration: r.CurrentReviewIteration,
		BranchName:             r.BranchName,
		CurrentPhase:           r.CurrentPhase,
		BlockedByIssues:        r.BlockedByIssues,
		CreatedAt:              r.CreatedAt.Time,
		UpdatedAt:              r.UpdatedAt.Time,
	}
	if r.CooldownUntil.Valid {
		t := r.CooldownUntil.Time
		issue.CooldownUntil = &t
	}
	return issue
}

const upsertIssueQuery = `
INSERT INTO tracked_issues (
	id, repo_id, issue_number, issue_title, status, current_iteration,
	current_review_iteration, branch_name, current_phase, cooldown_until,
	blocked_by_issues, updated_at
) VALUES (
	COALESCE(NULLIF(:id, 0), nextval(pg_get_serial_sequence('tracked_issues','id'))),
	:repo_id, :issue_number, :issue_title, :status, :current_iteration,
	:current_review_iteration, :branch_name, :current_phase, :cooldown_until,
	:blocked_by_issues, now()
)
ON CONFLICT (repo_id, issue_number) DO UPDATE SET
	issue_title = EXCLUDED.issue_title,
	status = EXCLUDED.status,
	current_iteration = EXCLUDED.current_iteration,
	current_review_iteration = EXCLUDED.current_review_iteration,
	branch_name = EXCLUDED.branch_name,
	current_phase = EXCLUDED.current_phase,
	cooldown_until = EXCLUDED.cooldown_until,
	blocked_by_issues = EXCLUDED.blocked_by_issues,
	updated_at = now()
RETURNING id, created_at, updated_at`

func (s *issueStore) Save(ctx context.Context, issue *model.TrackedIssue) error {
	row := issueRow{
		ID:                     issue.ID,
		RepoID:                 issue.RepoID,
		IssueNumber:            issue.IssueNumber,
		IssueTitle:             issue.IssueTitle,
		Status:                 string(issue.Status),
		CurrentIteration:       issue.CurrentIteration,
		CurrentReviewIteration: issue.CurrentReviewIteration,
		BranchName:             issue.BranchName,
		CurrentPhase:           issue.CurrentPhase,
		BlockedByIssues:        issue.BlockedByIssues,
	}
	if issue.CooldownUntil != nil {
		row.CooldownUntil = sql.NullTime{Time: *issue.CooldownUntil, Valid: true}
	}

	stmt, err := s.db.PrepareNamedContext(ctx, upsertIssueQuery)
	if err != nil {
		return fmt.Errorf("prepare upsert tracked_issue: %w", err)
	}
	defer stmt.Close()

	var out struct {
		ID        int64        `db:"id"`
		CreatedAt sql.NullTime `db:"created_at"`
		UpdatedAt sql.NullTime `db:"updated_at"`
	}
	if err := stmt.GetContext(ctx, &out, row); err != nil {
		return fmt.Errorf("upsert tracked_issue: %w", err)
	}
	issue.ID = out.ID
	issue.CreatedAt = out.CreatedAt.Time
	issue.UpdatedAt = out.UpdatedAt.Time
	return nil
}

func (s *issueStore) FindByID(ctx context.Context, id int64) (*model.TrackedIssue, error) {
	var row issueRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM tracked_issues WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find tracked_issue by id: %w", err)
	}
	return row.toModel(), nil
}

func (s *issueStore) FindByKey(ctx context.Context, repoID int64, issueNumber int) (*model.TrackedIssue, error) {
	var row issueRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM tracked_issues WHERE repo_id = $1 AND issue_number = $2`, repoID, issueNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find tracked_issue by key: %w", err)
	}
	return row.toModel(), nil
}

func (s *issueStore) ListByStatus(ctx context.Context, repoID int64, status model.IssueStatus) ([]*model.TrackedIssue, error) {
	var rows []issueRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM tracked_issues WHERE repo_id = $1 AND status = $2 ORDER BY issue_number`,
		repoID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tracked_issues by status: %w", err)
	}
	return toModelSlice(rows), nil
}

func (s *issueStore) ListQueuedOrBlocked(ctx context.Context, repoID int64) ([]*model.TrackedIssue, error) {
	var rows []issueRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM tracked_issues WHERE repo_id = $1 AND status IN ('QUEUED', 'BLOCKED') ORDER BY issue_number`,
		repoID)
	if err != nil {
		return nil, fmt.Errorf("list queued/blocked tracked_issues: %w", err)
	}
	return toModelSlice(rows), nil
}

func (s *issueStore) ListCooldownExpired(ctx context.Context) ([]*model.TrackedIssue, error) {
	var rows []issueRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM tracked_issues WHERE status = 'COOLDOWN' AND cooldown_until <= now() ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list cooldown-expired tracked_issues: %w", err)
	}
	return toModelSlice(rows), nil
}

func toModelSlice(rows []issueRow) []*model.TrackedIssue {
	result := make([]*model.TrackedIssue, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toModel())
	}
	return result
}
