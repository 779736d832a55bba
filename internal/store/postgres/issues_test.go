package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/anthropics/issuebot/internal/model"
)

func newMockIssueStore(t *testing.T) (*issueStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	db := sqlx.NewDb(mockDB, "postgres")
	return &issueStore{db: db}, mock
}

func issueColumns() []string {
	return []string{
		"id", "repo_id", "issue_number", "issue_title", "status",
		"current_iteration", "current_review_iteration", "branch_name",
		"current_phase", "cooldown_until", "blocked_by_issues",
		"created_at", "updated_at",
	}
}

func TestIssueStoreFindByKey(t *testing.T) {
	s, mock := newMockIssueStore(t)
	now := time.Now()

	rows := sqlmock.NewRows(issueColumns()).
		AddRow(10, 1, 42, "Fix parser", "QUEUED", 0, 0, "", "", nil, "~~1~~,2", now, now)

	mock.ExpectQuery(`SELECT \* FROM tracked_issues WHERE repo_id = \$1 AND issue_number = \$2`).
		WithArgs(int64(1), 42).
		WillReturnRows(rows)

	issue, err := s.FindByKey(context.Background(), 1, 42)
	if err != nil {
		t.Fatalf("FindByKey: %v", err)
	}
	if issue.Status != model.StatusQueued {
		t.Errorf("Status = %q, want QUEUED", issue.Status)
	}
	if issue.BlockedByIssues != "~~1~~,2" {
		t.Errorf("BlockedByIssues = %q", issue.BlockedByIssues)
	}
}

func TestIssueStoreListCooldownExpired(t *testing.T) {
	s, mock := newMockIssueStore(t)
	now := time.Now()

	rows := sqlmock.NewRows(issueColumns()).
		AddRow(10, 1, 42, "Fix parser", "COOLDOWN", 5, 1, "issuebot/issue-42-fix", "", now.Add(-time.Hour), "", now, now)

	mock.ExpectQuery(`SELECT \* FROM tracked_issues WHERE status = 'COOLDOWN' AND cooldown_until <= now\(\)`).
		WillReturnRows(rows)

	issues, err := s.ListCooldownExpired(context.Background())
	if err != nil {
		t.Fatalf("ListCooldownExpired: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("len(issues) = %d, want 1", len(issues))
	}
	if issues[0].CooldownUntil == nil {
		t.Error("CooldownUntil should be set")
	}
}
