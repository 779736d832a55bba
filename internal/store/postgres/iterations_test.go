package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/anthropics/issuebot/internal/model"
	"github.com/anthropics/issuebot/internal/store"
)

func newMockIterationStore(t *testing.T) (*iterationStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	db := sqlx.NewDb(mockDB, "postgres")
	return &iterationStore{db: db}, mock
}

func iterationColumns() []string {
	return []string{
		"id", "tracked_issue_id", "iteration_num", "codegen_output",
		"self_assessment", "ci_result", "diff", "review_json", "review_passed",
		"review_model", "started_at", "completed_at",
	}
}

func TestIterationStoreLatest(t *testing.T) {
	s, mock := newMockIterationStore(t)
	now := time.Now()

	rows := sqlmock.NewRows(iterationColumns()).
		AddRow("it-1", 10, 3, "applied patch", "looks good", "passed", "diff --git a/x", `{"approved":true}`, true, "reviewer-v1", now, now)

	mock.ExpectQuery(`SELECT \* FROM iterations WHERE tracked_issue_id = \$1 ORDER BY iteration_num DESC LIMIT 1`).
		WithArgs(int64(10)).
		WillReturnRows(rows)

	it, err := s.Latest(context.Background(), 10)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if it.IterationNum != 3 {
		t.Errorf("IterationNum = %d, want 3", it.IterationNum)
	}
	if it.CIResult != model.CIPassed {
		t.Errorf("CIResult = %q, want %q", it.CIResult, model.CIPassed)
	}
	if it.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
}

func TestIterationStoreLatestNotFound(t *testing.T) {
	s, mock := newMockIterationStore(t)

	mock.ExpectQuery(`SELECT \* FROM iterations WHERE tracked_issue_id = \$1 ORDER BY iteration_num DESC LIMIT 1`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := s.Latest(context.Background(), 99)
	if err != store.ErrNotFound {
		t.Errorf("err = %v, want store.ErrNotFound", err)
	}
}

func TestIterationStoreSaveGeneratesID(t *testing.T) {
	s, mock := newMockIterationStore(t)

	mock.ExpectExec(`INSERT INTO iterations`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	it := &model.Iteration{TrackedIssueID: 10, IterationNum: 1}
	if err := s.Save(context.Background(), it); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if it.ID == "" {
		t.Error("Save should assign a generated ID")
	}
	if it.StartedAt.IsZero() {
		t.Error("Save should set StartedAt")
	}
}
