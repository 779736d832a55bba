package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/anthropics/issuebot/internal/model"
)

func newMockCostStore(t *testing.T) (*costStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	db := sqlx.NewDb(mockDB, "postgres")
	return &costStore{db: db}, mock
}

func TestCostStoreTotalCost(t *testing.T) {
	s, mock := newMockCostStore(t)

	rows := sqlmock.NewRows([]string{"coalesce"}).AddRow(4.25)
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(estimated_cost\), 0\) FROM cost_tracking WHERE tracked_issue_id = \$1`).
		WithArgs(int64(10)).
		WillReturnRows(rows)

	total, err := s.TotalCost(context.Background(), 10)
	if err != nil {
		t.Fatalf("TotalCost: %v", err)
	}
	if total != 4.25 {
		t.Errorf("TotalCost = %v, want 4.25", total)
	}
}

func TestCostStoreTotalCostNoRows(t *testing.T) {
	s, mock := newMockCostStore(t)

	rows := sqlmock.NewRows([]string{"coalesce"}).AddRow(0)
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(estimated_cost\), 0\) FROM cost_tracking WHERE tracked_issue_id = \$1`).
		WithArgs(int64(77)).
		WillReturnRows(rows)

	total, err := s.TotalCost(context.Background(), 77)
	if err != nil {
		t.Fatalf("TotalCost: %v", err)
	}
	if total != 0 {
		t.Errorf("TotalCost = %v, want 0", total)
	}
}

func TestCostStoreListByTrackedIssue(t *testing.T) {
	s, mock := newMockCostStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "tracked_issue_id", "iteration_num", "input_tokens", "output_tokens",
		"estimated_cost", "model_used", "phase", "created_at",
	}).AddRow("c-1", 10, 1, 1200, 400, 0.75, "reviewer-v1", string(model.PhaseReview), now)

	mock.ExpectQuery(`SELECT \* FROM cost_tracking WHERE tracked_issue_id = \$1 ORDER BY created_at`).
		WithArgs(int64(10)).
		WillReturnRows(rows)

	costs, err := s.ListByTrackedIssue(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListByTrackedIssue: %v", err)
	}
	if len(costs) != 1 || costs[0].ModelUsed != "reviewer-v1" {
		t.Errorf("costs = %+v", costs)
	}
}
