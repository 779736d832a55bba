package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/anthropics/issuebot/internal/model"
)

func newMockEventStore(t *testing.T) (*eventStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	db := sqlx.NewDb(mockDB, "postgres")
	return &eventStore{db: db}, mock
}

func eventColumns() []string {
	return []string{"id", "created_at", "event_type", "severity", "repo_id", "issue_id", "message"}
}

func TestEventStoreListByIssue(t *testing.T) {
	s, mock := newMockEventStore(t)
	now := time.Now()

	rows := sqlmock.NewRows(eventColumns()).
		AddRow("ev-1", now, "ci_failed", string(model.SeverityWarn), 1, 42, "CI failed on attempt 2")

	mock.ExpectQuery(`SELECT \* FROM events WHERE issue_id = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs(int64(42), 50).
		WillReturnRows(rows)

	events, err := s.ListByIssue(context.Background(), 42, 50)
	if err != nil {
		t.Fatalf("ListByIssue: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Severity != model.SeverityWarn {
		t.Errorf("Severity = %q, want WARN", events[0].Severity)
	}
	if events[0].IssueID == nil || *events[0].IssueID != 42 {
		t.Errorf("IssueID = %v, want 42", events[0].IssueID)
	}
}

func TestEventStoreListSinceNoCursor(t *testing.T) {
	s, mock := newMockEventStore(t)
	now := time.Now()

	rows := sqlmock.NewRows(eventColumns()).
		AddRow("ev-2", now, "repo_added", string(model.SeverityInfo), nil, nil, "watching acme/widgets")

	mock.ExpectQuery(`SELECT \* FROM events ORDER BY created_at DESC LIMIT \$1`).
		WithArgs(20).
		WillReturnRows(rows)

	events, err := s.ListSince(context.Background(), "", 20)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(events) != 1 || events[0].RepoID != nil {
		t.Errorf("events = %+v", events)
	}
}

func TestEventStoreSaveGeneratesID(t *testing.T) {
	s, mock := newMockEventStore(t)

	mock.ExpectExec(`INSERT INTO events`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	e := &model.Event{EventType: "repo_added", Severity: model.SeverityInfo, Message: "hello"}
	if err := s.Save(context.Background(), e); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if e.ID == "" {
		t.Error("Save should assign a generated ID")
	}
}
