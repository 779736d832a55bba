package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/anthropics/issuebot/internal/model"
)

type eventStore struct {
	db *sqlx.DB
}

type eventRow struct {
	ID        string        `db:"id"`
	CreatedAt sql.NullTime  `db:"created_at"`
	EventType string        `db:"event_type"`
	Severity  string        `db:"severity"`
	RepoID    sql.NullInt64 `db:"repo_id"`
	IssueID   sql.NullInt64 `db:"issue_id"`
	Message   string        `db:"message"`
}

func (r eventRow) toModel() *model.Event {
	e := &model.Event{
		ID:        r.ID,
		CreatedAt: r.CreatedAt.Time,
		EventType: r.EventType,
		Severity:  model.Severity(r.Severity),
		Message:   r.Message,
	}
	if r.RepoID.Valid {
		v := r.RepoID.Int64
		e.RepoID = &v
	}
	if r.IssueID.Valid {
		v := r.IssueID.Int64
		e.IssueID = &v
	}
	return e
}

const insertEventQuery = `
INSERT INTO events (id, created_at, event_type, severity, repo_id, issue_id, message)
VALUES (:id, :created_at, :event_type, :severity, :repo_id, :issue_id, :message)`

func (s *eventStore) Save(ctx context.Context, e *model.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	row := eventRow{
		ID:        e.ID,
		CreatedAt: sql.NullTime{Time: e.CreatedAt, Valid: true},
		EventType: e.EventType,
		Severity:  string(e.Severity),
		Message:   e.Message,
	}
	if e.RepoID != nil {
		row.RepoID = sql.NullInt64{Int64: *e.RepoID, Valid: true}
	}
	if e.IssueID != nil {
		row.IssueID = sql.NullInt64{Int64: *e.IssueID, Valid: true}
	}

	if _, err := s.db.NamedExecContext(ctx, insertEventQuery, row); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *eventStore) ListByIssue(ctx context.Context, issueID int64, limit int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM events WHERE issue_id = $1 ORDER BY created_at DESC LIMIT $2`, issueID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events by issue: %w", err)
	}
	return toEventModels(rows), nil
}

func (s *eventStore) ListSince(ctx context.Context, sinceID string, limit int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []eventRow
	var err error
	if sinceID == "" {
		err = s.db.SelectContext(ctx, &rows, `SELECT * FROM events ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM events
			WHERE created_at > (SELECT created_at FROM events WHERE id = $1)
			ORDER BY created_at DESC LIMIT $2`, sinceID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list events since: %w", err)
	}
	return toEventModels(rows), nil
}

func toEventModels(rows []eventRow) []*model.Event {
	result := make([]*model.Event, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toModel())
	}
	return result
}
