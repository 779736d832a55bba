package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/anthropics/issuebot/internal/model"
	"github.com/anthropics/issuebot/internal/store"
)

type iterationStore struct {
	db *sqlx.DB
}

type iterationRow struct {
	ID             string       `db:"id"`
	TrackedIssueID int64        `db:"tracked_issue_id"`
	IterationNum   int          `db:"iteration_num"`
	CodegenOutput  string       `db:"codegen_output"`
	SelfAssessment string       `db:"self_assessment"`
	CIResult       string       `db:"ci_result"`
	Diff           string       `db:"diff"`
	ReviewJSON     string       `db:"review_json"`
	ReviewPassed   bool         `db:"review_passed"`
	ReviewModel    string       `db:"review_model"`
	StartedAt      sql.NullTime `db:"started_at"`
	CompletedAt    sql.NullTime `db:"completed_at"`
}

func (r iterationRow) toModel() *model.Iteration {
	it := &model.Iteration{
		ID:             r.ID,
		TrackedIssueID: r.TrackedIssueID,
		IterationNum:   r.IterationNum,
		CodegenOutput:  r.CodegenOutput,
		SelfAssessment: r.SelfAssessment,
		CIResult:       model.CIResult(r.CIResult),
		Diff:           r.Diff,
		ReviewJSON:     r.ReviewJSON,
		ReviewPassed:   r.ReviewPassed,
		ReviewModel:    r.ReviewModel,
		StartedAt:      r.StartedAt.Time,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		it.CompletedAt = &t
	}
	return it
}

const insertIterationQuery = `
INSERT INTO iterations (
	id, tracked_issue_id, iteration_num, codegen_output, self_assessment,
	ci_result, diff, review_json, review_passed, review_model, started_at,
	completed_at
) VALUES (
	:id, :tracked_issue_id, :iteration_num, :codegen_output, :self_assessment,
	:ci_result, :diff, :review_json, :review_passed, :review_model, :started_at,
	:completed_at
)
ON CONFLICT (id) DO UPDATE SET
	codegen_output = EXCLUDED.codegen_output,
	self_assessment = EXCLUDED.self_assessment,
	ci_result = EXCLUDED.ci_result,
	diff = EXCLUDED.diff,
	review_json = EXCLUDED.review_json,
	review_passed = EXCLUDED.review_passed,
	review_model = EXCLUDED.review_model,
	completed_at = EXCLUDED.completed_at`

func (s *iterationStore) Save(ctx context.Context, it *model.Iteration) error {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.StartedAt.IsZero() {
		it.StartedAt = time.Now()
	}

	row := iterationRow{
		ID:             it.ID,
		TrackedIssueID: it.TrackedIssueID,
		IterationNum:   it.IterationNum,
		CodegenOutput:  it.CodegenOutput,
		SelfAssessment: it.SelfAssessment,
		CIResult:       string(it.CIResult),
		Diff:           it.Diff,
		ReviewJSON:     it.ReviewJSON,
		ReviewPassed:   it.ReviewPassed,
		ReviewModel:    it.ReviewModel,
		StartedAt:      sql.NullTime{Time: it.StartedAt, Valid: true},
	}
	if it.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: *it.CompletedAt, Valid: true}
	}

	_, err := s.db.NamedExecContext(ctx, insertIterationQuery, row)
	if err != nil {
		return fmt.Errorf("upsert iteration: %w", err)
	}
	return nil
}

func (s *iterationStore) FindByID(ctx context.Context, id string) (*model.Iteration, error) {
	var row iterationRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM iterations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find iteration by id: %w", err)
	}
	return row.toModel(), nil
}

func (s *iterationStore) ListByTrackedIssue(ctx context.Context, trackedIssueID int64) ([]*model.Iteration, error) {
	var rows []iterationRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM iterations WHERE tracked_issue_id = $1 ORDER BY iteration_num`, trackedIssueID)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	result := make([]*model.Iteration, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toModel())
	}
	return result, nil
}

func (s *iterationStore) Latest(ctx context.Context, trackedIssueID int64) (*model.Iteration, error) {
	var row iterationRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM iterations WHERE tracked_issue_id = $1 ORDER BY iteration_num DESC LIMIT 1`,
		trackedIssueID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find latest iteration: %w", err)
	}
	return row.toModel(), nil
}
