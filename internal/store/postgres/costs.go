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

type costStore struct {
	db *sqlx.DB
}

type costRow struct {
	ID             string       `db:"id"`
	TrackedIssueID int64        `db:"tracked_issue_id"`
	IterationNum   int          `db:"iteration_num"`
	InputTokens    int          `db:"input_tokens"`
	OutputTokens   int          `db:"output_tokens"`
	EstimatedCost  float64      `db:"estimated_cost"`
	ModelUsed      string       `db:"model_used"`
	Phase          string       `db:"phase"`
	CreatedAt      sql.NullTime `db:"created_at"`
}

func (r costRow) toModel() *model.CostTracking {
	return &model.CostTracking{
		ID:             r.ID,
		TrackedIssueID: r.TrackedIssueID,
		IterationNum:   r.IterationNum,
		InputTokens:    r.InputTokens,
		OutputTokens:   r.OutputTokens,
		EstimatedCost:  r.EstimatedCost,
		ModelUsed:      r.ModelUsed,
		Phase:          model.CostPhase(r.Phase),
		CreatedAt:      r.CreatedAt.Time,
	}
}

const insertCostQuery = `
INSERT INTO cost_tracking (
	id, tracked_issue_id, iteration_num, input_tokens, output_tokens,
	estimated_cost, model_used, phase
) VALUES (
	:id, :tracked_issue_id, :iteration_num, :input_tokens, :output_tokens,
	:estimated_cost, :model_used, :phase
)`

func (s *costStore) Save(ctx context.Context, c *model.CostTracking) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	row := costRow{
		ID:             c.ID,
		TrackedIssueID: c.TrackedIssueID,
		IterationNum:   c.IterationNum,
		InputTokens:    c.InputTokens,
		OutputTokens:   c.OutputTokens,
		EstimatedCost:  c.EstimatedCost,
		ModelUsed:      c.ModelUsed,
		Phase:          string(c.Phase),
	}
	if _, err := s.db.NamedExecContext(ctx, insertCostQuery, row); err != nil {
		return fmt.Errorf("insert cost_tracking: %w", err)
	}
	return nil
}

func (s *costStore) ListByTrackedIssue(ctx context.Context, trackedIssueID int64) ([]*model.CostTracking, error) {
	var rows []costRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM cost_tracking WHERE tracked_issue_id = $1 ORDER BY created_at`, trackedIssueID)
	if err != nil {
		return nil, fmt.Errorf("list cost_tracking: %w", err)
	}
	result := make([]*model.CostTracking, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toModel())
	}
	return result, nil
}

func (s *costStore) TotalCost(ctx context.Context, trackedIssueID int64) (float64, error) {
	var total sql.NullFloat64
	err := s.db.GetContext(ctx, &total,
		`SELECT COALESCE(SUM(estimated_cost), 0) FROM cost_tracking WHERE tracked_issue_id = $1`,
		trackedIssueID)
	if err != nil {
		return 0, fmt.Errorf("sum cost_tracking: %w", err)
	}
	return total.Float64, nil
}
