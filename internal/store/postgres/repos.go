package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/anthropics/issuebot/internal/model"
	"github.com/anthropics/issuebot/internal/store"
)

type repoStore struct {
	db *sqlx.DB
}

type repoRow struct {
	ID                    int64          `db:"id"`
	Owner                 string         `db:"owner"`
	Name                  string         `db:"name"`
	DefaultBranch         string         `db:"default_branch"`
	Mode                  string         `db:"mode"`
	MaxIterations         int            `db:"max_iterations"`
	MaxReviewIterations   int            `db:"max_review_iterations"`
	CIEnabled             bool           `db:"ci_enabled"`
	CITimeoutMinutes      int            `db:"ci_timeout_minutes"`
	AutoMerge             bool           `db:"auto_merge"`
	SecurityReviewEnabled bool           `db:"security_review_enabled"`
	AllowedPaths          sqlJSON        `db:"allowed_paths"`
	CreatedAt             sql.NullTime   `db:"created_at"`
	UpdatedAt             sql.NullTime   `db:"updated_at"`
}

// sqlJSON adapts a []string to/from a JSONB column.
type sqlJSON []byte

func (r repoRow) toModel() (*model.WatchedRepo, error) {
	var paths []string
	if len(r.AllowedPaths) > 0 {
		if err := json.Unmarshal(r.AllowedPaths, &paths); err != nil {
			return nil, fmt.Errorf("unmarshal allowed_paths: %w", err)
		}
	}
	return &model.WatchedRepo{
		ID:                    r.ID,
		Owner:                 r.Owner,
		Name:                  r.Name,
		DefaultBranch:         r.DefaultBranch,
		Mode:                  model.RepoMode(r.Mode),
		MaxIterations:         r.MaxIterations,
		MaxReviewIterations:   r.MaxReviewIterations,
		CIEnabled:             r.CIEnabled,
		CITimeoutMinutes:      r.CITimeoutMinutes,
		AutoMerge:             r.AutoMerge,
		SecurityReviewEnabled: r.SecurityReviewEnabled,
		AllowedPaths:          paths,
		CreatedAt:             r.CreatedAt.Time,
		UpdatedAt:             r.UpdatedAt.Time,
	}, nil
}

const upsertRepoQuery = `
INSERT INTO watched_repos (
	owner, name, default_branch, mode, max_iterations, max_review_iterations,
	ci_enabled, ci_timeout_minutes, auto_merge, security_review_enabled,
	allowed_paths, updated_at
) VALUES (
	:owner, :name, :default_branch, :mode, :max_iterations, :max_review_iterations,
	:ci_enabled, :ci_timeout_minutes, :auto_merge, :security_review_enabled,
	:allowed_paths, now()
)
ON CONFLICT (owner, name) DO UPDATE SET
	default_branch = EXCLUDED.default_branch,
	mode = EXCLUDED.mode,
	max_iterations = EXCLUDED.max_iterations,
	max_review_iterations = EXCLUDED.max_review_iterations,
	ci_enabled = EXCLUDED.ci_enabled,
	ci_timeout_minutes = EXCLUDED.ci_timeout_minutes,
	auto_merge = EXCLUDED.auto_merge,
	security_review_enabled = EXCLUDED.security_review_enabled,
	allowed_paths = EXCLUDED.allowed_paths,
	updated_at = now()
RETURNING id, created_at, updated_at`

func (s *repoStore) Save(ctx context.Context, repo *model.WatchedRepo) error {
	paths, err := json.Marshal(repo.AllowedPaths)
	if err != nil {
		return fmt.Errorf("marshal allowed_paths: %w", err)
	}
	if paths == nil {
		paths = []byte("[]")
	}

	row := repoRow{
		Owner:                 repo.Owner,
		Name:                  repo.Name,
		DefaultBranch:         repo.DefaultBranch,
		Mode:                  string(repo.Mode),
		MaxIterations:         repo.MaxIterations,
		MaxReviewIterations:   repo.MaxReviewIterations,
		CIEnabled:             repo.CIEnabled,
		CITimeoutMinutes:      repo.CITimeoutMinutes,
		AutoMerge:             repo.AutoMerge,
		SecurityReviewEnabled: repo.SecurityReviewEnabled,
		AllowedPaths:          paths,
	}

	stmt, err := s.db.PrepareNamedContext(ctx, upsertRepoQuery)
	if err != nil {
		return fmt.Errorf("prepare upsert watched_repo: %w", err)
	}
	defer stmt.Close()

	var out struct {
		ID        int64        `db:"id"`
		CreatedAt sql.NullTime `db:"created_at"`
		UpdatedAt sql.NullTime `db:"updated_at"`
	}
	if err := stmt.GetContext(ctx, &out, row); err != nil {
		return fmt.Errorf("upsert watched_repo: %w", err)
	}
	repo.ID = out.ID
	repo.CreatedAt = out.CreatedAt.Time
	repo.UpdatedAt = out.UpdatedAt.Time
	return nil
}

func (s *repoStore) FindByID(ctx context.Context, id int64) (*model.WatchedRepo, error) {
	var row repoRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM watched_repos WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find watched_repo by id: %w", err)
	}
	return row.toModel()
}

func (s *repoStore) FindByFullName(ctx context.Context, owner, name string) (*model.WatchedRepo, error) {
	var row repoRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM watched_repos WHERE owner = $1 AND name = $2`, owner, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find watched_repo by full name: %w", err)
	}
	return row.toModel()
}

func (s *repoStore) ListAll(ctx context.Context) ([]*model.WatchedRepo, error) {
	var rows []repoRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM watched_repos ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list watched_repos: %w", err)
	}
	result := make([]*model.WatchedRepo, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, nil
}
