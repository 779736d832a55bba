package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/anthropics/issuebot/internal/store"
)

func newMockRepoStore(t *testing.T) (*repoStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	db := sqlx.NewDb(mockDB, "postgres")
	return &repoStore{db: db}, mock
}

func TestRepoStoreFindByID(t *testing.T) {
	s, mock := newMockRepoStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "owner", "name", "default_branch", "mode", "max_iterations",
		"max_review_iterations", "ci_enabled", "ci_timeout_minutes", "auto_merge",
		"security_review_enabled", "allowed_paths", "created_at", "updated_at",
	}).AddRow(1, "acme", "widgets", "main", "AUTONOMOUS", 5, 2, true, 15, false, false, []byte(`["docs/"]`), now, now)

	mock.ExpectQuery(`SELECT \* FROM watched_repos WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	repo, err := s.FindByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if repo.FullName() != "acme/widgets" {
		t.Errorf("FullName = %q, want acme/widgets", repo.FullName())
	}
	if len(repo.AllowedPaths) != 1 || repo.AllowedPaths[0] != "docs/" {
		t.Errorf("AllowedPaths = %v, want [docs/]", repo.AllowedPaths)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRepoStoreFindByIDNotFound(t *testing.T) {
	s, mock := newMockRepoStore(t)

	mock.ExpectQuery(`SELECT \* FROM watched_repos WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := s.FindByID(context.Background(), 99)
	if err != store.ErrNotFound {
		t.Errorf("err = %v, want store.ErrNotFound", err)
	}
}
