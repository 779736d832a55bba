// Package postgres implements the store.Store repository abstraction
// against PostgreSQL, using pgx/v5's database/sql driver through sqlx
// for struct scanning and named-query convenience.
package postgres

import (
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/anthropics/issuebot/internal/store"
)

// Store is the postgres-backed store.Store implementation.
type Store struct {
	db *sqlx.DB

	repos      *repoStore
	issues     *issueStore
	iterations *iterationStore
	costs      *costStore
	events     *eventStore
}

// Open connects to dsn and wraps it in a Store. Callers should run
// store.Migrate against the returned *sql.DB (via Store.DB()) before use.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return New(db), nil
}

// New wraps an already-connected sqlx.DB.
func New(db *sqlx.DB) *Store {
	return &Store{
		db:         db,
		repos:      &repoStore{db: db},
		issues:     &issueStore{db: db},
		iterations: &iterationStore{db: db},
		costs:      &costStore{db: db},
		events:     &eventStore{db: db},
	}
}

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Repos() store.WatchedRepoStore    { return s.repos }
func (s *Store) Issues() store.TrackedIssueStore  { return s.issues }
func (s *Store) Iterations() store.IterationStore { return s.iterations }
func (s *Store) Costs() store.CostTrackingStore   { return s.costs }
func (s *Store) Events() store.EventStore         { return s.events }

func (s *Store) Close() error { return s.db.Close() }
