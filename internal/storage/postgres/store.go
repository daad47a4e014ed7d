// Package postgres is the production storage gateway: a thin layer over
// database/sql plus sqlx's convenience helpers, one file per aggregate.
package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/fernfall/dayline/internal/platform/apperr"
)

// rowScanner abstracts *sql.Row and *sql.Rows so scan helpers work with
// both a single-row QueryRowContext result and a ranged QueryContext loop.
type rowScanner interface {
	Scan(dest ...any) error
}

// Store implements storage.Gateway against PostgreSQL.
type Store struct {
	db *sqlx.DB
}

// New opens a connection pool against databaseURL. Schema migrations are
// applied separately via platform/migrations before Store is used.
func New(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.ClassServerTransient, "connect to postgres", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// translateNotFound maps sql.ErrNoRows to the shared NotFound class so
// callers across every store file report it consistently.
func translateNotFound(entity, id string, err error) error {
	if err == sql.ErrNoRows {
		return apperr.NotFound(entity, id)
	}
	return apperr.Wrap(apperr.ClassServerTransient, "query "+entity, err)
}
