// Package store provides the Data Access Layer for the Freyr promotion
// engine. It handles all direct interactions with PostgreSQL using the pgx
// driver. Repository interfaces are defined next to their implementation so
// callers can substitute in-memory fakes in tests.
package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned when two writers race on the same
	// (promotion, country, version) slot.
	ErrVersionConflict = errors.New("promotion version conflict")

	// ErrDuplicateEventGrant is returned when the partial unique index on
	// (contact, promotion, source_event_id) WHERE status='granted' rejects a
	// write. The caller treats its grant as a no-op.
	ErrDuplicateEventGrant = errors.New("a granted reward already exists for this event")
)

// pgUniqueViolation is the PostgreSQL error code for unique_violation.
const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique-index conflict.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// PostgresStore implements every repository interface in this package against
// a single pgx connection pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new repository instance with the given pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresStore{db: db}
}
