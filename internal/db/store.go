// Package db implements Postgres persistence for the collection engine:
// the station catalog, configurations and membership, historical chunks,
// realtime samples, collection runs with station outcomes, and schedules.
package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel errors surfaced to callers. Compare with errors.Is.
var (
	// ErrNotFound means a referenced station, configuration, schedule or
	// run does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateMembership means the station is already a member of the
	// configuration.
	ErrDuplicateMembership = errors.New("station already in configuration")
)

// Store wraps database access helpers.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
