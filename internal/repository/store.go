package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paylane/dealflow/internal/service"
)

// dbtx is the subset of pgx shared by a pool and an open transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres implementation of the service data contract.
type Store struct {
	db *pgxpool.Pool
}

var _ service.Store = (*Store)(nil)

// NewStore creates a store wrapper around a pgx connection pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Reader returns the non-transactional query set.
func (s *Store) Reader() service.Tx {
	return &Queries{db: s.db}
}

// RunInTx executes fn within a database transaction. Any error rolls the
// whole unit of work back.
func (s *Store) RunInTx(ctx context.Context, fn func(tx service.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Queries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Queries runs typed queries against either the pool or an open
// transaction.
type Queries struct {
	db dbtx
}

var _ service.Tx = (*Queries)(nil)

func requireExactlyOne(tag pgconn.CommandTag, operation string) error {
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%s affected %d rows", operation, tag.RowsAffected())
	}
	return nil
}
