// Package store is the Postgres persistence layer: users, chat sessions and
// messages, daily token usage, and uploaded files.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Sentinel errors.
var (
	ErrNotFound = errors.New("store: not found")
)

// DailyLimits caps per-user daily token consumption.
type DailyLimits struct {
	InputTokens  int
	OutputTokens int
}

// db is the query surface shared by the pool and open transactions.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store wraps a pgx pool. Its methods run as single statements; grouped
// writes go through Begin and the returned Tx.
type Store struct {
	queries
	pool *pgxpool.Pool
}

// Tx is one open transaction carrying the same query surface as the Store.
type Tx struct {
	queries
	tx pgx.Tx
}

// queries implements the persistence contract over either a pool or a
// transaction.
type queries struct {
	db     db
	limits DailyLimits
}

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, databaseURL string, limits DailyLimits) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool, queries: queries{db: pool, limits: limits}}, nil
}

// Setup creates the tables if they do not exist.
func (s *Store) Setup(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Begin opens a transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx, queries: queries{db: tx, limits: s.limits}}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback aborts the transaction. Safe to call after Commit.
func (t *Tx) Rollback(ctx context.Context) {
	_ = t.tx.Rollback(ctx)
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
