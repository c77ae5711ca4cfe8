package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Pool is the slice of pgxpool.Pool the queries need. Tests back it
// with a mock pool.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// DB wraps a Postgres connection pool for database operations
type DB struct {
	pool Pool
	log  *zap.Logger
}

// NewDB creates a new DB connection pool
func NewDB(url string, log *zap.Logger) (*DB, error) {
	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		return nil, err
	}
	log.Info("database pool ready")
	return &DB{pool: pool, log: log}, nil
}

// NewFromPool wraps an existing pool, for tests.
func NewFromPool(pool Pool, log *zap.Logger) *DB {
	return &DB{pool: pool, log: log}
}

// Close closes the connection pool
func (d *DB) Close() {
	d.pool.Close()
	d.log.Info("database pool closed")
}
