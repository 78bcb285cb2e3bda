// Package postgres implements the KV persistence surface on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sol-beast/internal/storage"
)

// maxKVConns caps the pool; the state store is the only writer.
const maxKVConns = 4

// Pool is a verified pgx connection pool.
type Pool struct {
	*pgxpool.Pool
}

// NewPool parses dsn, opens a pool and pings it. A failed ping is reported
// as storage.ErrUnavailable.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > maxKVConns {
		cfg.MaxConns = maxKVConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w: %w", storage.ErrUnavailable, err)
	}
	return &Pool{Pool: pool}, nil
}

// Close releases every connection.
func (p *Pool) Close() { p.Pool.Close() }

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
