package signer

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const nullifierSchema = `
CREATE TABLE IF NOT EXISTS spent_nullifiers (
    nullifier  TEXT PRIMARY KEY,
    tx_id      TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps nullifiers in a Postgres table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresPool connects and pings url.
func NewPostgresPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, errors.New("database url is required")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres config")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return pool, nil
}

// NewPostgresStore wraps db and creates the table if needed.
func NewPostgresStore(ctx context.Context, db *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := db.Exec(ctx, nullifierSchema); err != nil {
		return nil, errors.Wrap(err, "create nullifier table")
	}
	return &PostgresStore{db: db}, nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

// Reserve implements NullifierStore.
func (s *PostgresStore) Reserve(ctx context.Context, keys []string, value string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var conflicts []string
	for _, k := range keys {
		tag, err := tx.Exec(ctx, `INSERT INTO spent_nullifiers (nullifier, tx_id) VALUES ($1, $2)
            ON CONFLICT (nullifier) DO NOTHING`, k, value)
		if err != nil {
			return nil, errors.Wrap(err, "insert nullifier")
		}
		if tag.RowsAffected() == 1 {
			continue
		}
		var owner string
		if err := tx.QueryRow(ctx, `SELECT tx_id FROM spent_nullifiers WHERE nullifier = $1`, k).Scan(&owner); err != nil {
			return nil, errors.Wrap(err, "read nullifier owner")
		}
		if owner != value {
			conflicts = append(conflicts, k)
		}
	}
	if len(conflicts) > 0 {
		return conflicts, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return nil, nil
}

// Lookup implements NullifierStore.
func (s *PostgresStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	var owner string
	err := s.db.QueryRow(ctx, `SELECT tx_id FROM spent_nullifiers WHERE nullifier = $1`, key).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "lookup nullifier")
	}
	return owner, true, nil
}
