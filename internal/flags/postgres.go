package flags

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antoniostano/silentchat/internal/reliability"
)

var connectRetry = reliability.Policy{Attempts: 4, Base: 500 * time.Millisecond, Cap: 4 * time.Second}

// PostgresStore persists flags in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	// The first round trip may race a database that is still starting.
	err = reliability.Retry(ctx, connectRetry, func(ctx context.Context) error {
		return initSchema(ctx, pool)
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_flags (
			owner TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (owner, key)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, owner, key string) (Flag, bool, error) {
	owner, key, err := normalize(owner, key)
	if err != nil {
		return Flag{}, false, err
	}

	f := Flag{Owner: owner, Key: key}
	err = s.pool.QueryRow(ctx,
		`SELECT value, updated_at FROM user_flags WHERE owner=$1 AND key=$2`,
		owner,
		key,
	).Scan(&f.Value, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Flag{}, false, nil
	}
	if err != nil {
		return Flag{}, false, fmt.Errorf("get flag: %w", err)
	}
	return f, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, owner, key, value string) error {
	owner, key, err := normalize(owner, key)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_flags (owner, key, value, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		owner,
		key,
		value,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set flag: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Backend() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
