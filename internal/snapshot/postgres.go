package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresStore keeps snapshots in a single key/value table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// EnsureSchema creates the snapshots table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const query = `
		CREATE TABLE IF NOT EXISTS snapshots (
			path     TEXT PRIMARY KEY,
			body     BYTEA NOT NULL,
			saved_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create snapshots table: %w", err)
	}
	return nil
}

// Save upserts the blob for path.
func (s *PostgresStore) Save(ctx context.Context, path string, data []byte) error {
	const query = `
		INSERT INTO snapshots (path, body, saved_at)
		VALUES ($1, $2, now())
		ON CONFLICT (path) DO UPDATE SET
			body = EXCLUDED.body,
			saved_at = EXCLUDED.saved_at
	`
	if _, err := s.pool.Exec(ctx, query, path, data); err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("cannot save snapshot")
		return fmt.Errorf("save snapshot %s: %w", path, err)
	}
	return nil
}

// Load returns the blob for path.
func (s *PostgresStore) Load(ctx context.Context, path string) ([]byte, error) {
	const query = `SELECT body FROM snapshots WHERE path = $1`

	var body []byte
	err := s.pool.QueryRow(ctx, query, path).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logger.Debug().Str("path", path).Msg("snapshot does not exist")
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		s.logger.Error().Err(err).Str("path", path).Msg("cannot load snapshot")
		return nil, fmt.Errorf("load snapshot %s: %w", path, err)
	}
	return body, nil
}
