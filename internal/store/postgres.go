package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashureev/codecaptcha/internal/domain"
)

// PostgresStore implements Repository on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgres connects to dsn and initializes the schema.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{pool: pool, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS challenges (
  id UUID PRIMARY KEY,
  website TEXT NOT NULL,
  session_id TEXT NOT NULL,
  question TEXT NOT NULL,
  tasks JSONB NOT NULL,
  answers JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_challenges_created ON challenges(created_at);

CREATE TABLE IF NOT EXISTS single_use (
  key TEXT PRIMARY KEY,
  value BYTEA NOT NULL,
  expires_at TIMESTAMPTZ
);
`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateChallenge inserts a challenge row.
func (s *PostgresStore) CreateChallenge(ctx context.Context, c *domain.Challenge) error {
	tasks, err := encodeInts(c.Tasks)
	if err != nil {
		return err
	}
	answers, err := encodeInts(c.Answers)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO challenges (id, website, session_id, question, tasks, answers, created_at)
VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7)`,
		c.ID, c.Website, c.SessionID, c.Question, tasks, answers, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

// GetChallenge retrieves a challenge by id.
func (s *PostgresStore) GetChallenge(ctx context.Context, id uuid.UUID) (*domain.Challenge, error) {
	var c domain.Challenge
	var tasks, answers string
	err := s.pool.QueryRow(ctx, `
SELECT id, website, session_id, question, tasks::text, answers::text, created_at
FROM challenges WHERE id = $1`, id,
	).Scan(&c.ID, &c.Website, &c.SessionID, &c.Question, &tasks, &answers, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan challenge row: %w", err)
	}
	if c.Tasks, err = decodeInts(tasks); err != nil {
		return nil, err
	}
	if c.Answers, err = decodeInts(answers); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// DeleteChallengesBefore removes challenges created before cutoff.
func (s *PostgresStore) DeleteChallengesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM challenges WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Get returns the live value stored under key.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM single_use WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		key, s.now(),
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get single-use key: %w", err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := s.now().Add(ttl)
		expiresAt = &t
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO single_use (key, value, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("set single-use key: %w", err)
	}
	return nil
}

// Delete removes a live key and reports whether this call removed it.
func (s *PostgresStore) Delete(ctx context.Context, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM single_use WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		key, s.now(),
	)
	if err != nil {
		return false, fmt.Errorf("delete single-use key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteExpired removes expired single-use keys.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM single_use WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweep single-use keys: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
