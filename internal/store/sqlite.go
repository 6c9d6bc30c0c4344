package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashureev/codecaptcha/internal/domain"
	"github.com/ashureev/codecaptcha/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode lets readers proceed while the single writer commits.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS challenges (
		id TEXT PRIMARY KEY,
		website TEXT NOT NULL,
		session_id TEXT NOT NULL,
		question TEXT NOT NULL,
		tasks_json TEXT NOT NULL,
		answers_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_challenges_created ON challenges(created_at);

	CREATE TABLE IF NOT EXISTS single_use (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_single_use_expires ON single_use(expires_at) WHERE expires_at IS NOT NULL;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateChallenge inserts a challenge row.
func (s *SQLiteStore) CreateChallenge(ctx context.Context, c *domain.Challenge) error {
	tasks, err := encodeInts(c.Tasks)
	if err != nil {
		return err
	}
	answers, err := encodeInts(c.Answers)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO challenges (id, website, session_id, question, tasks_json, answers_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	return shared.RetryOnConflict(ctx, "create challenge", func() error {
		if _, err := s.db.ExecContext(ctx, query,
			c.ID.String(), c.Website, c.SessionID, c.Question,
			tasks, answers, c.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert challenge: %w", err)
		}
		return nil
	})
}

// GetChallenge retrieves a challenge by id.
func (s *SQLiteStore) GetChallenge(ctx context.Context, id uuid.UUID) (*domain.Challenge, error) {
	query := `
		SELECT id, website, session_id, question, tasks_json, answers_json, created_at
		FROM challenges WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id.String())

	var c domain.Challenge
	var rawID, tasks, answers string
	var createdAt int64

	err := row.Scan(&rawID, &c.Website, &c.SessionID, &c.Question, &tasks, &answers, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan challenge row: %w", err)
	}

	if c.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("parse challenge id: %w", err)
	}
	if c.Tasks, err = decodeInts(tasks); err != nil {
		return nil, err
	}
	if c.Answers, err = decodeInts(answers); err != nil {
		return nil, err
	}
	c.CreatedAt = time.UnixMilli(createdAt).UTC()

	return &c, nil
}

// DeleteChallengesBefore removes challenges created before cutoff.
func (s *SQLiteStore) DeleteChallengesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := shared.RetryOnConflict(ctx, "delete old challenges", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM challenges WHERE created_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return fmt.Errorf("delete old challenges: %w", err)
		}
		n, err = result.RowsAffected()
		return err
	})
	return n, err
}

// Get returns the live value stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM single_use WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, s.now().UnixMilli(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get single-use key: %w", err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}
	query := `
	INSERT INTO single_use (key, value, expires_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`

	return shared.RetryOnConflict(ctx, "set single-use key", func() error {
		if _, err := s.db.ExecContext(ctx, query, key, value, expiresAt); err != nil {
			return fmt.Errorf("set single-use key: %w", err)
		}
		return nil
	})
}

// Delete removes a live key. The single DELETE statement makes concurrent
// callers race on one row; only one sees a row affected.
func (s *SQLiteStore) Delete(ctx context.Context, key string) (bool, error) {
	var rows int64
	err := shared.RetryOnConflict(ctx, "delete single-use key", func() error {
		result, err := s.db.ExecContext(ctx,
			`DELETE FROM single_use WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
			key, s.now().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("delete single-use key: %w", err)
		}
		rows, err = result.RowsAffected()
		return err
	})
	return rows == 1, err
}

// DeleteExpired removes expired single-use keys.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int, error) {
	var n int64
	err := shared.RetryOnConflict(ctx, "sweep single-use keys", func() error {
		result, err := s.db.ExecContext(ctx,
			`DELETE FROM single_use WHERE expires_at IS NOT NULL AND expires_at <= ?`,
			s.now().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("sweep single-use keys: %w", err)
		}
		n, err = result.RowsAffected()
		return err
	})
	if n > 0 {
		slog.Debug("swept expired single-use keys", "count", n)
	}
	return int(n), err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
