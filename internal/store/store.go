// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/codecaptcha/internal/domain"
	"github.com/ashureev/codecaptcha/internal/kv"
)

// Repository persists challenges and single-use markers.
type Repository interface {
	// CreateChallenge inserts a new challenge row. Rows are never updated.
	CreateChallenge(ctx context.Context, c *domain.Challenge) error

	// GetChallenge returns the challenge with id, or nil, nil if none exists.
	GetChallenge(ctx context.Context, id uuid.UUID) (*domain.Challenge, error)

	// DeleteChallengesBefore removes challenges created before cutoff.
	DeleteChallengesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Single-use markers share the database.
	kv.Store
	kv.Sweeper

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// Open picks the backend for dsn: a postgres:// or postgresql:// URL selects
// Postgres, anything else is treated as a SQLite file path.
func Open(ctx context.Context, dsn string) (Repository, error) {
	if IsPostgresURL(dsn) {
		pg, err := NewPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	lite, err := NewSQLite(dsn)
	if err != nil {
		return nil, err
	}
	return lite, nil
}

// IsPostgresURL reports whether dsn names a Postgres database.
func IsPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func encodeInts(v []int) (string, error) {
	if v == nil {
		v = []int{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode int list: %w", err)
	}
	return string(b), nil
}

func decodeInts(s string) ([]int, error) {
	var v []int
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("decode int list: %w", err)
	}
	return v, nil
}
