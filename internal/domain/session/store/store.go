package store

import (
	"context"
	"errors"
	"time"

	"medgate/internal/domain/session/model"
)

// ErrNotFound covers both missing and expired sessions: an expired record
// must never be partially trusted, so it is indistinguishable from absence.
var ErrNotFound = errors.New("session not found")

// ErrVersionConflict signals that a concurrent update advanced the session
// after the caller read it. The caller re-reads instead of retrying blindly.
var ErrVersionConflict = errors.New("session version conflict")

// Store persists authentication sessions with optimistic versioning.
type Store interface {
	// Put inserts a fresh session. The record's Version must be 1.
	Put(ctx context.Context, sess model.Session) error
	// Get loads a live session; expired records surface as ErrNotFound.
	Get(ctx context.Context, id string) (model.Session, error)
	// Update replaces the record if and only if the stored version equals
	// sess.Version, then bumps the version. Returns the stored result.
	Update(ctx context.Context, sess model.Session) (model.Session, error)
	Remove(ctx context.Context, id string) error
	CleanupExpired(ctx context.Context) error
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Config describes the high level store selection parameters.
type Config struct {
	Driver string
	TTL    time.Duration
	Redis  *RedisConfig
	SQLite *SQLiteConfig
	Memory *MemoryConfig
}

// MemoryConfig holds in-memory tuning knobs.
type MemoryConfig struct {
	GCInterval time.Duration
}

// SQLiteConfig provides the database dependency.
type SQLiteConfig struct {
	DSN string
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}
