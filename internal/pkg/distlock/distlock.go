// Package distlock guards the portal session: the EPAY browser profile is a
// stateful singleton, so at most one process may run the importer at a time.
// Redis is the preferred backend; a PostgreSQL advisory lock covers
// deployments without Redis.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a process-wide mutual exclusion handle. A Lock instance belongs to
// one goroutine; share the guard, not the handle.
type Lock interface {
	// Acquire attempts to take the lock without blocking.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock back if this instance still owns it.
	Release(ctx context.Context) error
}

// New picks the best available backend for the importer guard. A nil Redis
// client selects the advisory-lock fallback.
func New(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) Lock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewAdvisoryLock(db, key)
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// Session-scoped pg_try_advisory_lock / pg_advisory_unlock. The lock drops
// with the DB connection, so a crashed process never wedges the importer.

// AdvisoryLock implements Lock on a PostgreSQL session advisory lock.
type AdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewAdvisoryLock derives a stable 64-bit lock ID from key.
func NewAdvisoryLock(db *sql.DB, key string) *AdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &AdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

// Acquire is non-blocking; it reports false when another session holds the ID.
func (l *AdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Release unlocks the advisory lock for this session.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
