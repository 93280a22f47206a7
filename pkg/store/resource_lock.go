package store

import (
	"context"
	"crypto/md5"
	"fmt"
	"sync"

	"github.com/schedlens/core/pkg/logger"
)

// ResourceLock is a PostgreSQL advisory lock scoped to one resource name,
// used to keep a second scheduler instance from driving the same job.
// Advisory locks are session scoped: hand the lock a DBTX pinned to a
// single connection (a dedicated pgxpool.Conn), not the shared pool.
type ResourceLock struct {
	db     DBTX
	name   string
	lockID int64
	logger *logger.Logger

	mu   sync.Mutex
	held bool
}

// NewResourceLock creates a lock for the named resource
func NewResourceLock(db DBTX, name string) *ResourceLock {
	return &ResourceLock{
		db:     db,
		name:   name,
		lockID: lockID(name),
		logger: logger.New("resource-lock"),
	}
}

// lockID creates a consistent numeric lock ID from the resource name.
// PostgreSQL advisory locks require int64 keys.
func lockID(name string) int64 {
	hash := md5.Sum([]byte(name))

	// Convert first 8 bytes of hash to int64
	id := int64(0)
	for i := 0; i < 8; i++ {
		id = id<<8 + int64(hash[i])
	}
	if id < 0 {
		id = -id
	}
	return id
}

// Acquire attempts to take the lock without blocking. It returns false when
// another session holds it. Re-acquiring a held lock is a no-op.
func (l *ResourceLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return true, nil
	}

	var acquired bool
	err := l.db.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock for %s: %w", l.name, err)
	}
	l.held = acquired

	if acquired {
		l.logger.Info().
			Str("resource", l.name).
			Int64("lock_id", l.lockID).
			Str("action", "lock_acquired").
			Msg("Advisory lock acquired")
	} else {
		l.logger.Debug().
			Str("resource", l.name).
			Int64("lock_id", l.lockID).
			Str("action", "lock_busy").
			Msg("Advisory lock held by another session")
	}
	return acquired, nil
}

// Release drops the lock if held. Releasing an unheld lock is a no-op.
func (l *ResourceLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}

	var released bool
	err := l.db.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", l.lockID).Scan(&released)
	if err != nil {
		return fmt.Errorf("failed to release lock for %s: %w", l.name, err)
	}
	l.held = false

	if !released {
		l.logger.Warn().
			Str("resource", l.name).
			Int64("lock_id", l.lockID).
			Str("action", "lock_not_held").
			Msg("Session did not hold the lock it released")
		return nil
	}

	l.logger.Info().
		Str("resource", l.name).
		Int64("lock_id", l.lockID).
		Str("action", "lock_released").
		Msg("Advisory lock released")
	return nil
}

// IsHeld reports whether this process holds the lock
func (l *ResourceLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
