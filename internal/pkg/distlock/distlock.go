package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Extend when the lock was lost (expired or taken
// over) since it was acquired.
var ErrNotHeld = errors.New("distlock: lock not held")

// DistLock is the interface for exclusive, cross-invocation locking.
// A DistLock value represents a single holder; concurrent callers create
// separate instances for the same key.
type DistLock interface {
	// Acquire tries to acquire the lock without blocking.
	Acquire(ctx context.Context) (bool, error)
	// Extend refreshes the lease of a held lock.
	Extend(ctx context.Context, ttl time.Duration) error
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Factory creates locks for a key. Backends are chosen once at startup.
type Factory func(key string, ttl time.Duration) DistLock

// NewFactory picks the best available backend: Redis when a client is
// configured, PostgreSQL advisory locks when only a database is, and an
// in-process lock table otherwise.
func NewFactory(redisClient *redis.Client, db *sql.DB) Factory {
	switch {
	case redisClient != nil:
		return func(key string, ttl time.Duration) DistLock {
			return NewRedisLock(redisClient, key, ttl)
		}
	case db != nil:
		return func(key string, _ time.Duration) DistLock {
			return NewPGAdvisoryLock(db, key)
		}
	default:
		table := NewMemoryTable()
		return func(key string, ttl time.Duration) DistLock {
			return table.Lock(key, ttl)
		}
	}
}

// =============================================================================
// PostgreSQL Advisory Lock
// =============================================================================
// pg_try_advisory_lock is session-scoped, so the lock must be taken and
// released on the same connection. Acquire pins a *sql.Conn from the pool
// and holds it until Release. If the process dies the session ends and
// PostgreSQL drops the lock.

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock. Returns true if successful.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return false, fmt.Errorf("advisory lock %d already held by this holder", l.lockID)
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get connection for advisory lock: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Extend is a liveness check: the lock lives as long as the session does.
func (l *PGAdvisoryLock) Extend(ctx context.Context, _ time.Duration) error {
	if l.conn == nil {
		return ErrNotHeld
	}
	return l.conn.PingContext(ctx)
}

// Release releases the advisory lock and returns the connection to the pool.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	closeErr := l.conn.Close()
	l.conn = nil
	if err != nil {
		return err
	}
	return closeErr
}

// =============================================================================
// In-process lock table (single-instance deployments and tests)
// =============================================================================

// MemoryTable tracks held keys for MemoryLock instances sharing it.
type MemoryTable struct {
	mu   sync.Mutex
	held map[string]memoryLease
	now  func() time.Time
}

type memoryLease struct {
	owner   *MemoryLock
	expires time.Time
}

// A zero expiry never lapses.
func (m memoryLease) live(now time.Time) bool {
	return m.expires.IsZero() || now.Before(m.expires)
}

func leaseExpiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// NewMemoryTable creates an empty lock table.
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{held: make(map[string]memoryLease), now: time.Now}
}

// Lock returns a new holder for key.
func (t *MemoryTable) Lock(key string, ttl time.Duration) *MemoryLock {
	return &MemoryLock{table: t, key: key, ttl: ttl}
}

// MemoryLock implements DistLock against a MemoryTable.
type MemoryLock struct {
	table *MemoryTable
	key   string
	ttl   time.Duration
}

func (l *MemoryLock) Acquire(_ context.Context) (bool, error) {
	t := l.table
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if lease, ok := t.held[l.key]; ok && lease.owner != l && lease.live(now) {
		return false, nil
	}
	t.held[l.key] = memoryLease{owner: l, expires: leaseExpiry(now, l.ttl)}
	return true, nil
}

func (l *MemoryLock) Extend(_ context.Context, ttl time.Duration) error {
	t := l.table
	t.mu.Lock()
	defer t.mu.Unlock()
	lease, ok := t.held[l.key]
	if !ok || lease.owner != l {
		return ErrNotHeld
	}
	if !lease.live(t.now()) {
		delete(t.held, l.key)
		return ErrNotHeld
	}
	lease.expires = leaseExpiry(t.now(), ttl)
	t.held[l.key] = lease
	return nil
}

func (l *MemoryLock) Release(_ context.Context) error {
	t := l.table
	t.mu.Lock()
	defer t.mu.Unlock()
	if lease, ok := t.held[l.key]; ok && lease.owner == l {
		delete(t.held, l.key)
	}
	return nil
}
