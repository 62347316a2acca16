// Package leader grants sweep partition leadership to one instance at a
// time.
//
// RedisLock coordinates instances through Redis keys written with
// SET NX PX. Renewal and release run as Lua scripts that check the owner,
// so an instance never extends or deletes a lock another instance took
// over after expiry. LocalLock serves single-process deployments and tests.
package leader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/yndnr/captoken-go/internal/core/service"
	"github.com/yndnr/captoken-go/pkg/clock"
)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a Locker backed by Redis.
type RedisLock struct {
	client redis.Cmdable
	owner  string
}

var _ service.Locker = (*RedisLock)(nil)

// NewRedisLock creates a lock client. An empty owner gets a random one.
func NewRedisLock(client redis.Cmdable, owner string) *RedisLock {
	if owner == "" {
		owner = uuid.NewString()
	}
	return &RedisLock{client: client, owner: owner}
}

// Owner returns the value this instance writes into held keys.
func (l *RedisLock) Owner() string { return l.owner }

// TryLock acquires key or renews it when already held by this owner.
func (l *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("leader: acquire %s: %w", key, err)
	}
	if ok {
		return true, nil
	}
	n, err := renewScript.Run(ctx, l.client, []string{key}, l.owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("leader: renew %s: %w", key, err)
	}
	return n == 1, nil
}

// Unlock releases key if this owner holds it.
func (l *RedisLock) Unlock(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, l.client, []string{key}, l.owner).Err(); err != nil {
		return fmt.Errorf("leader: release %s: %w", key, err)
	}
	return nil
}

// LocalLock is an in-process Locker. Instances sharing one LocalTable
// compete for the same keys.
type LocalLock struct {
	table *LocalTable
	owner string
}

var _ service.Locker = (*LocalLock)(nil)

// LocalTable holds in-process lock state.
type LocalTable struct {
	mu    sync.Mutex
	clock clock.Clock
	locks map[string]localEntry
}

type localEntry struct {
	owner   string
	expires time.Time
}

// NewLocalTable creates an empty table. A nil clock uses the real clock.
func NewLocalTable(c clock.Clock) *LocalTable {
	if c == nil {
		c = clock.Real()
	}
	return &LocalTable{clock: c, locks: make(map[string]localEntry)}
}

// Lock returns a Locker for owner on t.
func (t *LocalTable) Lock(owner string) *LocalLock {
	if owner == "" {
		owner = uuid.NewString()
	}
	return &LocalLock{table: t, owner: owner}
}

// TryLock acquires or renews key.
func (l *LocalLock) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	t := l.table
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	e, held := t.locks[key]
	if held && e.owner != l.owner && now.Before(e.expires) {
		return false, nil
	}
	t.locks[key] = localEntry{owner: l.owner, expires: now.Add(ttl)}
	return true, nil
}

// Unlock releases key if held by this owner.
func (l *LocalLock) Unlock(_ context.Context, key string) error {
	t := l.table
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.locks[key]; ok && e.owner == l.owner {
		delete(t.locks, key)
	}
	return nil
}
