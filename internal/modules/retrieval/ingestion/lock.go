package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// ErrDocumentBusy means another ingestion run holds the document lock. It is
// transient: the job queue retries it with backoff.
var ErrDocumentBusy = errors.New("document is being processed by another run")

// ErrLeaseLost means the lease expired and another run may now hold the key.
var ErrLeaseLost = errors.New("document lock lease lost")

// Locker grants exclusive per-key leases. Acquire never blocks waiting for a
// held key; it returns ErrDocumentBusy instead.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is one held key. Extend pushes the expiry another ttl out from now
// and fails with ErrLeaseLost once the key belongs to someone else. Release
// is idempotent.
type Lease interface {
	Extend(ctx context.Context) error
	Release()
}

type memoryLocker struct {
	mu   sync.Mutex
	held map[string]*memoryLease
}

// NewMemoryLocker only excludes runs inside this process. Its leases never
// expire.
func NewMemoryLocker() Locker {
	return &memoryLocker{held: map[string]*memoryLease{}}
}

func (l *memoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrDocumentBusy
	}
	lease := &memoryLease{locker: l, key: key}
	l.held[key] = lease
	return lease, nil
}

type memoryLease struct {
	locker *memoryLocker
	key    string
	once   sync.Once
}

func (m *memoryLease) Extend(ctx context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	if m.locker.held[m.key] != m {
		return ErrLeaseLost
	}
	return nil
}

func (m *memoryLease) Release() {
	m.once.Do(func() {
		m.locker.mu.Lock()
		if m.locker.held[m.key] == m {
			delete(m.locker.held, m.key)
		}
		m.locker.mu.Unlock()
	})
}

// Both scripts act only while the key still holds our token, so an expired
// lease never touches a newer holder's lock.
var (
	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
	extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

type redisLocker struct {
	rdb    goredis.UniversalClient
	prefix string
}

func NewRedisLocker(rdb goredis.UniversalClient, prefix string) Locker {
	if prefix == "" {
		prefix = "docretrieval:lock"
	}
	return &redisLocker{rdb: rdb, prefix: prefix}
}

func (l *redisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	full := l.prefix + ":" + key
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", full, err)
	}
	if !ok {
		return nil, ErrDocumentBusy
	}
	return &redisLease{rdb: l.rdb, key: full, token: token, ttl: ttl}, nil
}

type redisLease struct {
	rdb   goredis.UniversalClient
	key   string
	token string
	ttl   time.Duration
	once  sync.Once
}

func (r *redisLease) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, r.rdb, []string{r.key}, r.token, r.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", r.key, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *redisLease) Release() {
	r.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, r.rdb, []string{r.key}, r.token).Err()
	})
}
