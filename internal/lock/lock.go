// Package lock provides dispatch leases so that two passes over the same
// campaign never run at once, whether triggered by the scheduler or the API.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultTTL = 15 * time.Minute

var (
	// ErrHeld is returned when another holder owns the lease
	ErrHeld = errors.New("lease already held")
	// ErrLost is returned by Refresh once the lease expired or passed to another holder
	ErrLost = errors.New("lease lost")
)

// Lease is one acquired lease. Release is safe to call more than once.
type Lease interface {
	// Refresh extends the lease while this holder still owns it
	Refresh(ctx context.Context) error
	Release()
}

// Locker acquires named leases
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Key builds the lease key for a campaign
func Key(family string, campaignID int64) string {
	return fmt.Sprintf("dispatch:%s:%d", family, campaignID)
}

type leaseContextKey struct{}

// WithLease carries the lease a pass runs under
func WithLease(ctx context.Context, lease Lease) context.Context {
	return context.WithValue(ctx, leaseContextKey{}, lease)
}

// Refresh extends the lease carried by ctx. Without one it does nothing.
func Refresh(ctx context.Context) error {
	lease, ok := ctx.Value(leaseContextKey{}).(Lease)
	if !ok {
		return nil
	}
	return lease.Refresh(ctx)
}

// releaseScript deletes the key only if we still own it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript resets the TTL only if we still own the key
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker holds leases in Redis with a TTL so a crashed holder cannot
// block a campaign forever. A live holder keeps its lease by refreshing it.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker parses a redis:// URL and verifies connectivity
func NewRedisLocker(ctx context.Context, url string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{client: client, ttl: ttl}, nil
}

// Acquire sets the key if absent
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &redisLease{client: l.client, key: key, token: token, ttl: l.ttl}, nil
}

// Ping reports Redis reachability for health checks
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
	once   sync.Once
}

func (l *redisLease) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to refresh lease %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", l.key, ErrLost)
	}
	return nil
}

func (l *redisLease) Release() {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		releaseScript.Run(ctx, l.client, []string{l.key}, l.token)
	})
}

// LocalLocker holds leases in process memory. It is used when no Redis is
// configured and by tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]string
}

// NewLocalLocker creates an in-memory locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]string)}
}

// Acquire marks the key held
func (l *LocalLocker) Acquire(_ context.Context, key string) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrHeld
	}
	token := uuid.NewString()
	l.held[key] = token
	return &localLease{locker: l, key: key, token: token}, nil
}

// Revoke drops the lease on key as if its TTL had run out
func (l *LocalLocker) Revoke(key string) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
}

type localLease struct {
	locker *LocalLocker
	key    string
	token  string
	once   sync.Once
}

func (l *localLease) Refresh(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if l.locker.held[l.key] != l.token {
		return fmt.Errorf("%s: %w", l.key, ErrLost)
	}
	return nil
}

func (l *localLease) Release() {
	l.once.Do(func() {
		l.locker.mu.Lock()
		if l.locker.held[l.key] == l.token {
			delete(l.locker.held, l.key)
		}
		l.locker.mu.Unlock()
	})
}
