// Package lease provides short-lived exclusive locks keyed by playlist.
//
// A lease complements the database claim on a playlist: the claim keeps a single process honest,
// while a Redis lease keeps several processes sharing one store from starting the same sync.
package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/desertthunder/ytsync/internal/shared"
)

// Lease is a held lock. Release is safe to call more than once.
//
// Extend pushes the expiry ttl into the future. It fails with [shared.ErrClaimLost] once the
// lease expired or another holder took the key.
type Lease interface {
	Key() string
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker acquires leases. Acquire returns [shared.ErrLeaseHeld] when another holder owns key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Key builds the lease key for a playlist.
func Key(playlistID string) string {
	return "ytsync:lease:playlist:" + playlistID
}

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript renews the expiry only while the key still carries our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker implements [Locker] with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
}

// NewRedisLocker wraps an existing client.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// NewRedisClient creates a client from configuration.
func NewRedisClient(cfg shared.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := shared.GenerateID()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrLeaseHeld, key)
	}
	return &redisLease{client: l.client, key: key, token: token}, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
	once   sync.Once
	err    error
}

func (l *redisLease) Key() string { return l.key }

func (l *redisLease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend lease %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: lease %s expired or taken", shared.ErrClaimLost, l.key)
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
			l.err = fmt.Errorf("failed to release lease %s: %w", l.key, err)
		}
	})
	return l.err
}

// LocalLocker implements [Locker] in process memory. Used when Redis is disabled.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localEntry
	now  func() time.Time
}

type localEntry struct {
	token   string
	expires time.Time
}

// NewLocalLocker creates an empty in-memory locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry), now: time.Now}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return nil, fmt.Errorf("%w: %s", shared.ErrLeaseHeld, key)
	}

	token := shared.GenerateID()
	l.held[key] = localEntry{token: token, expires: now.Add(ttl)}
	return &localLease{owner: l, key: key, token: token}, nil
}

func (l *LocalLocker) release(key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.held[key]; ok && e.token == token {
		delete(l.held, key)
	}
}

func (l *LocalLocker) extend(key, token string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	e, ok := l.held[key]
	if !ok || e.token != token || !now.Before(e.expires) {
		return fmt.Errorf("%w: lease %s expired or taken", shared.ErrClaimLost, key)
	}
	e.expires = now.Add(ttl)
	l.held[key] = e
	return nil
}

type localLease struct {
	owner *LocalLocker
	key   string
	token string
}

func (l *localLease) Key() string { return l.key }

func (l *localLease) Extend(ctx context.Context, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.owner.extend(l.key, l.token, ttl)
}

func (l *localLease) Release(context.Context) error {
	l.owner.release(l.key, l.token)
	return nil
}

// New returns a Redis locker when enabled in cfg, otherwise a [LocalLocker].
// The returned close function releases the Redis client.
func New(ctx context.Context, cfg shared.RedisConfig) (Locker, func() error, error) {
	if !cfg.Enabled {
		return NewLocalLocker(), func() error { return nil }, nil
	}

	client := NewRedisClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisLocker(client), client.Close, nil
}
