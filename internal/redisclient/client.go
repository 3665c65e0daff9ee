package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const drainLockKey = "lock:inventory-sync:drain"

// releaseLockScript deletes the lock only if it still holds our token
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// extendLockScript pushes the expiry out only if the lock still holds our token
var extendLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// DrainLock is a lease shared by every process draining the same pending write log
type DrainLock struct {
	rdb   *redis.Client
	key   string
	ttl   time.Duration
	token string
}

// NewDrainLock creates a drain lock. The TTL bounds how long a crashed holder blocks others.
func (c *Client) NewDrainLock(ttl time.Duration) *DrainLock {
	return &DrainLock{
		rdb: c.rdb,
		key: drainLockKey,
		ttl: ttl,
	}
}

// TryAcquire takes the lock if nobody holds it
func (l *DrainLock) TryAcquire(ctx context.Context) (bool, error) {
	token := uuid.New().String()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire drain lock: %w", err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Extend renews the lease for another TTL. False means the lease expired and someone else took it.
func (l *DrainLock) Extend(ctx context.Context) (bool, error) {
	if l.token == "" {
		return false, nil
	}
	n, err := extendLockScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("extend drain lock: %w", err)
	}
	return n == 1, nil
}

// Release gives the lock back if it is still ours
func (l *DrainLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""

	if err := releaseLockScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release drain lock: %w", err)
	}
	return nil
}
