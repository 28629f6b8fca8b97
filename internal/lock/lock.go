// Package lock serializes recompute runs per tenant. Redis provides the
// lock across processes; Memory covers single-process deployments and
// the case where Redis is not configured.
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

// ErrLocked is returned when another holder owns the tenant's lock.
var ErrLocked = errors.New("recompute already running for tenant")

// Locker acquires a per-key lock. The returned release func is safe to
// call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Memory is an in-process Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]string
}

// NewMemory returns an empty in-process locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]string)}
}

// Acquire implements Locker. ttl is ignored; the lock lives until released.
func (m *Memory) Acquire(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, ErrLocked
	}
	token := uuid.NewString()
	m.held[key] = token
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.held[key] == token {
			delete(m.held, key)
		}
		return nil
	}, nil
}

// releaseScript deletes the key only if it still holds our token, so an
// expired holder cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the key's expiry only while it still holds our
// token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a Locker backed by SET NX PX. A held lock is refreshed every
// ttl/3 until it is released, so ttl bounds how long a crashed holder
// blocks the key rather than how long a run may take.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis returns a Redis locker. Keys are namespaced under prefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "accesslens:lock:"
	}
	return &Redis{client: client, prefix: prefix}
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	fullKey := r.prefix + key
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	stop, done := make(chan struct{}), make(chan struct{})
	go r.keepAlive(fullKey, token, ttl, stop, done)

	var once sync.Once
	return func(ctx context.Context) error {
		var rerr error
		once.Do(func() {
			close(stop)
			<-done
			if err := releaseScript.Run(ctx, r.client, []string{fullKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				rerr = fmt.Errorf("releasing lock %s: %w", fullKey, err)
			}
		})
		return rerr
	}, nil
}

// keepAlive pushes the key's expiry forward until stop is closed or the
// key no longer carries token.
func (r *Redis) keepAlive(key, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := max(ttl/3, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := refreshScript.Run(ctx, r.client, []string{key}, token, ttl.Milliseconds()).Int64()
			cancel()
			if err == nil && n == 0 {
				// Expired and possibly taken over; nothing left to extend.
				return
			}
		}
	}
}

// Open returns a Redis locker and its client when addr is set and
// reachable. With no addr it returns a Memory locker and a nil client.
// When Redis cannot be reached it still returns a Memory locker, along
// with the error so the caller can log the fallback.
func Open(ctx context.Context, addr, password string, db int) (Locker, *redis.Client, error) {
	if addr == "" {
		return NewMemory(), nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return NewMemory(), nil, fmt.Errorf("redis unavailable at %s: %w", addr, err)
	}
	return NewRedis(client, ""), client, nil
}
