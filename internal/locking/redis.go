package locking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix       = "mechlib:lock:"
	minRetryBackoff = 25 * time.Millisecond
	maxRetryBackoff = 500 * time.Millisecond
)

// releaseScript deletes the lock only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript pushes the lease out by ARGV[2] ms only while the caller still holds it.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

// RedisLocker is a lease-based lock shared by every instance using the same Redis.
// While held, the lease is renewed every ttl/3; a crashed holder's lock expires after ttl.
type RedisLocker struct {
	client redisClient
	ttl    time.Duration
}

// NewRedisLocker creates a locker whose leases last ttl.
func NewRedisLocker(client redisClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

// NewRedisClient connects to a redis:// or rediss:// URL, or a bare host:port, and pings it.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	var opts *redis.Options

	if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}

		opts = parsed
	} else {
		opts = &redis.Options{Addr: url}
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return rdb, nil
}

// Lock polls SET NX PX with backoff until the key is free or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()
	backoff := minRetryBackoff

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}

		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, maxRetryBackoff)
	}

	stopRenew := l.renew(context.WithoutCancel(ctx), redisKey, token)

	var once sync.Once

	return func() {
		once.Do(func() {
			stopRenew()

			// The request context may already be canceled; release on a fresh one.
			relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()

			if err := releaseScript.Run(relCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				slog.Warn("failed to release lock", "key", key, "error", err)
			}
		})
	}, nil
}

// renew extends the lease until the returned stop func is called or the lease is lost.
func (l *RedisLocker) renew(ctx context.Context, redisKey, token string) func() {
	interval := l.ttl / 3
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			held, err := extendScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int64()
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("failed to extend lock lease", "key", redisKey, "error", err)
				}

				continue
			}

			if held == 0 {
				slog.Warn("lock lease lost before release", "key", redisKey)

				return
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
