package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLock implements Lock with SET NX plus a TTL. A random ownership token
// and Lua-scripted release/extend keep one process from dropping another's
// lock after an expiry race.
type RedisLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// NewRedisLock creates a Redis-backed lock under the "epay:lock:" namespace.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	b := make([]byte, 16)
	rand.Read(b)
	return &RedisLock{
		client: client,
		key:    fmt.Sprintf("epay:lock:%s", key),
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire attempts to take the lock without blocking.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Release deletes the lock only when this instance still owns it.
func (l *RedisLock) Release(ctx context.Context) error {
	_, err := l.releaseOwned(ctx)
	return err
}

func (l *RedisLock) releaseOwned(ctx context.Context) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return n == 1, nil
}

// Extend pushes the expiry out by ttl. A browser import can outlive the
// initial TTL, so the holder refreshes while it works.
func (l *RedisLock) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("extend lock %s: no longer owned", l.key)
	}
	return nil
}

// HoldRedis refreshes lock every interval until ctx is cancelled, then
// releases it. It is the run-for-the-process-lifetime companion to Acquire.
func HoldRedis(ctx context.Context, lock *RedisLock, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := lock.Release(releaseCtx); err != nil {
				log.Printf("[DistLock] Release failed: %v", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := lock.Extend(ctx, lock.ttl); err != nil {
				log.Printf("[DistLock] Extend failed: %v", err)
			}
		}
	}
}
