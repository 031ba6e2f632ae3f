package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// InflightGuard marks a content hash as being published so a second webhook
// delivery of the same video does not start another publish. The token
// identifies the holder; only the holder's Release frees the hash.
type InflightGuard interface {
	// Acquire returns false when hash is already held.
	Acquire(ctx context.Context, hash, token string) (bool, error)
	Release(ctx context.Context, hash, token string) error
}

// MemoryGuard keeps held hashes in process memory.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]string
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]string)}
}

func (g *MemoryGuard) Acquire(_ context.Context, hash, token string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.held[hash]; ok {
		return false, nil
	}
	g.held[hash] = token
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, hash, token string) error {
	g.mu.Lock()
	if g.held[hash] == token {
		delete(g.held, hash)
	}
	g.mu.Unlock()
	return nil
}

// Len reports how many hashes are currently held.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.held)
}

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares held hashes between replicas. Keys expire after ttl so
// a crashed replica cannot hold a hash forever; ttl must cover the longest
// time a job can wait in the queue plus its poll bound.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisGuard(redisURL string, ttl time.Duration) (*RedisGuard, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisGuardWithClient(redis.NewClient(opts), ttl), nil
}

func NewRedisGuardWithClient(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl, prefix: "lolify:inflight:"}
}

// Ping checks the connection at startup.
func (g *RedisGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func (g *RedisGuard) Acquire(ctx context.Context, hash, token string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+hash, token, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire inflight %s: %w", hash, err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, hash, token string) error {
	if err := releaseScript.Run(ctx, g.client, []string{g.prefix + hash}, token).Err(); err != nil {
		return fmt.Errorf("release inflight %s: %w", hash, err)
	}
	return nil
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}

// GuardTTL is the hold time for a hash: long enough for a job to wait
// behind a full queue and then exhaust its own poll timeout.
func GuardTTL(configured time.Duration, queueSize int, pollTimeout time.Duration) time.Duration {
	if queueSize < 1 {
		queueSize = 1
	}
	// Margin for download and container creation of each job ahead.
	needed := time.Duration(queueSize+1) * (pollTimeout + time.Minute)
	if configured > needed {
		return configured
	}
	return needed
}
