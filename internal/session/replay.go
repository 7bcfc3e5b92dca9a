package session

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/reevit-checkout/internal/common"
)

// ReplayGuard claims a callback key once. Acquire returns false when the key
// was already claimed within ttl. Release gives up a claim so the same
// callback can be delivered again.
type ReplayGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisReplayGuard claims keys with SETNX so duplicates are caught across replicas.
type RedisReplayGuard struct {
	Client redis.UniversalClient
}

// Acquire implements ReplayGuard.
func (g RedisReplayGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if g.Client == nil {
		return true, nil
	}
	return g.Client.SetNX(ctx, key, "1", ttl).Result()
}

// Release implements ReplayGuard.
func (g RedisReplayGuard) Release(ctx context.Context, key string) error {
	if g.Client == nil {
		return nil
	}
	return g.Client.Del(ctx, key).Err()
}

// MemoryReplayGuard is the single-process fallback used without Redis.
type MemoryReplayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// Acquire implements ReplayGuard.
func (g *MemoryReplayGuard) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen == nil {
		g.seen = make(map[string]time.Time)
	}
	for k, exp := range g.seen {
		if now.After(exp) {
			delete(g.seen, k)
		}
	}
	if _, dup := g.seen[key]; dup {
		return false, nil
	}
	g.seen[key] = now.Add(ttl)
	return true, nil
}

// Release implements ReplayGuard.
func (g *MemoryReplayGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, key)
	return nil
}

// callbackKey identifies one PSP callback delivery for a session.
func callbackKey(sessionID string, body []byte) string {
	return "cb:" + sessionID + ":" + common.Digest(body)
}
