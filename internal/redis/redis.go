// Package redis backs the HTTP rate limiter. Claim traffic is bursty by
// design — subcontractors race the moment a job post publishes — so the
// limiter must stay cheap under contention and must never block claims
// just because Redis is down (fail open).
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	Client *redis.Client
}

func New(addr, pass string, db int) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr, Password: pass, DB: db,
	})
	return &Cache{Client: rdb}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

// AllowRequest implements a fixed window keyed by the window index:
// rl:<scope>:<ip>:<bucket>. Because the bucket number is derived from
// the clock, a crash between INCR and EXPIRE cannot leave a counter that
// throttles forever — the next window simply uses a fresh key and stale
// ones expire on their own. Scope separates read and write budgets.
func (c *Cache) AllowRequest(ctx context.Context, scope, ip string, limit int, window time.Duration) (bool, error) {
	if window < time.Second {
		window = time.Second
	}
	bucket := time.Now().Unix() / int64(window/time.Second)
	key := fmt.Sprintf("rl:%s:%s:%d", scope, ip, bucket)

	pipe := c.Client.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err // fail open: a Redis outage must not block claims
	}
	return count.Val() <= int64(limit), nil
}
