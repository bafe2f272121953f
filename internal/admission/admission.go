// Package admission implements the per-client request-rate gate that sits
// in front of every mutating dispatch operation.
package admission

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	memorystore "github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Decision is the outcome of a single Consume call.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Gate admits up to a fixed number of requests per client key within a
// rolling window. A denied request does not consume quota.
type Gate struct {
	limiter *limiter.Limiter
}

// NewMemoryStore returns the default in-process bucket store.
func NewMemoryStore() limiter.Store {
	return memorystore.NewStore()
}

// NewRedisStore returns a Redis-backed bucket store so limits hold across
// instances sharing the same Redis.
func NewRedisStore(client *redis.Client) (limiter.Store, error) {
	return redisstore.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix: "dispatch:ratelimit",
	})
}

// New creates a Gate allowing points requests per window.
func New(points int64, window time.Duration, store limiter.Store) *Gate {
	return &Gate{
		limiter: limiter.New(store, limiter.Rate{
			Period: window,
			Limit:  points,
		}),
	}
}

// Consume takes one permit for key. When the window budget is exhausted the
// request is denied and RetryAfter says how long until the window resets.
func (g *Gate) Consume(ctx context.Context, key string) (Decision, error) {
	lctx, err := g.limiter.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Allowed:   !lctx.Reached,
		Remaining: lctx.Remaining,
	}
	if lctx.Reached {
		if wait := time.Until(time.Unix(lctx.Reset, 0)); wait > 0 {
			d.RetryAfter = wait
		}
	}
	return d, nil
}
