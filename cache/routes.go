package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/travel-ledger/booking"
	"golang.org/x/sync/singleflight"
)

// DefaultRouteTTL bounds how stale a cached listing can get if an
// invalidation is lost.
const DefaultRouteTTL = 30 * time.Second

// RouteCache implements booking.RouteCache on Redis. Concurrent misses for
// one route share a single load.
type RouteCache struct {
	rdb *redis.Client
	ttl time.Duration
	sf  singleflight.Group
}

var _ booking.RouteCache = (*RouteCache)(nil)

func NewRouteCache(client *redis.Client, ttl time.Duration) *RouteCache {
	if ttl <= 0 {
		ttl = DefaultRouteTTL
	}
	return &RouteCache{rdb: client, ttl: ttl}
}

// Route returns the cached options of the route, loading and storing them on
// a miss. A Redis failure falls through to load.
func (c *RouteCache) Route(
	ctx context.Context,
	source, destination string,
	load func(context.Context) ([]booking.TravelOption, error),
) ([]booking.TravelOption, error) {
	key := KeyRoute(source, destination)
	if v, ok, err := c.get(ctx, key); err != nil {
		return load(ctx)
	} else if ok {
		return v, nil
	}

	vAny, err, _ := c.sf.Do(key, func() (any, error) {
		if v, ok, err := c.get(ctx, key); err == nil && ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		_ = c.set(ctx, key, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}

	v, ok := vAny.([]booking.TravelOption)
	if !ok {
		return nil, errors.New("cache.RouteCache.Route: type assertion failed")
	}
	return v, nil
}

// Invalidate drops the cached listing of the route.
func (c *RouteCache) Invalidate(ctx context.Context, source, destination string) error {
	return c.rdb.Del(ctx, KeyRoute(source, destination)).Err()
}

func (c *RouteCache) get(ctx context.Context, key string) ([]booking.TravelOption, bool, error) {
	s, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var out []booking.TravelOption
	if err := json.Unmarshal(s, &out); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (c *RouteCache) set(ctx context.Context, key string, v []booking.TravelOption) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, c.ttl).Err()
}
