// Package cache keeps route listings in Redis and announces travel option
// changes over Redis pub/sub.
package cache

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

const ns = "travel-ledger:v1"

type Config struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and checks that the server answers.
func New(ctx context.Context, cfg Config) (*redis.Client, error) {
	const op = "cache.New"

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctxPing, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if _, err := client.Ping(ctxPing).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return client, nil
}

// KeyRoute is the cache key of the options listed between source and destination.
func KeyRoute(source, destination string) string {
	return fmt.Sprintf("%s:route:%s:%s", ns, url.PathEscape(source), url.PathEscape(destination))
}

// ChannelOptionsChanged carries the ids of travel options written by a commit.
func ChannelOptionsChanged() string {
	return ns + ":options"
}
