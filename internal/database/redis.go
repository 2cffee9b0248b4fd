package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis backs the leaderboard snapshot cache only. A slow or flapping cache
// must not stall leaderboard reads, which can always fall back to a rebuild
// from the submission store, so the client trades retries for fast failure.
const (
	redisDialTimeout = 2 * time.Second
	redisOpTimeout   = 500 * time.Millisecond
	redisPingTimeout = 5 * time.Second
)

// ConnectRedis opens and verifies the leaderboard cache client.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url must not be empty")
	}

	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	options.DialTimeout = redisDialTimeout
	options.ReadTimeout = redisOpTimeout
	options.WriteTimeout = redisOpTimeout
	options.MaxRetries = 1

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach leaderboard cache: %w", err)
	}

	return client, nil
}
