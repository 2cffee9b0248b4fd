package database

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestConnectRedis(t *testing.T) {
	server := miniredis.RunT(t)

	client, err := ConnectRedis(context.Background(), fmt.Sprintf("redis://%s/0", server.Addr()))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "snapshot", "1", 0).Err())

	stored, err := server.Get("snapshot")
	require.NoError(t, err)
	require.Equal(t, "1", stored)
}

func TestConnectRedisAppliesCacheTuning(t *testing.T) {
	server := miniredis.RunT(t)

	client, err := ConnectRedis(context.Background(), fmt.Sprintf("redis://%s/0", server.Addr()))
	require.NoError(t, err)
	defer client.Close()

	options := client.Options()
	require.Equal(t, redisDialTimeout, options.DialTimeout)
	require.Equal(t, redisOpTimeout, options.ReadTimeout)
	require.Equal(t, redisOpTimeout, options.WriteTimeout)
	require.Equal(t, 1, options.MaxRetries)
}

func TestConnectRedisRejectsEmptyURL(t *testing.T) {
	_, err := ConnectRedis(context.Background(), "")
	require.Error(t, err)
}

func TestConnectRedisRejectsMalformedURL(t *testing.T) {
	_, err := ConnectRedis(context.Background(), "not-a-redis-url")
	require.Error(t, err)
}

func TestConnectRedisFailsWhenCacheUnreachable(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	_, err := ConnectRedis(context.Background(), "redis://"+addr)
	require.Error(t, err)
	require.Contains(t, err.Error(), "leaderboard cache")
}
