package postgres

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient_Success(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), RedisConfig{
		URL:        "redis://" + mr.Addr(),
		MaxRetries: 3,
		PoolSize:   10,
	})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, 3, client.Options().MaxRetries)
	assert.Equal(t, 10, client.Options().PoolSize)
	assert.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewRedisClient_Overrides(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")

	client, err := NewRedisClient(context.Background(), RedisConfig{
		URL:      "redis://" + mr.Addr() + "/0",
		Password: "s3cret",
		DB:       2,
	})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, 2, client.Options().DB)
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	client, err := NewRedisClient(context.Background(), RedisConfig{URL: "not-a-url"})
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "invalid redis URL")
}

func TestNewRedisClient_ConnectionFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client, err := NewRedisClient(context.Background(), RedisConfig{URL: "redis://" + addr})
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}
