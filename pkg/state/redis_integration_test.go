//go:build integration

package state

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	t.Cleanup(func() { redisContainer.Terminate(ctx) })

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIntegration_RedisStoreSurvivesNewStore(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	key := Key{Stream: "opportunity"}

	first := NewRedisStore(client)
	moved, err := first.Advance(ctx, key, "03/05/2024 02:07:09 PM")
	require.NoError(t, err)
	assert.True(t, moved)

	second := NewRedisStore(client)
	got, err := second.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05T14:07:09Z", got)

	moved, err = second.Advance(ctx, key, "2023-12-31T00:00:00Z")
	require.NoError(t, err)
	assert.False(t, moved)

	snap, err := second.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"opportunity": "2024-03-05T14:07:09Z"}, snap)
}
