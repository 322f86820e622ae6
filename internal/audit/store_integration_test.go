//go:build integration

package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestStoreAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	rdb := startRedis(t)
	store := NewStore(rdb, time.Hour, 3)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, Event{
			Type:       EventLoginSucceeded,
			UserID:     "u-1",
			ClientIP:   fmt.Sprintf("10.0.0.%d", i),
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	events, err := store.Recent(ctx, "u-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "10.0.0.4", events[0].ClientIP)
	assert.Equal(t, "10.0.0.2", events[2].ClientIP)

	ttl, err := rdb.TTL(ctx, eventKey("u-1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	empty, err := store.Recent(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
