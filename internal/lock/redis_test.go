package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	testcontainers.CleanupContainer(t, ctr)

	endpoint, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)
	return "redis://" + endpoint
}

func TestRedisLocker(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	url := startRedis(t)
	ctx := context.Background()

	rdb, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	defer rdb.Close()

	l := NewRedisLocker(rdb, "lock:payment:", 5*time.Second)

	release, err := l.Acquire(ctx, "PAY-1")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(short, "PAY-1")
	assert.ErrorIs(t, err, ErrNotAcquired)

	release()

	again, err := l.Acquire(ctx, "PAY-1")
	require.NoError(t, err)
	again()

	exists, err := rdb.Exists(ctx, "lock:payment:PAY-1").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
