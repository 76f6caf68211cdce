package usagecounter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/housecrystal-18/shopscanner/app/models"
	"github.com/housecrystal-18/shopscanner/internal/pkg/cache"
	"github.com/housecrystal-18/shopscanner/internal/pkg/env"
)

const isolatedCounterTestRedisDB = 13

func setupTestRedis(t *testing.T) {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", env.GetEnv("CACHE_HOST", "localhost"), env.GetEnv("CACHE_PORT", "6379")),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       isolatedCounterTestRedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	require.NoError(t, client.FlushDB(context.Background()).Err())
	cache.SetClient(client)
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
}

func TestPendingKeyMapping(t *testing.T) {
	tests := []struct {
		feature string
		key     string
		column  string
		ok      bool
	}{
		{models.FeatureScan, "usage:pending:scan", "scans_used", true},
		{models.FeatureStoreAnalysis, "usage:pending:store_analysis", "store_analyses_used", true},
		{models.FeatureCrossPlatformSearch, "usage:pending:cross_platform_search", "cross_platform_searches_used", true},
		{"exports", "", "", false},
	}

	for _, tt := range tests {
		key, column, ok := pendingKeyFor(tt.feature)
		assert.Equal(t, tt.ok, ok, tt.feature)
		assert.Equal(t, tt.key, key)
		assert.Equal(t, tt.column, column)
	}
}

func TestAddPendingAccumulates(t *testing.T) {
	setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, AddPending(ctx, models.FeatureScan, 7, 1))
	require.NoError(t, AddPending(ctx, models.FeatureScan, 7, 2))
	require.NoError(t, AddPending(ctx, models.FeatureScan, 8, 1))

	got, err := PendingFor(ctx, models.FeatureScan, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	got, err = PendingFor(ctx, models.FeatureScan, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	// Features are tracked independently.
	got, err = PendingFor(ctx, models.FeatureStoreAnalysis, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}

func TestAddPendingUnknownFeature(t *testing.T) {
	err := AddPending(context.Background(), "exports", 1, 1)
	assert.Error(t, err)
}

func TestFlushFailureKeepsPendingDeltas(t *testing.T) {
	setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, AddPending(ctx, models.FeatureScan, 7, 3))
	require.NoError(t, AddPending(ctx, models.FeatureScan, 8, 1))

	// The database is down during the flush. The drained hash must be
	// credited back instead of being deleted with the temp key.
	key, column, ok := pendingKeyFor(models.FeatureScan)
	require.True(t, ok)
	require.Error(t, flushHash(nil, key, column))

	got, err := PendingFor(ctx, models.FeatureScan, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	got, err = PendingFor(ctx, models.FeatureScan, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	// No temp keys left behind.
	keys, err := cache.GetClient().Keys(ctx, key+":tmp:*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFlushFailureMergesWithNewIncrements(t *testing.T) {
	setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, AddPending(ctx, models.FeatureScan, 7, 2))

	key, column, ok := pendingKeyFor(models.FeatureScan)
	require.True(t, ok)
	require.Error(t, flushHash(nil, key, column))

	// An increment landing after the failed flush stacks on the restored
	// delta.
	require.NoError(t, AddPending(ctx, models.FeatureScan, 7, 1))

	got, err := PendingFor(ctx, models.FeatureScan, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)
}
