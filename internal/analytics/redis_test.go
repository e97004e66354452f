package analytics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GanWeaving/social-cross-post/internal/domain"
)

// setupTestRedis connects to TEST_REDIS_ADDR. Tests are skipped when it is
// unset or unreachable.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

func TestBuildKey(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	// 00:30 in Berlin on the 2nd is still the 1st in UTC.
	at := time.Date(2030, 3, 2, 0, 30, 0, 0, berlin)
	assert.Equal(t, "crossposter:outcome:bluesky:success:20300301", buildKey("bluesky", resultSuccess, at))
}

func TestNewRedisSink_Defaults(t *testing.T) {
	s := NewRedisSink(nil, 0, nil)
	assert.Equal(t, DefaultRetention, s.retention)
}

func TestRedisSink_WriteAndDaily(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := setupTestRedis(t)
	ctx := context.Background()

	day := time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := NewRedisSink(client, time.Hour, zaptest.NewLogger(t)).WithClock(func() time.Time { return day })

	sink.Record(ctx, domain.PlatformMastodon, true)
	sink.Record(ctx, domain.PlatformMastodon, true)
	sink.Record(ctx, domain.PlatformFacebook, false)

	counts, err := sink.Daily(ctx, day)
	require.NoError(t, err)
	require.Len(t, counts, len(domain.Platforms))

	byPlatform := make(map[domain.Platform]DailyCount)
	for _, c := range counts {
		byPlatform[c.Platform] = c
	}
	assert.Equal(t, int64(2), byPlatform[domain.PlatformMastodon].Success)
	assert.Equal(t, int64(1), byPlatform[domain.PlatformFacebook].Failure)
	assert.Equal(t, int64(0), byPlatform[domain.PlatformTwitter].Success)
	assert.Equal(t, "20300301", byPlatform[domain.PlatformTwitter].Day)

	ttl := client.TTL(ctx, buildKey("mastodon", resultSuccess, day)).Val()
	assert.True(t, ttl > 0 && ttl <= time.Hour)
}
