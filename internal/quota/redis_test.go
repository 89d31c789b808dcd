package quota

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisReservationExpiresWithRecord(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLedger(client, fixedLimits{"acct": 10}, time.Hour)
	l.prefix = "mealgen:test:" + time.Now().Format("150405.000000000")
	res, err := l.TryReserve(ctx, "acct", kind, 4)
	require.NoError(t, err)

	key := l.recordKey("acct", res.PeriodKey, kind)
	keys, err := client.Keys(ctx, l.prefix+":*").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys, "the reservation lives inside the record hash")

	outstanding, err := client.HGet(ctx, key, reservationField(res.ID)).Int()
	require.NoError(t, err)
	assert.Equal(t, 4, outstanding)

	// Shorten the TTL, then check that settling refreshes it.
	require.NoError(t, client.Expire(ctx, key, time.Minute).Err())
	require.NoError(t, l.Commit(ctx, res, 1))
	ttl, err := client.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 30*time.Minute)

	require.NoError(t, l.Release(ctx, res, 3))
	exists, err := client.HExists(ctx, key, reservationField(res.ID)).Result()
	require.NoError(t, err)
	assert.False(t, exists, "fully settled reservation is removed")
	assert.ErrorIs(t, l.Commit(ctx, res, 1), ErrUnknownReservation)

	// Dropping the record drops the reservation and its reserved units together.
	again, err := l.TryReserve(ctx, "acct", kind, 2)
	require.NoError(t, err)
	require.NoError(t, client.Del(ctx, key).Err())
	assert.ErrorIs(t, l.Release(ctx, again, 2), ErrUnknownReservation)
	usage, err := l.Usage(ctx, "acct", kind)
	require.NoError(t, err)
	assert.Zero(t, usage.Reserved)
}

func TestReservationFieldIsNamespaced(t *testing.T) {
	assert.Equal(t, "res:abc", reservationField("abc"))
	for _, counter := range []string{"used", "reserved", "limit"} {
		assert.NotEqual(t, counter, reservationField(counter))
	}
}
