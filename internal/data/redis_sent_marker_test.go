package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appointflow/notifier/internal/testutil"
)

func TestRedisSentMarker(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	ctx := context.Background()

	marker := NewRedisSentMarker(RedisSentMarkerOptions{Client: client, TTL: time.Minute, Prefix: "test:"})
	require.NoError(t, marker.Health(ctx))

	sent, err := marker.Sent(ctx, "run-1:r-1")
	require.NoError(t, err)
	assert.False(t, sent, "reading a marker never creates it")

	require.NoError(t, marker.MarkSent(ctx, "run-1:r-1"))
	sent, err = marker.Sent(ctx, "run-1:r-1")
	require.NoError(t, err)
	assert.True(t, sent)

	ttl, err := client.TTL(ctx, "test:run-1:r-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	other, err := marker.Sent(ctx, "run-1:r-2")
	require.NoError(t, err)
	assert.False(t, other)

	_, err = marker.Sent(ctx, "")
	require.Error(t, err)
	require.Error(t, marker.MarkSent(ctx, ""))
}

func TestNewRedisSentMarker_Defaults(t *testing.T) {
	m := NewRedisSentMarker(RedisSentMarkerOptions{})
	assert.Equal(t, defaultSentMarkerTTL, m.ttl)
	assert.Equal(t, defaultSentMarkerPrefix, m.prefix)
}
