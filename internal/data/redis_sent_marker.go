package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/appointflow/notifier/internal/core"
)

const (
	defaultSentMarkerTTL    = 72 * time.Hour
	defaultSentMarkerPrefix = "notifier:"
)

// RedisSentMarker records delivered recipients so a replayed batch skips them. Keys are written
// after a successful send and expire after the TTL.
type RedisSentMarker struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

var _ core.SentMarker = (*RedisSentMarker)(nil)

// RedisSentMarkerOptions configures a RedisSentMarker.
type RedisSentMarkerOptions struct {
	Client redis.UniversalClient
	TTL    time.Duration
	// Prefix namespaces keys; defaults to "notifier:".
	Prefix string
}

// NewRedisSentMarker creates a RedisSentMarker.
func NewRedisSentMarker(opts RedisSentMarkerOptions) *RedisSentMarker {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultSentMarkerTTL
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultSentMarkerPrefix
	}
	return &RedisSentMarker{client: opts.Client, ttl: ttl, prefix: prefix}
}

// Sent reports whether key was marked as delivered.
func (m *RedisSentMarker) Sent(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}
	n, err := m.client.Exists(ctx, m.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// MarkSent records key as delivered for the marker TTL.
func (m *RedisSentMarker) MarkSent(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if err := m.client.Set(ctx, m.prefix+key, time.Now().UTC().Format(time.RFC3339), m.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Health checks Redis connectivity.
func (m *RedisSentMarker) Health(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
