package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey holds the JSON-encoded feed.
const DefaultRedisKey = "chatfeed:messages"

// RedisPersister mirrors the feed to a single Redis string key. SET replaces
// the value atomically, so readers never observe a partial list.
type RedisPersister struct {
	client *redis.Client
	key    string
}

// NewRedisPersister connects to redisURL (redis://...) and verifies the
// connection with PING.
func NewRedisPersister(ctx context.Context, redisURL, key string) (*RedisPersister, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisPersister{client: client, key: key}, nil
}

func (p *RedisPersister) Load(ctx context.Context) ([]Entry, error) {
	b, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", p.key, err)
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("%w: redis key %s: %v", ErrCorrupt, p.key, err)
	}
	return entries, nil
}

func (p *RedisPersister) Save(ctx context.Context, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode feed: %w", err)
	}
	if err := p.client.Set(ctx, p.key, b, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", p.key, err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (p *RedisPersister) Close() error { return p.client.Close() }

// Ping reports whether Redis is reachable.
func (p *RedisPersister) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }
