package session

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces session keys when no prefix is configured.
const DefaultRedisPrefix = "inventoryctl:session:"

// RedisPersister stores session keys in Redis, letting several hosts share
// one logged-in session.
type RedisPersister struct {
	client *redis.Client
	prefix string
}

// NewRedisPersister creates a persister from a Redis URL
// (redis://[:password@]host:port/db).
func NewRedisPersister(redisURL, prefix string) (*RedisPersister, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return NewRedisPersisterFromClient(redis.NewClient(opts), prefix), nil
}

func NewRedisPersisterFromClient(client *redis.Client, prefix string) *RedisPersister {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisPersister{client: client, prefix: prefix}
}

func (p *RedisPersister) key(k string) string {
	return p.prefix + k
}

func (p *RedisPersister) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPersister) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := p.client.Get(ctx, p.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (p *RedisPersister) Set(ctx context.Context, key, value string) error {
	return p.client.Set(ctx, p.key(key), value, 0).Err()
}

func (p *RedisPersister) Delete(ctx context.Context, key string) error {
	return p.client.Del(ctx, p.key(key)).Err()
}

func (p *RedisPersister) Close() error {
	return p.client.Close()
}
