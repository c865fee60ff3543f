package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisBackend.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// Prefix is prepended to every hash as "<prefix>:<bucket>".
	Prefix string

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration
}

// RedisBackend stores each bucket as a Redis hash.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(opts RedisOptions) (*RedisBackend, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.DialTimeout = opts.ConnectTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBackend{client: client, prefix: opts.Prefix}, nil
}

func (r *RedisBackend) hash(bucket string) string {
	if r.prefix == "" {
		return bucket
	}
	return r.prefix + ":" + bucket
}

// Put sets the hash field key.
func (r *RedisBackend) Put(ctx context.Context, bucket, key string, value []byte) error {
	if err := r.client.HSet(ctx, r.hash(bucket), key, value).Err(); err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Delete removes the hash field key.
func (r *RedisBackend) Delete(ctx context.Context, bucket, key string) error {
	if err := r.client.HDel(ctx, r.hash(bucket), key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

// List returns every field of the bucket's hash.
func (r *RedisBackend) List(ctx context.Context, bucket string) (map[string][]byte, error) {
	fields, err := r.client.HGetAll(ctx, r.hash(bucket)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", bucket, err)
	}

	out := make(map[string][]byte, len(fields))
	for k, v := range fields {
		out[k] = []byte(v)
	}
	return out, nil
}

// Close closes the Redis connection.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

// Ping checks the Redis connection.
func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
