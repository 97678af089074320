package credstore

import (
	"context"
	"fmt"

	"github.com/go-redis/redis"
)

// RedisStore keeps the pair in two redis keys, "<prefix>:access_token" and
// "<prefix>:refresh_token". Writes go through MULTI/EXEC so readers never
// observe one key without the other.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// Compile-time check to ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore on an existing client.
func NewRedisStore(client *redis.Client, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("missing redis client")
	}
	if prefix == "" {
		return nil, fmt.Errorf("key prefix cannot be empty")
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
	}, nil
}

// DialRedisStore connects to addr and verifies the server answers before
// returning the store.
func DialRedisStore(addr, prefix string) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}

	return NewRedisStore(client, prefix)
}

func (r *RedisStore) accessKey() string  { return r.prefix + ":access_token" }
func (r *RedisStore) refreshKey() string { return r.prefix + ":refresh_token" }

func (r *RedisStore) Load(ctx context.Context) (Pair, error) {
	if err := ctx.Err(); err != nil {
		return Pair{}, err
	}

	values, err := r.client.WithContext(ctx).MGet(r.accessKey(), r.refreshKey()).Result()
	if err != nil {
		return Pair{}, err
	}

	// MGET yields nil for missing keys
	var pair Pair
	if s, ok := values[0].(string); ok {
		pair.AccessToken = s
	}
	if s, ok := values[1].(string); ok {
		pair.RefreshToken = s
	}

	if pair.IsZero() {
		return Pair{}, ErrNotFound
	}
	if err := pair.Validate(); err != nil {
		return Pair{}, fmt.Errorf("redis prefix %s: %w", r.prefix, err)
	}
	return pair, nil
}

func (r *RedisStore) Save(ctx context.Context, pair Pair) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := pair.Validate(); err != nil {
		return err
	}

	_, err := r.client.WithContext(ctx).TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.Set(r.accessKey(), pair.AccessToken, 0)
		pipe.Set(r.refreshKey(), pair.RefreshToken, 0)
		return nil
	})
	return err
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.client.WithContext(ctx).Del(r.accessKey(), r.refreshKey()).Err()
}

// Close releases the underlying client connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
