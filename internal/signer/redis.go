package signer

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisPrefix = "utt:nullifier:"

// RedisStore keeps nullifiers in Redis so several validator processes can
// share one set. MSETNX gives the all-or-nothing reservation.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps client. An empty prefix selects the default.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = redisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Reserve implements NullifierStore.
func (s *RedisStore) Reserve(ctx context.Context, keys []string, value string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pairs := make([]interface{}, 0, 2*len(keys))
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
		pairs = append(pairs, full[i], value)
	}
	ok, err := s.client.MSetNX(ctx, pairs...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis msetnx")
	}
	if ok {
		return nil, nil
	}
	owners, err := s.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis mget")
	}
	var conflicts, missing []string
	for i, o := range owners {
		switch v := o.(type) {
		case nil:
			missing = append(missing, keys[i])
		case string:
			if v != value {
				conflicts = append(conflicts, keys[i])
			}
		}
	}
	if len(conflicts) > 0 {
		return conflicts, nil
	}
	// Every present key already belongs to value; claim the rest.
	if len(missing) > 0 {
		return s.Reserve(ctx, missing, value)
	}
	return nil, nil
}

// Lookup implements NullifierStore.
func (s *RedisStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "redis get")
	}
	return v, true, nil
}
