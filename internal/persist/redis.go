package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// RedisStore shares gate state between instances through Redis. Records are
// stored as JSON strings under prefix:key.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "tradegate"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (rs *RedisStore) redisKey(key string) string {
	return rs.prefix + ":" + key
}

func (rs *RedisStore) Load(key string, v any) (bool, error) {
	data, err := rs.client.Get(context.Background(), rs.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("state record unreadable, using defaults")
		return false, nil
	}
	return true, nil
}

func (rs *RedisStore) Save(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := rs.client.Set(context.Background(), rs.redisKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
