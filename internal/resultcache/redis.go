package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"vodstream/catalogservice/internal/domain"
)

const redisKeyPrefix = "catalog:results:"

// RedisStore keeps result lists in Redis as JSON so sessions survive a restart
// and are shared between replicas.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]domain.CatalogEntry, bool, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var results []domain.CatalogEntry
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, false, err
	}
	return results, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, results []domain.CatalogEntry) error {
	data, err := json.Marshal(results)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKeyPrefix+key, data, r.ttl).Err()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
