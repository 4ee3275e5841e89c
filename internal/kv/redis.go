package kv

import (
	"context"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "sealchat:"

// Redis is a Store backed by a redis instance, for deployments where the
// gateway process is not the durable home of its own state.
type Redis struct {
	rdb *redis.Client
	ctx context.Context
}

func NewRedis(addr string) *Redis {
	return &Redis{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ctx: context.Background(),
	}
}

func (r *Redis) Get(key string) (string, error) {
	v, err := r.rdb.Get(r.ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", err
	}
	return v, nil
}

func (r *Redis) Set(key, value string) error {
	return r.rdb.Set(r.ctx, redisKeyPrefix+key, value, 0).Err()
}

func (r *Redis) Delete(key string) error {
	return r.rdb.Del(r.ctx, redisKeyPrefix+key).Err()
}

func (r *Redis) Keys(prefix string) ([]string, error) {
	var (
		cursor uint64
		raw    []string
	)
	for {
		keys, next, err := r.rdb.Scan(r.ctx, cursor, redisKeyPrefix+prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		raw = append(raw, keys...)
		if next == 0 {
			return stripSorted(raw), nil
		}
		cursor = next
	}
}

// stripSorted drops the namespace prefix and restores the sorted order
// Keys promises; SCAN itself gives no ordering.
func stripSorted(raw []string) []string {
	result := make([]string, 0, len(raw))
	for _, k := range raw {
		result = append(result, k[len(redisKeyPrefix):])
	}
	sort.Strings(result)
	return result
}

func (r *Redis) Ping() error {
	return r.rdb.Ping(r.ctx).Err()
}
