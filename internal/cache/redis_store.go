package cache

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
)

// RedisStore is a Store on Redis. Tags are kept as Redis sets of member keys.
type RedisStore struct {
	redis  *RedisClient
	tagTTL time.Duration
}

// NewRedisStore creates a Redis backed store
func NewRedisStore(client *RedisClient) *RedisStore {
	return &RedisStore{
		redis:  client,
		tagTTL: DefaultTagTTL,
	}
}

// Get returns the value stored under key
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.redis.Client().Get(ctx, key).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, errors.NewCacheUnavailableError("get").WithCause(err)
	}
	return val, true, nil
}

// Set stores value under key for ttl and indexes it under every tag
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	tagTTL := s.tagTTL
	if ttl > tagTTL {
		tagTTL = ttl
	}

	_, err := s.redis.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, value, ttl)
		for _, tag := range tags {
			pipe.SAdd(ctx, tagKey(tag), key)
			pipe.Expire(ctx, tagKey(tag), tagTTL)
		}
		return nil
	})
	if err != nil {
		return errors.NewCacheUnavailableError("set").WithCause(err)
	}
	return nil
}

// Delete removes key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Client().Del(ctx, key).Err(); err != nil {
		return errors.NewCacheUnavailableError("delete").WithCause(err)
	}
	return nil
}

// InvalidateTag deletes every key indexed under tag together with the index
func (s *RedisStore) InvalidateTag(ctx context.Context, tag string) (int64, error) {
	members, err := s.redis.Client().SMembers(ctx, tagKey(tag)).Result()
	if err != nil {
		return 0, errors.NewCacheUnavailableError("invalidate").WithCause(err)
	}

	if len(members) == 0 {
		return 0, nil
	}

	var removed *redis.IntCmd
	_, err = s.redis.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, members...)
		pipe.Del(ctx, tagKey(tag))
		return nil
	})
	if err != nil {
		return 0, errors.NewCacheUnavailableError("invalidate").WithCause(err)
	}
	return removed.Val(), nil
}

// Health pings Redis
func (s *RedisStore) Health(ctx context.Context) error {
	return s.redis.Health(ctx)
}
