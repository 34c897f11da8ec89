package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps entries as plain keys "<prefix>:<ns>:<key>" without expiry.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis wraps an existing client. An empty prefix defaults to "frenchcities".
func NewRedis(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "frenchcities"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// OpenRedis connects to addr and checks the connection.
func OpenRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return NewRedis(rdb, ""), nil
}

func (s *RedisStore) key(ns, key string) string {
	return s.prefix + ":" + ns + ":" + key
}

func (s *RedisStore) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	v, err := s.rdb.Get(ctx, s.key(ns, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, ns, key string, value []byte) error {
	return s.rdb.Set(ctx, s.key(ns, key), value, 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, ns, key string) error {
	return s.rdb.Del(ctx, s.key(ns, key)).Err()
}

// Clear scans the namespace prefix and deletes matching keys in batches.
func (s *RedisStore) Clear(ctx context.Context, ns string) error {
	var cursor uint64
	match := s.key(ns, "*")
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, match, 500).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
