package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type StoreOption func(store *Store)

type Store struct {
	prefix string // redis 中 key 的前缀
	client redis.Cmdable
}

func NewStore(client redis.Cmdable, opts ...StoreOption) *Store {
	res := &Store{
		client: client,
		prefix: "orm",
	}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

func WithPrefix(prefix string) StoreOption {
	return func(store *Store) {
		store.prefix = prefix
	}
}

func (s *Store) key(key string) string {
	return fmt.Sprintf("%s_%s", s.prefix, key)
}

func (s *Store) versionKey(table string) string {
	return fmt.Sprintf("%s_version_%s", s.prefix, table)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *Store) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), val, ttl).Err()
}

func (s *Store) Version(ctx context.Context, table string) (int64, error) {
	v, err := s.client.Get(ctx, s.versionKey(table)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (s *Store) Incr(ctx context.Context, table string) error {
	return s.client.Incr(ctx, s.versionKey(table)).Err()
}
