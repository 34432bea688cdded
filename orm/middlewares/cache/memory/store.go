package memory

import (
	"context"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Store 进程内的缓存，适合单实例
type Store struct {
	c *cache.Cache
}

// NewStore cleanup 是清理过期数据的间隔
func NewStore(cleanup time.Duration) *Store {
	return &Store{
		c: cache.New(cache.NoExpiration, cleanup),
	}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, ok := s.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	data, ok := val.([]byte)
	return data, ok, nil
}

func (s *Store) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	s.c.Set(key, val, ttl)
	return nil
}

func (s *Store) Version(ctx context.Context, table string) (int64, error) {
	val, ok := s.c.Get(versionKey(table))
	if !ok {
		return 0, nil
	}
	return val.(int64), nil
}

// Incr go-cache 的 IncrementInt64 要求 key 已经存在
func (s *Store) Incr(ctx context.Context, table string) error {
	key := versionKey(table)
	_ = s.c.Add(key, int64(0), cache.NoExpiration)
	_, err := s.c.IncrementInt64(key, 1)
	return err
}

func versionKey(table string) string {
	return "version:" + table
}
