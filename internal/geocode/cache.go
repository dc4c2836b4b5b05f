package geocode

import (
	"context"
	"encoding/json"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"bitechat/internal/domain"
)

// Entry is a cached resolution. Found is false for locations the provider could
// not resolve, so repeated misses do not spend quota either.
type Entry struct {
	Coordinate domain.Coordinate `json:"coordinate"`
	Found      bool              `json:"found"`
}

// Cache stores resolutions by normalised location.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
}

// MemoryCache keeps entries in process.
type MemoryCache struct {
	c *cache.Cache
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{c: cache.New(ttl, ttl/2)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (Entry, bool, error) {
	if x, found := m.c.Get(key); found {
		return x.(Entry), true, nil
	}
	return Entry{}, false, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, e Entry) error {
	m.c.Set(key, e, cache.DefaultExpiration)
	return nil
}

// RedisCache shares entries between server processes.
type RedisCache struct {
	rdb      redis.UniversalClient
	keyspace string
	ttl      time.Duration
}

func NewRedisCache(rdb redis.UniversalClient, keyspace string, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, keyspace: keyspace, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := r.rdb.Get(ctx, r.keyspace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrap(err, "redis get")
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, errors.Wrap(err, "decode cached entry")
	}
	return e, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return errors.Wrap(r.rdb.Set(ctx, r.keyspace+key, data, r.ttl).Err(), "redis set")
}
