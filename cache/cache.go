/*
Copyright 2025 Soko Market Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cache fronts redis with a small in-process TinyLFU tier. The
// datasource uses it to keep the per-order credential lookups off the
// database while a scanning UI polls.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"

	"github.com/sokomarket/soko/config"
	redis_db "github.com/sokomarket/soko/internal/redis-db"
)

const (
	localCacheSize = 10000
	localCacheTTL  = time.Minute
)

type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, data interface{}) error
	Delete(ctx context.Context, key string) error
}

// NewCache builds the two-tier cache from the configured redis address.
func NewCache() (Cache, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	client, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", cfg.Redis.Dns)})
	if err != nil {
		return nil, err
	}

	return &redisCache{
		cache: cache.New(&cache.Options{
			Redis:      client.Client(),
			LocalCache: cache.NewTinyLFU(localCacheSize, localCacheTTL),
		}),
	}, nil
}

type redisCache struct {
	cache *cache.Cache
}

func (r *redisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

// Get decodes the cached value into data. A miss is not an error; callers
// treat an untouched destination as absent.
func (r *redisCache) Get(ctx context.Context, key string, data interface{}) error {
	err := r.cache.Get(ctx, key, &data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}

func (r *redisCache) Delete(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}
