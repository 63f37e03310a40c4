// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "mdsaad:cache:"

// redisCmder is the slice of go-redis this backend needs. Tests substitute
// a fake; production wires *redis.Client.
type redisCmder interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Close() error
}

// RedisBackend mirrors entries into redis under mdsaad:cache:<ns>:<hash>,
// delegating TTL enforcement to redis itself via PX. Useful when several
// machines share one cache; the default stays the file backend.
type RedisBackend struct {
	c redisCmder
}

// NewRedisBackend connects a backend to the redis instance at addr.
func NewRedisBackend(addr string) *RedisBackend {
	return &RedisBackend{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func redisKey(ns, hash string) string {
	return redisKeyPrefix + ns + ":" + hash
}

func (r *RedisBackend) Persist(ctx context.Context, ns, hash string, e PersistedEntry) error {
	remaining := time.Until(time.UnixMilli(e.CreatedAt).Add(time.Duration(e.TTLMillis) * time.Millisecond))
	if remaining <= 0 {
		return nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.c.Set(ctx, redisKey(ns, hash), b, remaining).Err()
}

func (r *RedisBackend) Remove(ctx context.Context, ns, hash string) error {
	return r.c.Del(ctx, redisKey(ns, hash)).Err()
}

func (r *RedisBackend) RemoveNamespace(ctx context.Context, ns string) error {
	return r.removeByPattern(ctx, redisKeyPrefix+ns+":*")
}

func (r *RedisBackend) RemoveAll(ctx context.Context) error {
	return r.removeByPattern(ctx, redisKeyPrefix+"*")
}

func (r *RedisBackend) removeByPattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := r.c.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.c.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Load scans the key prefix and decodes every entry. Undecodable values
// are deleted, matching the file backend's corrupt-entry rule. Redis
// already dropped anything whose PX expired.
func (r *RedisBackend) Load(ctx context.Context) (map[string]map[string]PersistedEntry, error) {
	out := make(map[string]map[string]PersistedEntry)
	var cursor uint64
	for {
		keys, next, err := r.c.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			rest := strings.TrimPrefix(key, redisKeyPrefix)
			sep := strings.LastIndex(rest, ":")
			if sep <= 0 {
				continue
			}
			ns, hash := rest[:sep], rest[sep+1:]

			raw, err := r.c.Get(ctx, key).Bytes()
			if err != nil {
				continue // expired between scan and get
			}
			var pe PersistedEntry
			if err := json.Unmarshal(raw, &pe); err != nil || pe.TTLMillis <= 0 {
				_ = r.c.Del(ctx, key).Err()
				continue
			}
			if out[ns] == nil {
				out[ns] = make(map[string]PersistedEntry)
			}
			out[ns][hash] = pe
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func (r *RedisBackend) Close() error { return r.c.Close() }
