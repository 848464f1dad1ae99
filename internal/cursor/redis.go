// Copyright (c) 2026 John Earle
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

package cursor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key the cursor document is stored under.
const DefaultRedisKey = "relay:cursor"

// RedisStore keeps the cursor document in a single Redis key. SET replaces
// the value atomically.
type RedisStore struct {
	rdb *redis.Client
	key string
}

// NewRedisStore creates a Redis-backed cursor store.
func NewRedisStore(rdb *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{rdb: rdb, key: key}
}

// Load reads the cursor. A missing key or unparsable value yields ErrNotFound.
func (s *RedisStore) Load(ctx context.Context) (int64, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis GET %s: %w", s.key, err)
	}
	return decode(data)
}

// Save writes the cursor document with no expiry.
func (s *RedisStore) Save(ctx context.Context, id int64) error {
	data, err := encode(id)
	if err != nil {
		return &WriteError{Err: err}
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return &WriteError{Err: fmt.Errorf("redis SET %s: %w", s.key, err)}
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
