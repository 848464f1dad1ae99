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
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	Path        string
	RedisURL    string
	RedisKey    string
	DatabaseURL string
}

// Handle is an open Store that owns a resource (lock, client or pool).
type Handle interface {
	Store
	Close() error
}

// Open connects the configured backend. Connection problems are reported
// here rather than on the first Load.
func Open(ctx context.Context, opts Options) (Handle, error) {
	switch opts.Backend {
	case "", BackendFile:
		s, err := OpenFileStore(opts.Path)
		if err != nil {
			return nil, err
		}
		return s, nil

	case BackendRedis:
		opt, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		s := NewRedisStore(redis.NewClient(opt), opts.RedisKey)
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		slog.Info("cursor redis store opened", "key", s.key)
		return s, nil

	case BackendPostgres:
		pool, err := pgxpool.New(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("create postgres pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		s, err := NewPostgresStore(ctx, pool, DefaultCursorName)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown cursor backend %q", opts.Backend)
	}
}
