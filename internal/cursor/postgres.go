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
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultCursorName identifies the single cursor row.
const DefaultCursorName = "inbox"

// PostgresStore keeps the cursor in the relay_cursors table.
type PostgresStore struct {
	pool *pgxpool.Pool
	name string
}

// NewPostgresStore creates a Postgres-backed cursor store and ensures the
// table exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, name string) (*PostgresStore, error) {
	if name == "" {
		name = DefaultCursorName
	}
	s := &PostgresStore{pool: pool, name: name}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure cursor schema: %w", err)
	}
	slog.Info("cursor postgres store initialised", "name", name)
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS relay_cursors (
			name                   TEXT PRIMARY KEY,
			last_forwarded_mail_id BIGINT NOT NULL,
			updated_at             TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// Load reads the cursor row. A missing row yields ErrNotFound.
func (s *PostgresStore) Load(ctx context.Context) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		SELECT last_forwarded_mail_id FROM relay_cursors WHERE name = $1
	`, s.name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	return id, nil
}

// Save upserts the cursor row in a single statement.
func (s *PostgresStore) Save(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relay_cursors (name, last_forwarded_mail_id)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET
			last_forwarded_mail_id = EXCLUDED.last_forwarded_mail_id,
			updated_at             = NOW()
	`, s.name, id)
	if err != nil {
		return &WriteError{Err: err}
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
