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

// Package cursor persists the id of the last relayed message so the relay
// resumes where it stopped after a restart. Three backends are provided: a
// JSON file (default), a Redis key and a Postgres row.
package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when no valid cursor has been persisted.
// It is the normal first-run condition.
var ErrNotFound = errors.New("cursor not found")

// Store loads and saves the relay cursor.
type Store interface {
	Load(ctx context.Context) (int64, error)
	Save(ctx context.Context, id int64) error
}

// WriteError is returned when a cursor could not be persisted.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return "persist cursor: " + e.Err.Error() }
func (e *WriteError) Unwrap() error { return e.Err }

// document is the persisted JSON shape shared by the file and Redis backends.
type document struct {
	LastForwardedMailID *int64 `json:"last_forwarded_mail_id"`
}

func encode(id int64) ([]byte, error) {
	data, err := json.Marshal(document{LastForwardedMailID: &id})
	if err != nil {
		return nil, fmt.Errorf("marshal cursor: %w", err)
	}
	return data, nil
}

// decode parses a persisted document. Anything unparsable counts as absent.
func decode(data []byte) (int64, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil || doc.LastForwardedMailID == nil {
		return 0, ErrNotFound
	}
	return *doc.LastForwardedMailID, nil
}
