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
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileStore keeps the cursor in a JSON file. The file is replaced whole on
// every save (temp file + rename). An exclusive lock on "<path>.lock" keeps a
// second relay instance from sharing the same cursor.
type FileStore struct {
	path string
	lock *flock.Flock
}

// OpenFileStore opens a file-backed cursor store at path, creating parent
// directories as needed. It fails if another process holds the lock.
func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open cursor file store: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock cursor file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("cursor file %s is locked by another relay instance", path)
	}

	slog.Info("cursor file store opened", "path", path)
	return &FileStore{path: path, lock: lock}, nil
}

// Load reads the cursor. A missing or unparsable file yields ErrNotFound.
func (s *FileStore) Load(_ context.Context) (int64, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("read cursor file: %w", err)
	}

	id, err := decode(data)
	if err != nil {
		slog.Warn("cursor file unreadable, treating as absent", "path", s.path)
		return 0, err
	}
	return id, nil
}

// Save writes the cursor atomically.
func (s *FileStore) Save(_ context.Context, id int64) error {
	data, err := encode(id)
	if err != nil {
		return &WriteError{Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return &WriteError{Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &WriteError{Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &WriteError{Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &WriteError{Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return &WriteError{Err: err}
	}

	slog.Debug("cursor saved", "path", s.path, "id", id)
	return nil
}

// Close releases the instance lock.
func (s *FileStore) Close() error {
	return s.lock.Unlock()
}
