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
	"os"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "last_forwarded.json")
	s, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

// TestFileStore_LoadMissing verifies first run reports ErrNotFound.
func TestFileStore_LoadMissing(t *testing.T) {
	s, _ := openTestStore(t)

	_, err := s.Load(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// TestFileStore_SaveLoad verifies a saved cursor round-trips and the
// on-disk format matches the documented JSON shape.
func TestFileStore_SaveLoad(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{3, 5, 8} {
		if err := s.Save(ctx, id); err != nil {
			t.Fatalf("save %d: %v", id, err)
		}
	}

	id, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if id != 8 {
		t.Errorf("id = %d, want 8", id)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != `{"last_forwarded_mail_id":8}` {
		t.Errorf("file = %s", data)
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestFileStore_LoadCorrupt(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"garbage", "not json"},
		{"truncated", `{"last_forwarded_mail_id": `},
		{"missing field", `{"other": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, path := openTestStore(t)
			if err := os.WriteFile(path, []byte(tt.data), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := s.Load(context.Background())
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

// TestFileStore_LoadInt32File verifies files written by older relays load.
func TestFileStore_LoadInt32File(t *testing.T) {
	s, path := openTestStore(t)
	if err := os.WriteFile(path, []byte(`{ "last_forwarded_mail_id": 2147483647 }`), 0o644); err != nil {
		t.Fatal(err)
	}
	id, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if id != 2147483647 {
		t.Errorf("id = %d", id)
	}
}

// TestFileStore_SaveFailure verifies an unwritable directory yields a WriteError.
func TestFileStore_SaveFailure(t *testing.T) {
	s, path := openTestStore(t)
	s.path = filepath.Join(filepath.Dir(path), "missing-dir", "cursor.json")

	err := s.Save(context.Background(), 1)
	var writeErr *WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("err = %v, want *WriteError", err)
	}
}

// TestOpenFileStore_Exclusive verifies a second instance cannot open the
// same cursor file.
func TestOpenFileStore_Exclusive(t *testing.T) {
	_, path := openTestStore(t)

	if _, err := OpenFileStore(path); err == nil {
		t.Fatal("expected lock error for second instance")
	}
}
