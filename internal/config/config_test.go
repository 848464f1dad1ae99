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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
webmail:
  base_url: https://mail.example.edu/api
  username: student
  password: ${TEST_WEBMAIL_PASSWORD}
smtp:
  server: smtp.example.com
  username: relay@example.com
  token: app-token
forward_address: me@example.org
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// TestLoad_YAMLDefaults verifies defaults and ${VAR} expansion.
func TestLoad_YAMLDefaults(t *testing.T) {
	t.Setenv("TEST_WEBMAIL_PASSWORD", "hunter2")

	cfg, err := Load(writeFile(t, "settings.yaml", minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Webmail.Password != "hunter2" {
		t.Errorf("password = %q, want expanded value", cfg.Webmail.Password)
	}
	if cfg.Webmail.Folder != "default0/INBOX" {
		t.Errorf("folder = %q", cfg.Webmail.Folder)
	}
	if cfg.SMTP.Auth != "plain" {
		t.Errorf("auth = %q, want plain", cfg.SMTP.Auth)
	}
	if cfg.Cursor.Backend != BackendFile || cfg.Cursor.Path != "last_forwarded.json" {
		t.Errorf("cursor = %+v", cfg.Cursor)
	}
	if cfg.PollInterval != 5*time.Minute {
		t.Errorf("poll interval = %v", cfg.PollInterval)
	}
	if cfg.RetryAttempts != 3 || cfg.RetryDelay != 5*time.Second {
		t.Errorf("retry = %d / %v", cfg.RetryAttempts, cfg.RetryDelay)
	}
	if cfg.MaxFailures != 5 {
		t.Errorf("max failures = %d", cfg.MaxFailures)
	}
}

// TestLoad_TOML verifies the TOML format is chosen by extension.
func TestLoad_TOML(t *testing.T) {
	content := `
forward_address = "me@example.org"

[webmail]
base_url = "https://mail.example.edu/api"
username = "student"
password = "pw"

[smtp]
server = "smtp.example.com"
port = 587
username = "relay@example.com"
token = "t"

[cursor]
backend = "redis"
redis_key = "relay:test"

[relay]
poll_interval = "30s"
retry_attempts = 0
max_failures = 2
`
	cfg, err := Load(writeFile(t, "settings.toml", content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SMTP.Port != 587 {
		t.Errorf("port = %d", cfg.SMTP.Port)
	}
	if cfg.Cursor.Backend != BackendRedis || cfg.Cursor.RedisKey != "relay:test" {
		t.Errorf("cursor = %+v", cfg.Cursor)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("poll interval = %v", cfg.PollInterval)
	}
	if cfg.RetryAttempts != 0 {
		t.Errorf("retry attempts = %d, want explicit 0", cfg.RetryAttempts)
	}
	if cfg.MaxFailures != 2 {
		t.Errorf("max failures = %d", cfg.MaxFailures)
	}
}

// TestLoad_EnvOverrides verifies environment variables win over the file.
func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TEST_WEBMAIL_PASSWORD", "pw")
	t.Setenv("POLL_INTERVAL", "1m")
	t.Setenv("MAX_FAILURES", "9")
	t.Setenv("HEALTH_PORT", "8081")

	cfg, err := Load(writeFile(t, "settings.yaml", minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollInterval != time.Minute || cfg.MaxFailures != 9 || cfg.HealthPort != 8081 {
		t.Errorf("overrides not applied: %v %d %d", cfg.PollInterval, cfg.MaxFailures, cfg.HealthPort)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing fields",
			content: "forward_address: me@example.org\n",
			wantErr: "webmail.base_url is required",
		},
		{
			name:    "bad forward address",
			content: strings.Replace(minimalYAML, "me@example.org", "not-an-address", 1),
			wantErr: "forward_address",
		},
		{
			name:    "unknown backend",
			content: minimalYAML + "cursor:\n  backend: sqlite\n",
			wantErr: "cursor.backend",
		},
		{
			name:    "postgres without url",
			content: minimalYAML + "cursor:\n  backend: postgres\n",
			wantErr: "cursor.database_url is required",
		},
		{
			name:    "oauth without client",
			content: strings.Replace(minimalYAML, "token: app-token", "auth: oauthbearer", 1),
			wantErr: "smtp.oauth.token_url is required",
		},
		{
			name:    "bad duration",
			content: minimalYAML + "relay:\n  poll_interval: soon\n",
			wantErr: "relay.poll_interval",
		},
		{
			name:    "not yaml",
			content: "webmail: [",
			wantErr: "parse config YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_WEBMAIL_PASSWORD", "pw")
			t.Setenv("DATABASE_URL", "")
			_, err := Load(writeFile(t, "settings.yaml", tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

// TestLoad_MissingFile verifies the read error names the path.
func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "absent.yaml") {
		t.Fatalf("err = %v", err)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	if got := ResolvePath(""); got != DefaultPath {
		t.Errorf("ResolvePath() = %q, want %q", got, DefaultPath)
	}
	t.Setenv("CONFIG_PATH", "/etc/relay.yaml")
	if got := ResolvePath(""); got != "/etc/relay.yaml" {
		t.Errorf("ResolvePath() = %q", got)
	}
	if got := ResolvePath("local.toml"); got != "local.toml" {
		t.Errorf("ResolvePath(flag) = %q", got)
	}
}
