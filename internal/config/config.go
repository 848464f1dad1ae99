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

// Package config loads the relay settings file (YAML, or TOML when the path
// ends in .toml) and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/badoux/checkmail"
	"gopkg.in/yaml.v3"

	"github.com/webmailrelay/relay/internal/cursor"
)

// Cursor backends.
const (
	BackendFile     = cursor.BackendFile
	BackendRedis    = cursor.BackendRedis
	BackendPostgres = cursor.BackendPostgres
)

// DefaultPath is used when neither a flag nor CONFIG_PATH names a file.
const DefaultPath = "settings.yaml"

// WebmailConfig holds the remote inbox account.
type WebmailConfig struct {
	BaseURL  string
	Username string
	Password string
	Folder   string
}

// OAuthConfig holds OAuth client settings for SMTP OAUTHBEARER.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	RefreshToken string
}

// SMTPConfig holds the outbound transport settings.
type SMTPConfig struct {
	Server   string
	Port     int
	Username string
	Token    string
	Auth     string
	OAuth    OAuthConfig
}

// CursorConfig selects and configures the cursor backend.
type CursorConfig struct {
	Backend     string
	Path        string
	RedisURL    string
	RedisKey    string
	DatabaseURL string
}

// Options converts the cursor settings for cursor.Open.
func (c CursorConfig) Options() cursor.Options {
	return cursor.Options{
		Backend:     c.Backend,
		Path:        c.Path,
		RedisURL:    c.RedisURL,
		RedisKey:    c.RedisKey,
		DatabaseURL: c.DatabaseURL,
	}
}

// Config holds all configuration for the relay.
type Config struct {
	Webmail        WebmailConfig
	SMTP           SMTPConfig
	ForwardAddress string
	WebhookURL     string
	Cursor         CursorConfig

	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	MaxFailures   int

	OTLPEndpoint string
	HealthPort   int
}

// rawConfig mirrors the settings file for unmarshalling. Durations are kept
// as strings so YAML and TOML parse them the same way.
type rawConfig struct {
	Webmail struct {
		BaseURL  string `yaml:"base_url" toml:"base_url"`
		Username string `yaml:"username" toml:"username"`
		Password string `yaml:"password" toml:"password"`
		Folder   string `yaml:"folder" toml:"folder"`
	} `yaml:"webmail" toml:"webmail"`
	SMTP struct {
		Server   string `yaml:"server" toml:"server"`
		Port     int    `yaml:"port" toml:"port"`
		Username string `yaml:"username" toml:"username"`
		Token    string `yaml:"token" toml:"token"`
		Auth     string `yaml:"auth" toml:"auth"`
		OAuth    struct {
			ClientID     string `yaml:"client_id" toml:"client_id"`
			ClientSecret string `yaml:"client_secret" toml:"client_secret"`
			TokenURL     string `yaml:"token_url" toml:"token_url"`
			RefreshToken string `yaml:"refresh_token" toml:"refresh_token"`
		} `yaml:"oauth" toml:"oauth"`
	} `yaml:"smtp" toml:"smtp"`
	ForwardAddress string `yaml:"forward_address" toml:"forward_address"`
	WebhookURL     string `yaml:"webhook_url" toml:"webhook_url"`
	Cursor         struct {
		Backend     string `yaml:"backend" toml:"backend"`
		Path        string `yaml:"path" toml:"path"`
		RedisURL    string `yaml:"redis_url" toml:"redis_url"`
		RedisKey    string `yaml:"redis_key" toml:"redis_key"`
		DatabaseURL string `yaml:"database_url" toml:"database_url"`
	} `yaml:"cursor" toml:"cursor"`
	Relay struct {
		PollInterval  string `yaml:"poll_interval" toml:"poll_interval"`
		RetryAttempts *int   `yaml:"retry_attempts" toml:"retry_attempts"`
		RetryDelay    string `yaml:"retry_delay" toml:"retry_delay"`
		MaxFailures   int    `yaml:"max_failures" toml:"max_failures"`
	} `yaml:"relay" toml:"relay"`
	Telemetry struct {
		OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	} `yaml:"telemetry" toml:"telemetry"`
	HealthPort int `yaml:"health_port" toml:"health_port"`
}

// ResolvePath returns flagPath, else CONFIG_PATH, else DefaultPath.
func ResolvePath(flagPath string) string {
	return firstNonEmpty(flagPath, envOrDefault("CONFIG_PATH", DefaultPath))
}

// Load reads the settings file at path (with ${VAR} expansion), applies
// defaults and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	// Expand ${VAR} references before parsing
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &raw); err != nil {
			return nil, fmt.Errorf("parse config TOML: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	return build(&raw)
}

func build(raw *rawConfig) (*Config, error) {
	pollInterval, err := parseDuration("relay.poll_interval", raw.Relay.PollInterval, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	retryDelay, err := parseDuration("relay.retry_delay", raw.Relay.RetryDelay, 5*time.Second)
	if err != nil {
		return nil, err
	}
	retryAttempts := 3
	if raw.Relay.RetryAttempts != nil {
		retryAttempts = *raw.Relay.RetryAttempts
	}

	cfg := &Config{
		Webmail: WebmailConfig{
			BaseURL:  raw.Webmail.BaseURL,
			Username: raw.Webmail.Username,
			Password: raw.Webmail.Password,
			Folder:   firstNonEmpty(raw.Webmail.Folder, "default0/INBOX"),
		},
		SMTP: SMTPConfig{
			Server:   raw.SMTP.Server,
			Port:     raw.SMTP.Port,
			Username: raw.SMTP.Username,
			Token:    raw.SMTP.Token,
			Auth:     firstNonEmpty(strings.ToLower(raw.SMTP.Auth), "plain"),
			OAuth: OAuthConfig{
				ClientID:     raw.SMTP.OAuth.ClientID,
				ClientSecret: raw.SMTP.OAuth.ClientSecret,
				TokenURL:     raw.SMTP.OAuth.TokenURL,
				RefreshToken: raw.SMTP.OAuth.RefreshToken,
			},
		},
		ForwardAddress: strings.TrimSpace(raw.ForwardAddress),
		WebhookURL:     strings.TrimSpace(raw.WebhookURL),
		Cursor: CursorConfig{
			Backend:     firstNonEmpty(strings.ToLower(raw.Cursor.Backend), BackendFile),
			Path:        firstNonEmpty(raw.Cursor.Path, "last_forwarded.json"),
			RedisURL:    firstNonEmpty(raw.Cursor.RedisURL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
			RedisKey:    raw.Cursor.RedisKey,
			DatabaseURL: firstNonEmpty(raw.Cursor.DatabaseURL, os.Getenv("DATABASE_URL")),
		},
		PollInterval:  envOrDefaultDuration("POLL_INTERVAL", pollInterval),
		RetryAttempts: envOrDefaultInt("RETRY_ATTEMPTS", retryAttempts),
		RetryDelay:    envOrDefaultDuration("RETRY_DELAY", retryDelay),
		MaxFailures:   envOrDefaultInt("MAX_FAILURES", raw.Relay.MaxFailures),
		OTLPEndpoint:  firstNonEmpty(raw.Telemetry.OTLPEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")),
		HealthPort:    envOrDefaultInt("HEALTH_PORT", raw.HealthPort),
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	require := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	require("webmail.base_url", c.Webmail.BaseURL)
	require("webmail.username", c.Webmail.Username)
	require("webmail.password", c.Webmail.Password)
	require("smtp.server", c.SMTP.Server)
	require("smtp.username", c.SMTP.Username)
	require("forward_address", c.ForwardAddress)

	if c.ForwardAddress != "" {
		if err := checkmail.ValidateFormat(c.ForwardAddress); err != nil {
			errs = append(errs, fmt.Errorf("forward_address %q: %w", c.ForwardAddress, err))
		}
	}

	switch c.SMTP.Auth {
	case "plain":
		require("smtp.token", c.SMTP.Token)
	case "oauthbearer":
		require("smtp.oauth.token_url", c.SMTP.OAuth.TokenURL)
		require("smtp.oauth.client_id", c.SMTP.OAuth.ClientID)
		require("smtp.oauth.refresh_token", c.SMTP.OAuth.RefreshToken)
	default:
		errs = append(errs, fmt.Errorf("smtp.auth %q: must be plain or oauthbearer", c.SMTP.Auth))
	}

	switch c.Cursor.Backend {
	case BackendFile, BackendRedis:
	case BackendPostgres:
		require("cursor.database_url", c.Cursor.DatabaseURL)
	default:
		errs = append(errs, fmt.Errorf("cursor.backend %q: must be file, redis or postgres", c.Cursor.Backend))
	}

	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("relay.poll_interval must be positive"))
	}
	if c.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("relay.retry_attempts must not be negative"))
	}
	if c.MaxFailures < 1 {
		errs = append(errs, fmt.Errorf("relay.max_failures must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func parseDuration(name, v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
