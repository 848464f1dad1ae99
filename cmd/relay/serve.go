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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/webmailrelay/relay/internal/config"
	"github.com/webmailrelay/relay/internal/cursor"
	"github.com/webmailrelay/relay/internal/mailer"
	"github.com/webmailrelay/relay/internal/notify"
	"github.com/webmailrelay/relay/internal/relay"
	"github.com/webmailrelay/relay/internal/retry"
	"github.com/webmailrelay/relay/internal/telemetry"
	"github.com/webmailrelay/relay/internal/webmail"
)

// metricsInterval is the OTLP export period.
const metricsInterval = 30 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the relay loop (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

// loadConfig resolves and loads the settings file.
func loadConfig() (*config.Config, error) {
	path := config.ResolvePath(configFlag)
	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("failed to load configuration", "path", path, "error", err)
		return nil, errExit
	}
	slog.Info("configuration loaded",
		"path", path,
		"cursor_backend", cfg.Cursor.Backend,
		"poll_interval", cfg.PollInterval,
		"max_failures", cfg.MaxFailures,
	)
	return cfg, nil
}

// serve wires every component and runs the loop until a signal arrives or
// the loop shuts itself down.
func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	slog.Info("starting webmail relay")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Metrics ---
	if cfg.OTLPEndpoint != "" {
		shutdown, err := telemetry.Init(ctx, cfg.OTLPEndpoint, metricsInterval)
		if err != nil {
			slog.Error("failed to initialise metrics", "error", err)
			return errExit
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				slog.Error("metrics shutdown error", "error", err)
			}
		}()
	}

	// --- Cursor Store ---
	store, err := cursor.Open(ctx, cfg.Cursor.Options())
	if err != nil {
		slog.Error("failed to open cursor store", "backend", cfg.Cursor.Backend, "error", err)
		return errExit
	}
	defer store.Close()

	// --- SMTP Mailer ---
	sender, err := newMailer(ctx, cfg)
	if err != nil {
		slog.Error("failed to configure mailer", "error", err)
		return errExit
	}

	loop := relay.NewLoop(relay.Config{
		Mailbox:  newWebmailClient(cfg),
		Store:    store,
		Retry:    retry.Fixed{MaxAttempts: cfg.RetryAttempts, Delay: cfg.RetryDelay},
		Notifier: newNotifier(cfg),
		Sender:   sender,

		Interval:    cfg.PollInterval,
		MaxFailures: cfg.MaxFailures,
	})

	// --- Health Check Server ---
	if cfg.HealthPort > 0 {
		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.HealthPort),
			Handler:      newHealthMux(loop, time.Now()),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("health server listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("health server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("health server shutdown error", "error", err)
			}
		}()
	}

	err = loop.Run(ctx)

	var shutdown *relay.Shutdown
	switch {
	case errors.As(err, &shutdown):
		slog.Error("relay stopped", "reason", shutdown.Reason, "error", shutdown.Err)
		return errExit
	case errors.Is(err, context.Canceled):
		slog.Info("received shutdown signal, relay stopped")
		return nil
	case err != nil:
		slog.Error("relay stopped unexpectedly", "error", err)
		return errExit
	}
	return nil
}

func newWebmailClient(cfg *config.Config) *webmail.Client {
	return webmail.NewClient(nil, webmail.Config{
		BaseURL:  cfg.Webmail.BaseURL,
		Username: cfg.Webmail.Username,
		Password: cfg.Webmail.Password,
		Folder:   cfg.Webmail.Folder,
	})
}

func newMailer(ctx context.Context, cfg *config.Config) (*mailer.Mailer, error) {
	mc := mailer.Config{
		Server:         cfg.SMTP.Server,
		Port:           cfg.SMTP.Port,
		Username:       cfg.SMTP.Username,
		Password:       cfg.SMTP.Token,
		ForwardAddress: cfg.ForwardAddress,
		Auth:           cfg.SMTP.Auth,
	}
	if cfg.SMTP.Auth == mailer.AuthOAuthBearer {
		mc.OAuth = &oauth2.Config{
			ClientID:     cfg.SMTP.OAuth.ClientID,
			ClientSecret: cfg.SMTP.OAuth.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.SMTP.OAuth.TokenURL},
		}
		mc.RefreshToken = cfg.SMTP.OAuth.RefreshToken
	}
	return mailer.New(ctx, mc)
}

func newNotifier(cfg *config.Config) notify.Notifier {
	if cfg.WebhookURL == "" {
		slog.Warn("no webhook_url configured, operator alerts go to the log only")
		return notify.Log{}
	}
	return notify.NewWebhook(nil, cfg.WebhookURL)
}

// progress is what the health endpoint needs from the loop.
type progress interface {
	LastSuccess() time.Time
	Interval() time.Duration
}

// newHealthMux reports 503 once no tick has succeeded for three intervals,
// counting from startedAt until the first success.
func newHealthMux(p progress, startedAt time.Time) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		last := p.LastSuccess()
		ref := last
		if ref.IsZero() {
			ref = startedAt
		}
		w.Header().Set("Content-Type", "application/json")
		if time.Since(ref) > 3*p.Interval() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status": "stale", "last_success": %q}`, formatTime(last)) //nolint:errcheck
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status": "healthy", "last_success": %q}`, formatTime(last)) //nolint:errcheck
	})
	return mux
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
