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

// Package notify delivers short operator alerts. Delivery is best effort:
// callers log a failed alert and carry on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single webhook delivery.
const DefaultTimeout = 10 * time.Second

// Notifier sends an alert to an operator-facing channel.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// NotifyError is returned when an alert could not be delivered.
type NotifyError struct {
	Err error
}

func (e *NotifyError) Error() string { return "notify: " + e.Err.Error() }
func (e *NotifyError) Unwrap() error { return e.Err }

// Webhook posts {"content": "<message>"} to a URL. The payload is what
// Discord-style chat webhooks accept.
type Webhook struct {
	httpClient *http.Client
	url        string
	timeout    time.Duration
}

// NewWebhook creates a webhook notifier. A nil httpClient uses http.DefaultClient.
func NewWebhook(httpClient *http.Client, url string) *Webhook {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Webhook{httpClient: httpClient, url: url, timeout: DefaultTimeout}
}

type webhookPayload struct {
	Content string `json:"content"`
}

// Notify implements Notifier.
func (w *Webhook) Notify(ctx context.Context, message string) error {
	body, err := json.Marshal(webhookPayload{Content: message})
	if err != nil {
		return &NotifyError{Err: fmt.Errorf("marshal payload: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return &NotifyError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return &NotifyError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &NotifyError{Err: fmt.Errorf("webhook returned HTTP %d: %s", resp.StatusCode, string(respBody))}
	}

	slog.Info("operator alert sent", "message", message)
	return nil
}

// Log only writes alerts to the log. Used when no webhook is configured.
type Log struct{}

// Notify implements Notifier.
func (Log) Notify(_ context.Context, message string) error {
	slog.Warn("operator alert (no webhook configured)", "message", message)
	return nil
}
