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

// Package relay runs the incremental relay loop: it keeps a webmail session,
// polls for the newest message id, relays every message above the persisted
// cursor in ascending order and escalates to the operator when the session
// cannot be restored.
//
// A tick relays messages strictly one at a time and persists the cursor after
// each one. A crash mid-range therefore leaves the cursor at the last fully
// relayed message: delivery is at-least-once with no gaps.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/webmailrelay/relay/internal/cursor"
	"github.com/webmailrelay/relay/internal/models"
	"github.com/webmailrelay/relay/internal/notify"
	"github.com/webmailrelay/relay/internal/retry"
	"github.com/webmailrelay/relay/internal/telemetry"
	"github.com/webmailrelay/relay/internal/webmail"
)

const (
	// DefaultInterval is the pause between ticks.
	DefaultInterval = 5 * time.Minute
	// DefaultMaxFailures is the consecutive failed-recovery budget.
	DefaultMaxFailures = 5
)

// Mailbox is the remote inbox. Implemented by webmail.Client.
type Mailbox interface {
	Login(ctx context.Context) (webmail.Session, error)
	TotalMessageCount(ctx context.Context, session webmail.Session) (int64, error)
	FetchMessage(ctx context.Context, session webmail.Session, id int64) (*models.RemoteMessage, error)
}

// Sender delivers a relayed email. Implemented by mailer.Mailer.
type Sender interface {
	Send(ctx context.Context, email *models.RelayableEmail) error
}

// Shutdown is the terminal result of Run when the relay cannot continue.
// The caller decides how to exit.
type Shutdown struct {
	Reason string
	Err    error
}

func (s *Shutdown) Error() string {
	if s.Err == nil {
		return "relay shutting down: " + s.Reason
	}
	return fmt.Sprintf("relay shutting down: %s: %v", s.Reason, s.Err)
}

func (s *Shutdown) Unwrap() error { return s.Err }

// Config holds the dependencies and tuning of a Loop.
type Config struct {
	Mailbox  Mailbox
	Store    cursor.Store
	Retry    retry.Executor
	Notifier notify.Notifier
	Sender   Sender

	Interval    time.Duration
	MaxFailures int
}

// Loop is the relay state machine.
type Loop struct {
	mailbox  Mailbox
	store    cursor.Store
	retry    retry.Executor
	notifier notify.Notifier
	sender   Sender

	interval    time.Duration
	maxFailures int

	// sleep waits between ticks; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	lastSuccess atomic.Int64 // unix nanos of the last successful tick
}

// state is everything a running loop mutates. It is owned by Run and passed
// by pointer to each step.
type state struct {
	session  webmail.Session
	cursor   int64
	failures int
}

// NewLoop creates a relay loop.
func NewLoop(cfg Config) *Loop {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	n := cfg.Notifier
	if n == nil {
		n = notify.Log{}
	}
	ex := cfg.Retry
	if ex == nil {
		ex = retry.Fixed{MaxAttempts: retry.DefaultAttempts, Delay: retry.DefaultDelay}
	}
	return &Loop{
		mailbox:     cfg.Mailbox,
		store:       cfg.Store,
		retry:       ex,
		notifier:    n,
		sender:      cfg.Sender,
		interval:    interval,
		maxFailures: maxFailures,
		sleep:       sleepContext,
	}
}

// LastSuccess returns the time of the last successful tick, or the zero
// time if none has succeeded yet. Safe for concurrent use.
func (l *Loop) LastSuccess() time.Time {
	n := l.lastSuccess.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Interval returns the pause between ticks.
func (l *Loop) Interval() time.Duration { return l.interval }

// Run authenticates, establishes the cursor and then ticks until ctx is
// cancelled (returning ctx.Err()) or recovery is exhausted (returning a
// *Shutdown). Ticks never overlap: the next one starts only after the
// previous tick and its sleep have finished.
func (l *Loop) Run(ctx context.Context) error {
	st, err := l.start(ctx)
	if err != nil {
		return err
	}

	slog.Info("relay loop started",
		"cursor", st.cursor,
		"interval", l.interval,
		"max_failures", l.maxFailures,
	)

	for {
		if err := l.tick(ctx, st); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("relay tick failed", "cursor", st.cursor, "error", err)
			if err := l.recoverSession(ctx, st); err != nil {
				return err
			}
		} else {
			st.failures = 0
			l.lastSuccess.Store(time.Now().UnixNano())
		}

		if err := l.sleep(ctx, l.interval); err != nil {
			slog.Info("relay loop stopping", "cursor", st.cursor)
			return err
		}
	}
}

// start obtains the first session and the starting cursor. Every failure
// here is terminal: there is no sensible default starting point.
func (l *Loop) start(ctx context.Context) (*state, error) {
	st := &state{}

	session, err := retry.Value(retry.WithOp(ctx, "login"), l.retry, l.mailbox.Login)
	if err != nil {
		return nil, l.shutdownAtStartup(ctx, "initial login failed", err)
	}
	st.session = session

	id, err := l.store.Load(ctx)
	switch {
	case err == nil:
		st.cursor = id
		slog.Info("cursor loaded", "cursor", id)
	case errors.Is(err, cursor.ErrNotFound):
		total, err := retry.Value(retry.WithOp(ctx, "list"), l.retry, func(ctx context.Context) (int64, error) {
			return l.mailbox.TotalMessageCount(ctx, st.session)
		})
		if err != nil {
			return nil, l.shutdownAtStartup(ctx, "could not read newest message id to seed cursor", err)
		}
		if err := l.store.Save(ctx, total); err != nil {
			return nil, l.shutdownAtStartup(ctx, "could not persist seeded cursor", err)
		}
		st.cursor = total
		slog.Info("cursor seeded, only new messages will be relayed", "cursor", total)
	default:
		return nil, l.shutdownAtStartup(ctx, "could not load cursor", err)
	}

	telemetry.RecordCursor(ctx, st.cursor)
	return st, nil
}

// tick relays every message in (cursor, total] in ascending order.
func (l *Loop) tick(ctx context.Context, st *state) (err error) {
	began := time.Now()
	relayed := 0
	defer func() { telemetry.RecordTick(ctx, relayed, time.Since(began), err) }()

	total, err := retry.Value(retry.WithOp(ctx, "list"), l.retry, func(ctx context.Context) (int64, error) {
		return l.mailbox.TotalMessageCount(ctx, st.session)
	})
	if err != nil {
		return fmt.Errorf("read newest message id: %w", err)
	}

	if total <= st.cursor {
		slog.Debug("no new messages", "cursor", st.cursor, "newest", total)
		return nil
	}

	slog.Info("new messages found", "cursor", st.cursor, "newest", total, "count", total-st.cursor)

	for id := st.cursor + 1; id <= total; id++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.relayOne(ctx, st, id); err != nil {
			return err
		}
		relayed++
	}

	slog.Info("relay tick complete", "relayed", relayed, "cursor", st.cursor)
	return nil
}

// relayOne fetches, projects and sends one message, then advances and
// persists the cursor. The cursor only moves after the send succeeded.
func (l *Loop) relayOne(ctx context.Context, st *state, id int64) error {
	msg, err := retry.Value(retry.WithOp(ctx, "fetch"), l.retry, func(ctx context.Context) (*models.RemoteMessage, error) {
		return l.mailbox.FetchMessage(ctx, st.session, id)
	})
	if err != nil {
		return fmt.Errorf("fetch message %d: %w", id, err)
	}

	email, err := models.NewRelayableEmail(id, msg)
	if err != nil {
		return &webmail.FetchError{Op: fmt.Sprintf("get %d", id), Err: err}
	}

	if err := l.sender.Send(ctx, email); err != nil {
		telemetry.RecordRelay(ctx, err)
		return err
	}
	telemetry.RecordRelay(ctx, nil)

	st.cursor = id
	telemetry.RecordCursor(ctx, id)

	if err := l.store.Save(ctx, id); err != nil {
		// The in-memory cursor stays correct for this process; only a restart
		// before the next successful save would relay this message again.
		slog.Error("failed to persist cursor", "cursor", id, "error", err)
		l.alert(ctx, "write", fmt.Sprintf("Webmail relay could not persist progress at message %d: %v", id, err))
	}
	return nil
}

// recoverSession treats any unrecovered tick failure as session expiry and
// logs in again. It returns a *Shutdown once the failure budget is spent.
func (l *Loop) recoverSession(ctx context.Context, st *state) error {
	session, err := retry.Value(retry.WithOp(ctx, "relogin"), l.retry, l.mailbox.Login)
	telemetry.RecordRelogin(ctx, err)
	if err == nil {
		st.session = session
		slog.Info("webmail session renewed", "consecutive_failures", st.failures)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	st.failures++
	slog.Error("webmail re-login failed",
		"consecutive_failures", st.failures,
		"max_failures", l.maxFailures,
		"error", err,
	)
	l.alert(ctx, "failure", fmt.Sprintf(
		"Webmail relay cannot log in (%d/%d consecutive failures): %v",
		st.failures, l.maxFailures, err,
	))

	if st.failures >= l.maxFailures {
		l.alert(ctx, "shutdown", fmt.Sprintf(
			"Webmail relay shutting down after %d consecutive failures. Last relayed message: %d",
			st.failures, st.cursor,
		))
		return &Shutdown{Reason: fmt.Sprintf("%d consecutive failures", st.failures), Err: err}
	}
	return nil
}

// shutdownAtStartup alerts the operator and builds the terminal result.
func (l *Loop) shutdownAtStartup(ctx context.Context, reason string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	slog.Error("relay cannot start", "reason", reason, "error", err)
	l.alert(ctx, "shutdown", fmt.Sprintf("Webmail relay shutting down at startup: %s: %v", reason, err))
	return &Shutdown{Reason: reason, Err: err}
}

// alert sends a best-effort notification. A failed alert is only logged.
func (l *Loop) alert(ctx context.Context, kind, message string) {
	err := l.notifier.Notify(ctx, message)
	telemetry.RecordAlert(ctx, kind, err)
	if err != nil {
		slog.Error("operator alert failed", "kind", kind, "message", message, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
