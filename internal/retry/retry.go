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

// Package retry runs fallible operations with bounded re-attempts.
//
// The policy is deliberately coarse: every error is treated as transient.
// The webmail API reports an expired session and an outage the same way, so
// there is nothing reliable to classify on. Callers depend on Executor, so a
// classifying policy can be swapped in without touching them.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultAttempts is the number of re-attempts after the first call.
	DefaultAttempts = 3
	// DefaultDelay is the pause between attempts.
	DefaultDelay = 5 * time.Second
)

// Executor runs an operation under a retry policy.
type Executor interface {
	Do(ctx context.Context, op func(ctx context.Context) error) error
}

type opKey struct{}

// WithOp labels retries of operations run under ctx with name.
func WithOp(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, opKey{}, name)
}

func opName(ctx context.Context, fallback string) string {
	if name, ok := ctx.Value(opKey{}).(string); ok && name != "" {
		return name
	}
	return fallback
}

// Value runs op under ex and returns its result.
func Value[T any](ctx context.Context, ex Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := ex.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Fixed retries up to MaxAttempts times after the first call with a
// constant Delay between attempts. The error of the final attempt is
// returned unchanged.
type Fixed struct {
	MaxAttempts int
	Delay       time.Duration
	// Name labels log lines when ctx carries no WithOp name; optional.
	Name string
}

// Do implements Executor.
func (f Fixed) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := f.MaxAttempts
	if attempts < 0 {
		attempts = 0
	}

	name := opName(ctx, f.Name)
	n := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		n++
		return struct{}{}, op(ctx)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(f.Delay)),
		backoff.WithMaxTries(uint(attempts+1)),
		// Bounded by MaxTries alone; the default elapsed-time cap would cut
		// long delays short.
		backoff.WithMaxElapsedTime(24*time.Hour),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("operation failed, retrying",
				"op", name,
				"attempt", n,
				"max_attempts", attempts+1,
				"next_in", next,
				"error", err,
			)
		}),
	)
	return err
}
