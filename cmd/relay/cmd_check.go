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
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/webmailrelay/relay/internal/retry"
)

// newCheckCmd creates the "relay check" command.
func newCheckCmd(stdout io.Writer) *cobra.Command {
	var sendAlert bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify settings and webmail credentials",
		Long: `Loads the settings, logs in to the webmail service and reports the
newest message id. Nothing is relayed and the cursor is not touched.

With --alert a test message is posted to the configured webhook.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := newMailer(ctx, cfg); err != nil {
				slog.Error("mailer settings invalid", "error", err)
				return errExit
			}

			client := newWebmailClient(cfg)
			ex := retry.Fixed{MaxAttempts: cfg.RetryAttempts, Delay: cfg.RetryDelay, Name: "check"}

			session, err := retry.Value(ctx, ex, client.Login)
			if err != nil {
				slog.Error("webmail login failed", "error", err)
				return errExit
			}
			newest, err := client.TotalMessageCount(ctx, session)
			if err != nil {
				slog.Error("failed to read newest message id", "error", err)
				return errExit
			}
			fmt.Fprintf(stdout, "webmail login ok, folder %s, newest message id %d\n", cfg.Webmail.Folder, newest) //nolint:errcheck

			if sendAlert {
				if err := newNotifier(cfg).Notify(ctx, "Webmail relay check: alerts are working"); err != nil {
					slog.Error("test alert failed", "error", err)
					return errExit
				}
				fmt.Fprintln(stdout, "test alert sent") //nolint:errcheck
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sendAlert, "alert", false, "post a test alert to the webhook")
	return cmd
}
