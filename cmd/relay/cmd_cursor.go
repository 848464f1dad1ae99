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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/webmailrelay/relay/internal/cursor"
)

// newCursorCmd creates the "relay cursor" command group.
func newCursorCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or reset the relay cursor",
		Long: `The cursor is the id of the last message relayed. Messages with a
higher id are relayed on the next tick.

The file backend is locked while the relay runs; stop it first.`,
		Args: cobra.NoArgs,
		// Logs go to stderr so stdout carries only the cursor value.
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogging(stderr, debugFlag)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		newCursorShowCmd(stdout),
		newCursorSetCmd(stdout, stderr),
	)
	return cmd
}

// newCursorShowCmd creates the "relay cursor show" command.
func newCursorShowCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the persisted cursor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := cursor.Open(ctx, cfg.Cursor.Options())
			if err != nil {
				slog.Error("failed to open cursor store", "error", err)
				return errExit
			}
			defer store.Close()

			id, err := store.Load(ctx)
			switch {
			case errors.Is(err, cursor.ErrNotFound):
				fmt.Fprintln(stdout, "no cursor persisted; the next run seeds it to the newest message") //nolint:errcheck
				return nil
			case err != nil:
				slog.Error("failed to load cursor", "error", err)
				return errExit
			}
			fmt.Fprintf(stdout, "%d\n", id) //nolint:errcheck
			return nil
		},
	}
}

// newCursorSetCmd creates the "relay cursor set <id>" command.
func newCursorSetCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "set <id>",
		Short: "Overwrite the persisted cursor",
		Long: `Sets the id of the last relayed message. Lowering it makes the next
run relay the messages above it again; raising it skips messages.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id < 0 {
				fmt.Fprintf(stderr, "relay cursor set: invalid id %q\n", args[0]) //nolint:errcheck
				return errExit
			}

			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := cursor.Open(ctx, cfg.Cursor.Options())
			if err != nil {
				slog.Error("failed to open cursor store", "error", err)
				return errExit
			}
			defer store.Close()

			if err := store.Save(ctx, id); err != nil {
				slog.Error("failed to save cursor", "error", err)
				return errExit
			}
			fmt.Fprintf(stdout, "cursor set to %d\n", id) //nolint:errcheck
			return nil
		},
	}
}
