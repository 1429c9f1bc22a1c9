//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2026 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of SpecIndex.
//
// SpecIndex is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SpecIndex is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with SpecIndex. If not, see https://www.gnu.org/licenses/.

// Command specindex loads specimen catalog exports into a search index.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// exitError carries a process exit code out of a command's RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "specindex",
		Short: "Load specimen catalog CSV exports into a search index",
		Long: `specindex streams a gzipped CSV export of specimen records,
coerces each row against the fixed specimen schema, and bulk-upserts the
resulting documents into Elasticsearch or MongoDB. Interrupted runs can
resume from a durable checkpoint without duplicating documents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newLoadCommand())
	cmd.AddCommand(newPreviewCommand())
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				fmt.Fprintln(os.Stderr, "specindex:", ee.err)
			}
			stop()
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "specindex:", err)
		stop()
		os.Exit(2)
	}
}
